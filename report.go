package gpuwaste

import (
	"cmp"
	"errors"
	"slices"

	"github.com/gogpu/gpuwaste/capture"
)

// Report is the immutable result of one analysis run.
//
// TotalWastedBandwidth is the sum of the costs of UnusedVertexAttribute
// findings. UnusedBindingCount is the number of UnusedBinding findings.
// DrawsWithWaste counts the distinct draws carrying at least one finding.
// TotalDraws counts the draws whose inspection completed; skipped draws are
// counted separately in SkippedDraws.
type Report struct {
	TotalWastedBandwidth uint64 `json:"totalWastedBandwidth" yaml:"totalWastedBandwidth"`
	UnusedBindingCount   int    `json:"unusedBindingCount" yaml:"unusedBindingCount"`
	DrawsWithWaste       int    `json:"drawsWithWaste" yaml:"drawsWithWaste"`
	TotalDraws           int    `json:"totalDraws" yaml:"totalDraws"`
	SkippedDraws         int    `json:"skippedDraws" yaml:"skippedDraws"`

	// Truncated is set when the run stopped early because its context was
	// cancelled or timed out. The counts above cover the draws processed.
	Truncated bool `json:"truncated" yaml:"truncated"`

	// Findings are ordered by draw index, then by stage.
	Findings []Finding `json:"findings" yaml:"findings"`

	Diagnostics []Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Sections    []Section    `json:"sections,omitempty" yaml:"sections,omitempty"`

	err error
}

// Err returns the diagnostics combined into one error, or nil when the run
// had none.
func (r *Report) Err() error {
	return r.err
}

// Clean reports whether every draw was inspected and the run completed.
func (r *Report) Clean() bool {
	return !r.Truncated && r.SkippedDraws == 0 && len(r.Diagnostics) == 0
}

// FindingsOf returns the findings of the given kind, in report order.
func (r *Report) FindingsOf(kind FindingKind) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Section returns the section produced by the named detector.
func (r *Report) Section(detector string) (*Section, bool) {
	for i := range r.Sections {
		if r.Sections[i].Detector == detector {
			return &r.Sections[i], true
		}
	}
	return nil, false
}

// Diagnostic records a draw that was skipped or a detector summary that
// failed.
type Diagnostic struct {
	// Draw is nil for diagnostics not tied to a draw.
	Draw     *DrawRef `json:"draw,omitempty" yaml:"draw,omitempty"`
	Detector string   `json:"detector,omitempty" yaml:"detector,omitempty"`
	Message  string   `json:"message" yaml:"message"`

	Err error `json:"-" yaml:"-"`
}

// ReadError returns the capture read error behind the diagnostic, if any.
func (d *Diagnostic) ReadError() (*capture.CaptureReadError, bool) {
	var re *capture.CaptureReadError
	if errors.As(d.Err, &re) {
		return re, true
	}
	return nil, false
}

// Unit qualifies a metric or entry value.
type Unit string

const (
	UnitCount   Unit = "count"
	UnitBytes   Unit = "bytes"
	UnitRatio   Unit = "ratio"
	UnitPercent Unit = "percent"
	UnitPixels  Unit = "pixels"
)

// Section is the summary one auxiliary detector contributes to a report.
type Section struct {
	Detector string   `json:"detector" yaml:"detector"`
	Title    string   `json:"title" yaml:"title"`
	Metrics  []Metric `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Entries  []Entry  `json:"entries,omitempty" yaml:"entries,omitempty"`
}

// Metric is a named scalar of a section.
type Metric struct {
	Key   string  `json:"key" yaml:"key"`
	Label string  `json:"label" yaml:"label"`
	Value float64 `json:"value" yaml:"value"`
	Unit  Unit    `json:"unit" yaml:"unit"`
}

// Metric returns the metric with the given key.
func (s *Section) Metric(key string) (Metric, bool) {
	for _, m := range s.Metrics {
		if m.Key == key {
			return m, true
		}
	}
	return Metric{}, false
}

// Entry is one line of a section's detail list.
type Entry struct {
	Label   string          `json:"label" yaml:"label"`
	EventID capture.EventID `json:"event,omitempty" yaml:"event,omitempty"`
	Value   float64         `json:"value" yaml:"value"`
	Unit    Unit            `json:"unit" yaml:"unit"`
	Detail  string          `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// sortEntries orders entries by value, largest first, breaking ties by
// event and label so that the order does not depend on scheduling.
func sortEntries(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		if c := cmp.Compare(a.EventID, b.EventID); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
}

// topEntries sorts entries and keeps the first n.
func topEntries(entries []Entry, n int) []Entry {
	sortEntries(entries)
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func countMetric(key, label string, v int) Metric {
	return Metric{Key: key, Label: label, Value: float64(v), Unit: UnitCount}
}

func bytesMetric(key, label string, v uint64) Metric {
	return Metric{Key: key, Label: label, Value: float64(v), Unit: UnitBytes}
}
