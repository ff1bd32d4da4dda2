package gpuwaste

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"
)

// Aggregator collects findings from concurrent inspections and folds them
// into a Report. It is safe for concurrent use. Finalize may be called
// once; the Aggregator must not be used afterwards.
type Aggregator struct {
	mu          sync.Mutex
	findings    []Finding
	draws       int
	skipped     int
	diagnostics []Diagnostic
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add records the findings of one fully inspected draw.
func (a *Aggregator) Add(draw *DrawCallRecord, findings []Finding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.draws++
	a.findings = append(a.findings, findings...)
}

// Skip records a draw whose data could not be read. None of its findings
// are kept.
func (a *Aggregator) Skip(draw *DrawCallRecord, detector string, err error) {
	ref := draw.Ref()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.skipped++
	a.diagnostics = append(a.diagnostics, Diagnostic{
		Draw:     &ref,
		Detector: detector,
		Message:  err.Error(),
		Err:      err,
	})
}

// Note records a diagnostic that is not tied to a draw.
func (a *Aggregator) Note(detector string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.diagnostics = append(a.diagnostics, Diagnostic{
		Detector: detector,
		Message:  err.Error(),
		Err:      err,
	})
}

// Finalize builds the report. Findings are ordered by draw index then
// stage; the order of findings within one draw and stage is kept.
func (a *Aggregator) Finalize(truncated bool, sections []Section) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	findings := slices.Clone(a.findings)
	slices.SortStableFunc(findings, func(x, y Finding) int {
		if c := cmp.Compare(x.Draw.Index, y.Draw.Index); c != 0 {
			return c
		}
		return cmp.Compare(x.Stage, y.Stage)
	})

	diagnostics := slices.Clone(a.diagnostics)
	slices.SortStableFunc(diagnostics, func(x, y Diagnostic) int {
		return cmp.Compare(diagIndex(&x), diagIndex(&y))
	})

	r := &Report{
		TotalDraws:   a.draws,
		SkippedDraws: a.skipped,
		Truncated:    truncated,
		Findings:     findings,
		Diagnostics:  diagnostics,
		Sections:     sections,
	}
	if r.Findings == nil {
		r.Findings = []Finding{}
	}

	wasteful := make(map[int]struct{})
	for i := range findings {
		f := &findings[i]
		switch f.Kind {
		case UnusedVertexAttribute:
			r.TotalWastedBandwidth += f.Cost
		case UnusedBinding:
			r.UnusedBindingCount++
		}
		wasteful[f.Draw.Index] = struct{}{}
	}
	r.DrawsWithWaste = len(wasteful)

	var errs error
	for _, d := range diagnostics {
		if d.Draw != nil {
			errs = multierr.Append(errs, fmt.Errorf("draw %d: %w", d.Draw.Index, d.Err))
		} else {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", d.Detector, d.Err))
		}
	}
	r.err = errs
	return r
}

// diagIndex orders draw diagnostics first, by draw index.
func diagIndex(d *Diagnostic) int {
	if d.Draw == nil {
		return int(^uint(0) >> 1)
	}
	return d.Draw.Index
}
