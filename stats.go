package gpuwaste

import (
	"context"
	"sync"

	"github.com/gogpu/gpuwaste/capture"
)

// StatsDetector counts the actions of the capture by type. It sees every
// action, markers included, through the ActionVisitor hook and reports no
// findings.
type StatsDetector struct {
	mu         sync.Mutex
	actions    int
	draws      int
	dispatches int
	clears     int
	copies     int
	markers    int
	passes     int
	maxDepth   int
}

// NewStatsDetector returns a StatsDetector.
func NewStatsDetector(Thresholds) *StatsDetector {
	return &StatsDetector{}
}

func (d *StatsDetector) Name() string { return DetectorStats }

func (d *StatsDetector) Inspect(context.Context, capture.Session, *DrawCallRecord) ([]Finding, error) {
	return nil, nil
}

// VisitAction implements ActionVisitor.
func (d *StatsDetector) VisitAction(a *capture.Action, depth int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.actions++
	d.maxDepth = max(d.maxDepth, depth)
	switch {
	case a.Flags.Has(capture.ActionDispatch):
		d.dispatches++
	case a.Flags.Has(capture.ActionDraw):
		d.draws++
	case a.Flags.Has(capture.ActionClear):
		d.clears++
	case a.Flags.Has(capture.ActionCopy):
		d.copies++
	case a.Flags.IsMarker():
		d.markers++
	}
	if depth == 0 && isPass(a) {
		d.passes++
	}
}

// Summarize implements Summarizer.
func (d *StatsDetector) Summarize(context.Context, capture.Session) (Section, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Section{
		Detector: DetectorStats,
		Title:    "Capture statistics",
		Metrics: []Metric{
			countMetric("actions", "Actions", d.actions),
			countMetric("draws", "Draw calls", d.draws),
			countMetric("dispatches", "Dispatches", d.dispatches),
			countMetric("clears", "Clears", d.clears),
			countMetric("copies", "Copies", d.copies),
			countMetric("markers", "Markers", d.markers),
			countMetric("passes", "Passes", d.passes),
			countMetric("max_depth", "Maximum nesting depth", d.maxDepth),
		},
	}, nil
}
