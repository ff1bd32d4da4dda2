package gpuwaste

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/gpuwaste/capture"
	"github.com/gogpu/gpuwaste/internal/parallel"
)

// Engine runs a fixed set of detectors over captures.
// An Engine is immutable and may run several captures concurrently; each
// run gets fresh detector instances.
type Engine struct {
	names      []string
	workers    int
	thresholds Thresholds
	timeout    time.Duration
}

// New returns an Engine configured by opts. It fails when a detector name
// is not registered.
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	names, err := resolveDetectors(o.detectors)
	if err != nil {
		return nil, err
	}
	return &Engine{
		names:      names,
		workers:    max(o.workers, 1),
		thresholds: o.thresholds,
		timeout:    o.timeout,
	}, nil
}

// Analyze is a shorthand for New followed by Run.
func Analyze(ctx context.Context, s capture.Session, opts ...Option) (*Report, error) {
	e, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, s)
}

// Detectors returns the names of the detectors the engine runs, in order.
func (e *Engine) Detectors() []string {
	return slices.Clone(e.names)
}

func resolveDetectors(names []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		expand := []string{n}
		if n == "all" {
			expand = DetectorNames()
		}
		for _, name := range expand {
			if seen[name] {
				continue
			}
			if !IsDetectorRegistered(name) {
				return nil, fmt.Errorf("gpuwaste: unknown detector %q (forgotten import?)", name)
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("gpuwaste: no detectors selected")
	}
	return out, nil
}

// Run analyzes one capture.
//
// Draws are inspected by every detector; a draw any detector fails to
// read is skipped and recorded as a diagnostic, and the run continues.
// When ctx is cancelled or the engine's timeout expires, Run stops
// scheduling draws and returns the partial report with Truncated set and
// a nil error. When the session becomes unavailable Run returns a nil
// report and an error wrapping capture.ErrSessionUnavailable.
//
// Run does not close s.
func (e *Engine) Run(ctx context.Context, s capture.Session) (*Report, error) {
	if s == nil {
		return nil, errors.New("gpuwaste: nil session")
	}

	dets := make([]Detector, 0, len(e.names))
	var visitors []ActionVisitor
	for _, name := range e.names {
		d, err := NewDetector(name, e.thresholds)
		if err != nil {
			return nil, err
		}
		dets = append(dets, d)
		if v, ok := d.(ActionVisitor); ok {
			visitors = append(visitors, v)
		}
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	workCtx, abort := context.WithCancelCause(runCtx)
	defer abort(nil)

	session := s
	if e.workers > 1 {
		session = capture.Serialize(s)
	}

	log := Logger()
	log.Debug("gpuwaste: analysis started", "detectors", e.names, "workers", e.workers)

	r := &run{
		ctx:      workCtx,
		abort:    abort,
		session:  session,
		dets:     dets,
		agg:      NewAggregator(),
		settlers: settlersOf(dets),
	}

	var (
		pool *parallel.WorkerPool
		wg   sync.WaitGroup
	)
	if e.workers > 1 {
		pool = parallel.NewWorkerPool(e.workers)
	}

	for rec, err := range NewEnumerator(session, visitors...).Draws(workCtx) {
		if err != nil {
			if errors.Is(err, capture.ErrSessionUnavailable) {
				r.fail(err)
				break
			}
			if cancelled(workCtx, err) {
				break
			}
			if rec.Index < 0 {
				r.agg.Note("actions", err)
				break
			}
			log.Warn("gpuwaste: draw skipped", "draw", rec.Index, "event", rec.EventID, "err", err)
			r.agg.Skip(&rec, "", err)
			continue
		}
		if workCtx.Err() != nil {
			break
		}
		if pool == nil {
			r.inspect(&rec)
			continue
		}
		wg.Add(1)
		if !pool.Submit(func() {
			defer wg.Done()
			r.inspect(&rec)
		}) {
			wg.Done()
		}
	}
	wg.Wait()
	if pool != nil {
		pool.Close()
	}

	if err := r.failure(); err != nil {
		log.Warn("gpuwaste: session unavailable", "err", err)
		return nil, err
	}

	truncated := runCtx.Err() != nil
	sections, err := r.summarize(runCtx, truncated)
	if err != nil {
		return nil, err
	}

	report := r.agg.Finalize(truncated, sections)
	log.Info("gpuwaste: analysis finished",
		"draws", report.TotalDraws,
		"skipped", report.SkippedDraws,
		"findings", len(report.Findings),
		"truncated", report.Truncated)
	return report, nil
}

// run is the state of one Engine.Run call.
type run struct {
	ctx      context.Context
	abort    context.CancelCauseFunc
	session  capture.Session
	dets     []Detector
	settlers []Settler
	agg      *Aggregator

	mu  sync.Mutex
	err error
}

func settlersOf(dets []Detector) []Settler {
	var out []Settler
	for _, d := range dets {
		if s, ok := d.(Settler); ok {
			out = append(out, s)
		}
	}
	return out
}

// fail records the first fatal error and stops the traversal.
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.abort(err)
}

func (r *run) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// inspect runs every detector on one draw. The draw's findings reach the
// aggregator only if all detectors succeed.
func (r *run) inspect(rec *DrawCallRecord) {
	if r.ctx.Err() != nil {
		return
	}

	var findings []Finding
	for _, d := range r.dets {
		fs, err := d.Inspect(r.ctx, r.session, rec)
		if err == nil {
			findings = append(findings, fs...)
			continue
		}

		r.settle(rec.Index, false)
		switch {
		case errors.Is(err, capture.ErrSessionUnavailable):
			r.fail(err)
		case cancelled(r.ctx, err):
			// Dropped: the run is truncated.
		default:
			err = classify(r.ctx, d.Name(), rec.EventID, err)
			Logger().Warn("gpuwaste: draw skipped",
				"draw", rec.Index, "event", rec.EventID, "detector", d.Name(), "err", err)
			r.agg.Skip(rec, d.Name(), err)
		}
		return
	}

	r.agg.Add(rec, findings)
	r.settle(rec.Index, true)
}

func (r *run) settle(draw int, keep bool) {
	for _, s := range r.settlers {
		s.Settle(draw, keep)
	}
}

// summarize collects the sections of all summarizing detectors. After a
// truncated traversal the summaries still run, detached from the
// cancelled context, and none of their errors is fatal.
func (r *run) summarize(ctx context.Context, truncated bool) ([]Section, error) {
	if truncated {
		ctx = context.WithoutCancel(ctx)
	}

	var sections []Section
	for _, d := range r.dets {
		sm, ok := d.(Summarizer)
		if !ok {
			continue
		}
		sec, err := sm.Summarize(ctx, r.session)
		if err != nil {
			if !truncated && errors.Is(err, capture.ErrSessionUnavailable) {
				return nil, err
			}
			r.agg.Note(d.Name(), err)
			continue
		}
		if sec.Detector == "" {
			sec.Detector = d.Name()
		}
		sections = append(sections, sec)
	}
	return sections, nil
}
