package gpuwaste

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/gogpu/gpuwaste/capture"
)

// ActionVisitor observes every action of the tree, markers included, in
// depth-first execution order. Visitors run on the enumerating goroutine.
type ActionVisitor interface {
	VisitAction(a *capture.Action, depth int)
}

// Enumerator flattens a capture's action tree into draw call records.
type Enumerator struct {
	session  capture.Session
	visitors []ActionVisitor
}

// NewEnumerator returns an Enumerator over s.
func NewEnumerator(s capture.Session, visitors ...ActionVisitor) *Enumerator {
	return &Enumerator{session: s, visitors: visitors}
}

// Draws returns the draws and dispatches of the capture in execution order.
//
// The sequence is lazy: pipeline state is read as records are consumed.
// Each call starts over from the root actions. A draw whose state cannot
// be read is yielded with its record partially filled and a non-nil error;
// iteration continues if the consumer asks for more. Errors wrapping
// capture.ErrSessionUnavailable or a context error end the sequence.
func (e *Enumerator) Draws(ctx context.Context) iter.Seq2[DrawCallRecord, error] {
	return func(yield func(DrawCallRecord, error) bool) {
		roots, err := e.session.RootActions(ctx)
		if err != nil {
			yield(DrawCallRecord{Index: -1, PassIndex: -1}, classify(ctx, "actions", 0, err))
			return
		}

		w := walker{e: e, ctx: ctx, yield: yield}
		passes := 0
		for i := range roots {
			root := &roots[i]
			pass, passIndex := "", -1
			if isPass(root) {
				pass, passIndex = root.Name, passes
				passes++
			}
			if !w.walk(root, 0, pass, passIndex) {
				return
			}
		}
	}
}

type walker struct {
	e     *Enumerator
	ctx   context.Context
	yield func(DrawCallRecord, error) bool
	next  int
}

// walk visits a and its subtree. It returns false when iteration must stop.
func (w *walker) walk(a *capture.Action, depth int, pass string, passIndex int) bool {
	for _, v := range w.e.visitors {
		v.VisitAction(a, depth)
	}

	if a.Flags.IsWork() {
		rec, err := w.resolve(a, depth, pass, passIndex)
		if !w.yield(rec, err) || fatal(w.ctx, err) {
			return false
		}
	}

	for i := range a.Children {
		if !w.walk(&a.Children[i], depth+1, pass, passIndex) {
			return false
		}
	}
	return true
}

func (w *walker) resolve(a *capture.Action, depth int, pass string, passIndex int) (DrawCallRecord, error) {
	rec := DrawCallRecord{
		Index:     w.next,
		EventID:   a.EventID,
		Name:      a.Name,
		Pass:      pass,
		PassIndex: passIndex,
		Depth:     depth,
		Dispatch:  a.Flags.Has(capture.ActionDispatch),
	}
	w.next++

	ps, err := w.e.session.PipelineState(w.ctx, a.EventID)
	if err != nil {
		return rec, classify(w.ctx, "pipeline", a.EventID, err)
	}

	rec.Topology = ps.Topology
	rec.Shaders = ps.Shaders
	rec.Stages = ps.ActiveStages()
	rec.ColorTargets = ps.ColorTargets
	rec.DepthTarget = ps.DepthTarget
	if !rec.Dispatch {
		rec.VertexCount = ps.VertexCount
		rec.InstanceCount = ps.InstanceCount
	}
	return rec, nil
}

// isPass reports whether a root action delimits a render pass: a named
// group whose name is neither an auto-generated "=>" label nor a bare
// number.
func isPass(a *capture.Action) bool {
	if a.Flags.IsWork() {
		return false
	}
	if !a.Flags.Has(capture.ActionPass) && len(a.Children) == 0 {
		return false
	}
	name := strings.TrimSpace(a.Name)
	if name == "" || strings.HasPrefix(name, "=>") {
		return false
	}
	return strings.TrimLeft(name, "0123456789") != ""
}

// classify normalizes a session error: unavailability and cancellation
// pass through, everything else becomes a *capture.CaptureReadError.
func classify(ctx context.Context, op string, event capture.EventID, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, capture.ErrSessionUnavailable):
		return err
	case cancelled(ctx, err):
		return err
	case capture.IsReadError(err):
		return err
	default:
		return capture.NewReadError(op, event, err)
	}
}

// cancelled reports whether err is the result of ctx ending.
func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// fatal reports whether err ends an analysis run.
func fatal(ctx context.Context, err error) bool {
	return err != nil && (errors.Is(err, capture.ErrSessionUnavailable) || cancelled(ctx, err))
}
