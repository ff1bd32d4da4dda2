// Package capturetest provides an in-memory capture.Session for tests.
package capturetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpuwaste/capture"
)

// Draw holds everything a Session returns for one event.
type Draw struct {
	Event       capture.EventID
	Pipeline    capture.PipelineState
	Reflections map[capture.ShaderStage]*capture.Reflection
	Bindpoints  map[capture.ShaderStage][]capture.BindpointSlot
	Inputs      []capture.VertexInputAttribute
}

// Session is a scripted capture. Fields may be set directly before the
// session is used; it is safe for concurrent use afterwards.
type Session struct {
	Actions   []capture.Action
	Inventory capture.Inventory

	// Fail, when set, is consulted at the start of every call. A non-nil
	// result is returned in place of the data.
	Fail func(method string, event capture.EventID) error

	// Delay is slept inside every call, to widen race windows in tests.
	Delay time.Duration

	mu     sync.Mutex
	draws  map[capture.EventID]*Draw
	closed bool

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// New returns a session with the given root actions.
func New(actions ...capture.Action) *Session {
	return &Session{Actions: actions, draws: make(map[capture.EventID]*Draw)}
}

// SetDraw registers the data of one event.
func (s *Session) SetDraw(d Draw) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draws == nil {
		s.draws = make(map[capture.EventID]*Draw)
	}
	s.draws[d.Event] = &d
	return s
}

// Calls returns the number of calls made so far, Close excluded.
func (s *Session) Calls() int64 { return s.calls.Load() }

// MaxInFlight returns the highest number of concurrent calls observed.
func (s *Session) MaxInFlight() int64 { return s.maxInFlight.Load() }

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) enter(ctx context.Context, method string, event capture.EventID) (func(), error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	leave := func() { s.inFlight.Add(-1) }

	if err := ctx.Err(); err != nil {
		leave()
		return nil, err
	}
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
	if s.Closed() {
		leave()
		return nil, capture.NewReadError(method, event, capture.ErrSessionClosed)
	}
	if s.Fail != nil {
		if err := s.Fail(method, event); err != nil {
			leave()
			return nil, err
		}
	}
	return leave, nil
}

func (s *Session) draw(method string, event capture.EventID) (*Draw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.draws[event]
	if !ok {
		return nil, capture.NewReadError(method, event, fmt.Errorf("no data for event %d", event))
	}
	return d, nil
}

func (s *Session) RootActions(ctx context.Context) ([]capture.Action, error) {
	leave, err := s.enter(ctx, "actions", 0)
	if err != nil {
		return nil, err
	}
	defer leave()
	return s.Actions, nil
}

func (s *Session) PipelineState(ctx context.Context, event capture.EventID) (capture.PipelineState, error) {
	leave, err := s.enter(ctx, "pipeline", event)
	if err != nil {
		return capture.PipelineState{}, err
	}
	defer leave()
	d, err := s.draw("pipeline", event)
	if err != nil {
		return capture.PipelineState{}, err
	}
	return d.Pipeline, nil
}

func (s *Session) Reflection(ctx context.Context, event capture.EventID, stage capture.ShaderStage) (*capture.Reflection, error) {
	leave, err := s.enter(ctx, "reflection", event)
	if err != nil {
		return nil, err
	}
	defer leave()
	d, err := s.draw("reflection", event)
	if err != nil {
		return nil, err
	}
	r, ok := d.Reflections[stage]
	if !ok {
		return nil, capture.ErrStageDataAbsent
	}
	return r, nil
}

func (s *Session) Bindpoints(ctx context.Context, event capture.EventID, stage capture.ShaderStage) ([]capture.BindpointSlot, error) {
	leave, err := s.enter(ctx, "bindpoints", event)
	if err != nil {
		return nil, err
	}
	defer leave()
	d, err := s.draw("bindpoints", event)
	if err != nil {
		return nil, err
	}
	b, ok := d.Bindpoints[stage]
	if !ok {
		return nil, capture.ErrStageDataAbsent
	}
	return b, nil
}

func (s *Session) VertexInputs(ctx context.Context, event capture.EventID) ([]capture.VertexInputAttribute, error) {
	leave, err := s.enter(ctx, "vertexInputs", event)
	if err != nil {
		return nil, err
	}
	defer leave()
	d, err := s.draw("vertexInputs", event)
	if err != nil {
		return nil, err
	}
	return d.Inputs, nil
}

func (s *Session) Resources(ctx context.Context) (*capture.Inventory, error) {
	leave, err := s.enter(ctx, "resources", 0)
	if err != nil {
		return nil, err
	}
	defer leave()
	inv := s.Inventory
	return &inv, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// DrawAction returns a draw action.
func DrawAction(event capture.EventID, name string) capture.Action {
	return capture.Action{EventID: event, Name: name, Flags: capture.ActionDraw}
}

// DispatchAction returns a dispatch action.
func DispatchAction(event capture.EventID, name string) capture.Action {
	return capture.Action{EventID: event, Name: name, Flags: capture.ActionDispatch}
}

// MarkerAction returns a marker group containing children.
func MarkerAction(event capture.EventID, name string, children ...capture.Action) capture.Action {
	return capture.Action{EventID: event, Name: name, Flags: capture.ActionPushMarker, Children: children}
}

// PassAction returns a named pass containing children.
func PassAction(event capture.EventID, name string, children ...capture.Action) capture.Action {
	return capture.Action{EventID: event, Name: name, Flags: capture.ActionPass, Children: children}
}

// Shaders builds a per-stage shader table.
func Shaders(bound map[capture.ShaderStage]capture.ShaderID) [capture.NumStages]capture.ShaderID {
	var out [capture.NumStages]capture.ShaderID
	for st, id := range bound {
		out[st] = id
	}
	return out
}
