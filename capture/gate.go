package capture

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// gatedSession admits one call at a time into the wrapped session.
type gatedSession struct {
	inner Session
	sem   *semaphore.Weighted
}

// Serialize returns a Session that forwards to s with at most one request
// in flight. Callers queue on the gate and give up when their context ends.
// Serializing an already serialized session returns it unchanged.
func Serialize(s Session) Session {
	if g, ok := s.(*gatedSession); ok {
		return g
	}
	return &gatedSession{inner: s, sem: semaphore.NewWeighted(1)}
}

func (g *gatedSession) acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *gatedSession) RootActions(ctx context.Context) ([]Action, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.RootActions(ctx)
}

func (g *gatedSession) PipelineState(ctx context.Context, event EventID) (PipelineState, error) {
	if err := g.acquire(ctx); err != nil {
		return PipelineState{}, err
	}
	defer g.sem.Release(1)
	return g.inner.PipelineState(ctx, event)
}

func (g *gatedSession) Reflection(ctx context.Context, event EventID, stage ShaderStage) (*Reflection, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.Reflection(ctx, event, stage)
}

func (g *gatedSession) Bindpoints(ctx context.Context, event EventID, stage ShaderStage) ([]BindpointSlot, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.Bindpoints(ctx, event, stage)
}

func (g *gatedSession) VertexInputs(ctx context.Context, event EventID) ([]VertexInputAttribute, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.VertexInputs(ctx, event)
}

func (g *gatedSession) Resources(ctx context.Context) (*Inventory, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.Resources(ctx)
}

// Close waits for the in-flight request, if any, before closing.
func (g *gatedSession) Close() error {
	if err := g.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return g.inner.Close()
}
