package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpuwaste/capture"
	"github.com/gogpu/gpuwaste/capture/capturetest"
)

func TestSerializeOneInFlight(t *testing.T) {
	inner := capturetest.New(capturetest.DrawAction(1, "Draw"))
	inner.SetDraw(capturetest.Draw{Event: 1})
	inner.Delay = 2 * time.Millisecond

	s := capture.Serialize(inner)

	const goroutines = 8
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			if _, err := s.PipelineState(context.Background(), 1); err != nil {
				t.Errorf("PipelineState: %v", err)
			}
			if _, err := s.VertexInputs(context.Background(), 1); err != nil {
				t.Errorf("VertexInputs: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := inner.MaxInFlight(); got != 1 {
		t.Errorf("max in flight = %d, want 1", got)
	}
	if got := inner.Calls(); got != 2*goroutines {
		t.Errorf("calls = %d, want %d", got, 2*goroutines)
	}
}

func TestSerializeIdempotent(t *testing.T) {
	s := capture.Serialize(capturetest.New())
	if capture.Serialize(s) != s {
		t.Error("Serialize of a serialized session should return it unchanged")
	}
}

func TestSerializeQueuedCallerCancels(t *testing.T) {
	inner := capturetest.New()
	inner.SetDraw(capturetest.Draw{Event: 1})
	inner.Delay = 50 * time.Millisecond
	s := capture.Serialize(inner)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = s.PipelineState(context.Background(), 1)
	}()
	<-started
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := s.PipelineState(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("queued call error = %v, want deadline exceeded", err)
	}
}

func TestSerializeForwardsStageAbsence(t *testing.T) {
	inner := capturetest.New()
	inner.SetDraw(capturetest.Draw{Event: 3})
	s := capture.Serialize(inner)

	_, err := s.Reflection(context.Background(), 3, capture.StageHull)
	if !errors.Is(err, capture.ErrStageDataAbsent) {
		t.Errorf("Reflection error = %v, want ErrStageDataAbsent", err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !inner.Closed() {
		t.Error("Close should reach the wrapped session")
	}
	_, err = s.PipelineState(context.Background(), 3)
	if !errors.Is(err, capture.ErrSessionClosed) || !capture.IsReadError(err) {
		t.Errorf("read after close = %v, want CaptureReadError(ErrSessionClosed)", err)
	}
}
