package gpuwaste

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/gpuwaste/capture"
	"github.com/gogpu/gpuwaste/capture/capturetest"
)

// wasteFrame returns a capture of n draws in one pass. Every draw has 100
// vertices, one unused 12-byte TANGENT attribute and one bound but unused
// pixel shader resource.
func wasteFrame(n int) *capturetest.Session {
	actions := make([]capture.Action, n)
	for i := range n {
		actions[i] = capturetest.DrawAction(capture.EventID(i+1), fmt.Sprintf("Draw(%d)", i))
	}
	s := capturetest.New(capturetest.PassAction(10000, "Main", actions...))
	s.Inventory = capture.Inventory{
		Textures: []capture.Texture{
			{ID: 1, Name: "SceneColor", Width: 1920, Height: 1080, Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageRenderAttachment},
			{ID: 2, Name: "SceneDepth", Width: 1920, Height: 1080, Format: gputypes.TextureFormatDepth32Float, Usage: gputypes.TextureUsageRenderAttachment},
		},
	}

	shaders := capturetest.Shaders(map[capture.ShaderStage]capture.ShaderID{capture.StageVertex: 1, capture.StagePixel: 2})
	for i := range n {
		s.SetDraw(capturetest.Draw{
			Event: capture.EventID(i + 1),
			Pipeline: capture.PipelineState{
				VertexCount:   100,
				InstanceCount: 1,
				Topology:      capture.TopologyTriangleList,
				Shaders:       shaders,
				ColorTargets:  []capture.ResourceID{1},
				DepthTarget:   2,
			},
			Reflections: map[capture.ShaderStage]*capture.Reflection{
				capture.StageVertex: {Shader: 1},
				capture.StagePixel:  pixelReflection(),
			},
			Bindpoints: map[capture.ShaderStage][]capture.BindpointSlot{
				capture.StagePixel: {
					{Slot: 0, Kind: capture.ResourceReadOnly, ArraySize: 1, Used: true, Resource: 50},
					{Slot: 1, Kind: capture.ResourceReadOnly, ArraySize: 1, Resource: 51},
					{Slot: 2, Kind: capture.ResourceReadOnly},
				},
			},
			Inputs: []capture.VertexInputAttribute{
				{Semantic: "POSITION", Location: 0, ChannelMask: capture.ChannelsAll, ByteSize: 12},
				{Semantic: "TANGENT", Location: 1, ByteSize: 12},
			},
		})
	}
	return s
}

func checkInvariants(t *testing.T, r *Report) {
	t.Helper()
	var bytes uint64
	var bindings int
	for _, f := range r.Findings {
		switch f.Kind {
		case UnusedVertexAttribute:
			bytes += f.CostBytes()
		case UnusedBinding:
			bindings++
		}
	}
	if r.TotalWastedBandwidth != bytes {
		t.Errorf("TotalWastedBandwidth = %d, findings sum to %d", r.TotalWastedBandwidth, bytes)
	}
	if r.UnusedBindingCount != bindings {
		t.Errorf("UnusedBindingCount = %d, findings count %d", r.UnusedBindingCount, bindings)
	}
	if r.DrawsWithWaste > r.TotalDraws {
		t.Errorf("DrawsWithWaste %d > TotalDraws %d", r.DrawsWithWaste, r.TotalDraws)
	}
}

func TestRunEmptyCapture(t *testing.T) {
	r, err := Analyze(context.Background(), capturetest.New(), WithDetectors("all"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if r.TotalDraws != 0 || r.DrawsWithWaste != 0 || r.TotalWastedBandwidth != 0 || r.UnusedBindingCount != 0 {
		t.Errorf("totals not zero: %+v", r)
	}
	if len(r.Findings) != 0 || r.Truncated || r.SkippedDraws != 0 {
		t.Errorf("report = %+v, want empty and complete", r)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v", r.Err())
	}
}

func TestRunFindsWaste(t *testing.T) {
	r, err := Analyze(context.Background(), wasteFrame(5))
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, r)

	if r.TotalDraws != 5 || r.DrawsWithWaste != 5 {
		t.Errorf("draws = %d, with waste %d; want 5, 5", r.TotalDraws, r.DrawsWithWaste)
	}
	if r.TotalWastedBandwidth != 5*1200 {
		t.Errorf("TotalWastedBandwidth = %d, want %d", r.TotalWastedBandwidth, 5*1200)
	}
	if r.UnusedBindingCount != 5 {
		t.Errorf("UnusedBindingCount = %d, want 5", r.UnusedBindingCount)
	}

	// Per draw: the vertex attribute finding precedes the pixel binding.
	for i := 0; i < len(r.Findings); i += 2 {
		v, p := r.Findings[i], r.Findings[i+1]
		if v.Kind != UnusedVertexAttribute || p.Kind != UnusedBinding || v.Draw.Index != p.Draw.Index {
			t.Errorf("findings %d,%d = %v / %v", i, i+1, v.Kind, p.Kind)
		}
	}
	if r.Sections[0].Detector != DetectorBindings || r.Sections[1].Detector != DetectorVertex {
		t.Errorf("sections = %v", r.Sections)
	}
}

func TestRunSkipsUnreadableDraws(t *testing.T) {
	s := wasteFrame(6)
	s.Fail = func(method string, event capture.EventID) error {
		switch {
		case method == "pipeline" && event == 2:
			return errors.New("unresolved shader id 99")
		case method == "vertexInputs" && event == 5:
			return capture.NewReadError("vertexInputs", 5, errors.New("truncated signature"))
		}
		return nil
	}

	r, err := Analyze(context.Background(), s)
	if err != nil {
		t.Fatalf("read errors must not fail the run: %v", err)
	}
	checkInvariants(t, r)
	if r.SkippedDraws != 2 || r.TotalDraws != 4 {
		t.Errorf("skipped = %d, total = %d; want 2 and 4", r.SkippedDraws, r.TotalDraws)
	}
	for _, f := range r.Findings {
		if f.Draw.EventID == 2 || f.Draw.EventID == 5 {
			t.Errorf("skipped draw produced finding %v", f.String())
		}
	}
	if len(r.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %+v", r.Diagnostics)
	}
	if r.Diagnostics[1].Detector != DetectorVertex {
		t.Errorf("second diagnostic detector = %q, want vertex", r.Diagnostics[1].Detector)
	}
	if !capture.IsReadError(r.Err()) {
		t.Errorf("Err() = %v, want a CaptureReadError inside", r.Err())
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	seq, err := Analyze(context.Background(), wasteFrame(40), WithDetectors("all"))
	if err != nil {
		t.Fatal(err)
	}

	s := wasteFrame(40)
	s.Delay = 100 * time.Microsecond
	par, err := Analyze(context.Background(), s, WithDetectors("all"), WithWorkers(8))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(seq, par) {
		t.Error("parallel report differs from sequential report")
	}
	if got := s.MaxInFlight(); got != 1 {
		t.Errorf("max concurrent session calls = %d, want 1", got)
	}
}

func TestRunIdempotent(t *testing.T) {
	s := wasteFrame(10)
	e, err := New(WithDetectors("all"))
	if err != nil {
		t.Fatal(err)
	}
	var out [2][]byte
	for i := range out {
		r, err := e.Run(context.Background(), s)
		if err != nil {
			t.Fatal(err)
		}
		if out[i], err = json.Marshal(r); err != nil {
			t.Fatal(err)
		}
	}
	if string(out[0]) != string(out[1]) {
		t.Errorf("reports differ:\n%s\n%s", out[0], out[1])
	}
}

func TestRunCancellationTruncates(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			s := wasteFrame(20)
			s.Fail = func(method string, event capture.EventID) error {
				if method == "pipeline" && event == 8 {
					cancel()
				}
				return nil
			}

			r, err := Analyze(ctx, s, WithDetectors("all"), WithWorkers(workers))
			if err != nil {
				t.Fatalf("cancellation must not be an error: %v", err)
			}
			if !r.Truncated {
				t.Error("Truncated = false after cancellation")
			}
			if workers == 1 && r.TotalDraws != 7 {
				t.Errorf("TotalDraws = %d, want the 7 draws before cancellation", r.TotalDraws)
			}
			if r.TotalDraws >= 20 {
				t.Errorf("TotalDraws = %d, want fewer than 20", r.TotalDraws)
			}
			checkInvariants(t, r)
			// Every draw of the frame is wasteful, so findings must come
			// from exactly the counted draws.
			if r.DrawsWithWaste != r.TotalDraws {
				t.Errorf("DrawsWithWaste = %d, TotalDraws = %d", r.DrawsWithWaste, r.TotalDraws)
			}
			if len(r.Sections) == 0 {
				t.Error("summaries should still run after cancellation")
			}
		})
	}
}

func TestRunTimeoutTruncates(t *testing.T) {
	s := wasteFrame(200)
	s.Delay = 2 * time.Millisecond

	r, err := Analyze(context.Background(), s, WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if !r.Truncated || r.TotalDraws >= 200 {
		t.Errorf("Truncated = %v after %d draws", r.Truncated, r.TotalDraws)
	}
	checkInvariants(t, r)
}

func TestRunSessionUnavailable(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			s := wasteFrame(30)
			var calls atomic.Int32
			s.Fail = func(method string, _ capture.EventID) error {
				if method == "bindpoints" && calls.Add(1) > 10 {
					return capture.Unavailable(method, errors.New("connection reset by peer"))
				}
				return nil
			}

			r, err := Analyze(context.Background(), s, WithWorkers(workers))
			if !errors.Is(err, capture.ErrSessionUnavailable) {
				t.Fatalf("err = %v, want ErrSessionUnavailable", err)
			}
			if r != nil {
				t.Error("no report expected when the session is lost")
			}
		})
	}
}

func TestRunSummaryUnavailable(t *testing.T) {
	s := wasteFrame(2)
	s.Fail = func(method string, _ capture.EventID) error {
		if method == "resources" {
			return capture.Unavailable(method, errors.New("gone"))
		}
		return nil
	}
	if _, err := Analyze(context.Background(), s, WithDetectors(DetectorMemory)); !errors.Is(err, capture.ErrSessionUnavailable) {
		t.Errorf("err = %v, want ErrSessionUnavailable", err)
	}
}

func TestRunSummaryReadErrorIsDiagnostic(t *testing.T) {
	s := wasteFrame(2)
	s.Fail = func(method string, _ capture.EventID) error {
		if method == "resources" {
			return errors.New("inventory chunk missing")
		}
		return nil
	}
	r, err := Analyze(context.Background(), s, WithDetectors(DetectorBindings, DetectorMemory))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Diagnostics) != 1 || r.Diagnostics[0].Detector != DetectorMemory || r.Diagnostics[0].Draw != nil {
		t.Errorf("diagnostics = %+v", r.Diagnostics)
	}
	if _, ok := r.Section(DetectorMemory); ok {
		t.Error("failed summary should not produce a section")
	}
	if r.SkippedDraws != 0 {
		t.Errorf("SkippedDraws = %d, want 0", r.SkippedDraws)
	}
}

func TestRunRootActionsFailure(t *testing.T) {
	s := wasteFrame(3)
	s.Fail = func(method string, _ capture.EventID) error {
		if method == "actions" {
			return errors.New("action tree corrupt")
		}
		return nil
	}
	r, err := Analyze(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalDraws != 0 || len(r.Diagnostics) != 1 {
		t.Errorf("report = %+v", r)
	}
}

func TestNewRejectsUnknownDetector(t *testing.T) {
	if _, err := New(WithDetectors("bindings", "nope")); err == nil {
		t.Error("unknown detector accepted")
	}
	if _, err := New(WithDetectors()); err == nil {
		t.Error("empty detector list accepted")
	}

	e, err := New(WithDetectors("vertex", "all", "vertex"))
	if err != nil {
		t.Fatal(err)
	}
	names := e.Detectors()
	if names[0] != DetectorVertex || len(names) != len(DetectorNames()) {
		t.Errorf("Detectors() = %v", names)
	}
}

func TestRunNilSession(t *testing.T) {
	if _, err := Analyze(context.Background(), nil); err == nil {
		t.Error("nil session accepted")
	}
}
