package gpuwaste

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gpuwaste/capture"
	"github.com/gogpu/gpuwaste/capture/capturetest"
)

func pixelReflection() *capture.Reflection {
	return &capture.Reflection{
		Shader: 20,
		Resources: []capture.ShaderResource{
			{Name: "albedo", Kind: capture.ResourceReadOnly, Slot: 0},
			{Name: "normalMap", Kind: capture.ResourceReadOnly, Slot: 1},
			{Name: "detail", Kind: capture.ResourceReadOnly, Slot: 2},
		},
	}
}

func TestCorrelateBindingsOneUnusedSlot(t *testing.T) {
	draw := &DrawCallRecord{Index: 4, EventID: 40, Name: "DrawIndexed(36)"}
	slots := []capture.BindpointSlot{
		{Slot: 0, Kind: capture.ResourceReadOnly, ArraySize: 1, Used: true},
		{Slot: 1, Kind: capture.ResourceReadOnly, ArraySize: 1, Used: false},
		{Slot: 2, Kind: capture.ResourceReadOnly, ArraySize: 0},
	}

	got := CorrelateBindings(draw, capture.StagePixel, pixelReflection(), slots)
	if len(got) != 1 {
		t.Fatalf("got %d findings, want 1: %v", len(got), got)
	}
	f := got[0]
	if f.Kind != UnusedBinding || f.Slot != 1 || f.Stage != capture.StagePixel {
		t.Errorf("finding = %+v, want UnusedBinding Pixel slot 1", f)
	}
	if f.Cost != 1 || f.CostBytes() != 0 {
		t.Errorf("cost = %d (bytes %d), want a count of 1", f.Cost, f.CostBytes())
	}
	if f.Name != "normalMap" {
		t.Errorf("Name = %q, want normalMap", f.Name)
	}
	if f.Draw != (DrawRef{Index: 4, EventID: 40, Name: "DrawIndexed(36)"}) {
		t.Errorf("Draw = %+v", f.Draw)
	}
}

func TestCorrelateBindingsUnboundNeverReported(t *testing.T) {
	draw := &DrawCallRecord{}
	for _, used := range []bool{true, false} {
		slots := []capture.BindpointSlot{{Slot: 3, Kind: capture.ResourceReadWrite, ArraySize: 0, Used: used}}
		if got := CorrelateBindings(draw, capture.StageCompute, &capture.Reflection{}, slots); len(got) != 0 {
			t.Errorf("used=%v: unbound slot produced %v", used, got)
		}
	}
}

func TestCorrelateBindingsOrderAndPurity(t *testing.T) {
	draw := &DrawCallRecord{Index: 1}
	slots := []capture.BindpointSlot{
		{Slot: 5, Kind: capture.ResourceReadOnly, ArraySize: 1},
		{Slot: 0, Kind: capture.ResourceConstantBuffer, ArraySize: 1},
		{Slot: 2, Kind: capture.ResourceReadWrite, ArraySize: 4},
		{Slot: 0, Kind: capture.ResourceReadOnly, ArraySize: 1},
	}
	orig := slices.Clone(slots)

	got := CorrelateBindings(draw, capture.StageVertex, &capture.Reflection{}, slots)

	type key struct {
		slot uint32
		kind capture.ResourceKind
	}
	var order []key
	for _, f := range got {
		order = append(order, key{f.Slot, f.Resource})
		if f.Name != "" {
			t.Errorf("slot %d: undeclared resource got name %q", f.Slot, f.Name)
		}
	}
	want := []key{
		{0, capture.ResourceReadOnly},
		{0, capture.ResourceConstantBuffer},
		{2, capture.ResourceReadWrite},
		{5, capture.ResourceReadOnly},
	}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if !slices.Equal(slots, orig) {
		t.Error("CorrelateBindings modified its input")
	}
}

func TestCorrelateBindingsNilReflection(t *testing.T) {
	slots := []capture.BindpointSlot{{Slot: 0, ArraySize: 1}}
	if got := CorrelateBindings(&DrawCallRecord{}, capture.StagePixel, nil, slots); got != nil {
		t.Errorf("nil reflection produced %v", got)
	}
}

func TestBindingDetectorStageOrder(t *testing.T) {
	unused := []capture.BindpointSlot{{Slot: 0, Kind: capture.ResourceReadOnly, ArraySize: 1}}
	s := capturetest.New(capturetest.DrawAction(1, "Draw"))
	s.SetDraw(capturetest.Draw{
		Event: 1,
		Pipeline: capture.PipelineState{
			VertexCount: 3,
			Shaders: capturetest.Shaders(map[capture.ShaderStage]capture.ShaderID{
				capture.StageVertex:   1,
				capture.StageGeometry: 2,
				capture.StagePixel:    3,
			}),
		},
		Reflections: map[capture.ShaderStage]*capture.Reflection{
			capture.StagePixel:  {Shader: 3},
			capture.StageVertex: {Shader: 1},
			// Geometry reflection stripped.
		},
		Bindpoints: map[capture.ShaderStage][]capture.BindpointSlot{
			capture.StagePixel:    unused,
			capture.StageVertex:   unused,
			capture.StageGeometry: unused,
		},
	})

	d := NewBindingDetector(Thresholds{})
	rec := &DrawCallRecord{Index: 0, EventID: 1, Stages: capture.StageSetOf(capture.StageVertex, capture.StageGeometry, capture.StagePixel)}
	got, err := d.Inspect(context.Background(), s, rec)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d findings, want 2 (geometry has no reflection)", len(got))
	}
	if got[0].Stage != capture.StageVertex || got[1].Stage != capture.StagePixel {
		t.Errorf("stages = %v, %v; want Vertex, Pixel", got[0].Stage, got[1].Stage)
	}
}

func TestBindingDetectorReadError(t *testing.T) {
	s := capturetest.New()
	s.SetDraw(capturetest.Draw{Event: 9})
	boom := errors.New("corrupt reflection chunk")
	s.Fail = func(method string, _ capture.EventID) error {
		if method == "reflection" {
			return boom
		}
		return nil
	}

	d := NewBindingDetector(Thresholds{})
	rec := &DrawCallRecord{EventID: 9, Stages: capture.StageSetOf(capture.StagePixel)}
	_, err := d.Inspect(context.Background(), s, rec)
	var re *capture.CaptureReadError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *CaptureReadError", err)
	}
	if !re.HasStage || re.Stage != capture.StagePixel || !errors.Is(err, boom) {
		t.Errorf("read error = %+v", re)
	}
}

func TestBindingDetectorSection(t *testing.T) {
	d := NewBindingDetector(Thresholds{BindingWorstDrawUnused: 2})
	s := capturetest.New()
	slots := []capture.BindpointSlot{
		{Slot: 0, Kind: capture.ResourceReadOnly, ArraySize: 1, Used: true},
		{Slot: 1, Kind: capture.ResourceReadOnly, ArraySize: 1},
		{Slot: 0, Kind: capture.ResourceConstantBuffer, ArraySize: 1},
		{Slot: 2, Kind: capture.ResourceReadOnly},
	}
	for ev := capture.EventID(1); ev <= 2; ev++ {
		s.SetDraw(capturetest.Draw{
			Event:       ev,
			Reflections: map[capture.ShaderStage]*capture.Reflection{capture.StagePixel: {}},
			Bindpoints:  map[capture.ShaderStage][]capture.BindpointSlot{capture.StagePixel: slots},
		})
	}

	for i, ev := range []capture.EventID{1, 2} {
		rec := &DrawCallRecord{Index: i, EventID: ev, Name: "Draw", Stages: capture.StageSetOf(capture.StagePixel)}
		if _, err := d.Inspect(context.Background(), s, rec); err != nil {
			t.Fatal(err)
		}
	}
	d.Settle(0, true)
	d.Settle(1, false)

	sec, err := d.Summarize(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	checks := map[string]float64{
		"declared":   4,
		"bound":      3,
		"unused":     2,
		"unused_SRV": 1,
		"unused_CBV": 1,
	}
	for key, want := range checks {
		m, ok := sec.Metric(key)
		if !ok || m.Value != want {
			t.Errorf("metric %s = %v (found %v), want %v", key, m.Value, ok, want)
		}
	}
	if len(sec.Entries) != 1 || sec.Entries[0].EventID != 1 {
		t.Errorf("entries = %+v, want only the kept draw", sec.Entries)
	}
}
