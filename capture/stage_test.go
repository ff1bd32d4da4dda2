package capture

import (
	"encoding/json"
	"testing"
)

func TestShaderStageOrder(t *testing.T) {
	want := []string{"Vertex", "Hull", "Domain", "Geometry", "Pixel", "Compute"}
	got := Stages()
	if len(got) != len(want) {
		t.Fatalf("Stages() len = %d, want %d", len(got), len(want))
	}
	for i, st := range got {
		if st.String() != want[i] {
			t.Errorf("Stages()[%d] = %s, want %s", i, st, want[i])
		}
	}
}

func TestParseShaderStage(t *testing.T) {
	tests := []struct {
		in   string
		want ShaderStage
	}{
		{"vertex", StageVertex},
		{"VS", StageVertex},
		{"tessellation-control", StageHull},
		{"Domain", StageDomain},
		{"gs", StageGeometry},
		{"fragment", StagePixel},
		{"Pixel", StagePixel},
		{" compute ", StageCompute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseShaderStage(tt.in)
			if err != nil {
				t.Fatalf("ParseShaderStage(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseShaderStage(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseShaderStage("mesh"); err == nil {
		t.Error("ParseShaderStage(mesh) should fail")
	}
}

func TestShaderStageJSON(t *testing.T) {
	data, err := json.Marshal(map[string]ShaderStage{"s": StagePixel})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"s":"Pixel"}` {
		t.Errorf("json = %s", data)
	}

	var out struct{ S ShaderStage }
	if err := json.Unmarshal([]byte(`{"S":"fragment"}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.S != StagePixel {
		t.Errorf("decoded %s, want Pixel", out.S)
	}
}

func TestStageSet(t *testing.T) {
	s := StageSetOf(StagePixel, StageVertex, StageCompute)

	if !s.Has(StageVertex) || !s.Has(StagePixel) || !s.Has(StageCompute) {
		t.Errorf("set %s missing members", s)
	}
	if s.Has(StageHull) {
		t.Error("set should not contain Hull")
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
	if got := s.String(); got != "Vertex|Pixel|Compute" {
		t.Errorf("String() = %q", got)
	}
	if StageSet(0).String() != "None" {
		t.Error("empty set should print None")
	}
	if s.With(ShaderStage(42)) != s {
		t.Error("With(invalid) should not change the set")
	}
}

func TestPipelineActiveStages(t *testing.T) {
	var p PipelineState
	p.Shaders[StageVertex] = 7
	p.Shaders[StagePixel] = 9

	got := p.ActiveStages()
	if got != StageSetOf(StageVertex, StagePixel) {
		t.Errorf("ActiveStages() = %s", got)
	}
}

func TestChannelMask(t *testing.T) {
	tests := []struct {
		mask   ChannelMask
		unused bool
		str    string
	}{
		{0, true, "-"},
		{ChannelX | ChannelY, false, "xy"},
		{ChannelsAll, false, "xyzw"},
		{ChannelW, false, "w"},
	}
	for _, tt := range tests {
		if tt.mask.Unused() != tt.unused {
			t.Errorf("%08b Unused() = %v", tt.mask, tt.mask.Unused())
		}
		if tt.mask.String() != tt.str {
			t.Errorf("%08b String() = %q, want %q", tt.mask, tt.mask.String(), tt.str)
		}
	}

	if MaskForComponents(3) != ChannelX|ChannelY|ChannelZ {
		t.Errorf("MaskForComponents(3) = %v", MaskForComponents(3))
	}
	if MaskForComponents(0) != 0 || MaskForComponents(9) != ChannelsAll {
		t.Error("MaskForComponents bounds")
	}
}

func TestResourceKindText(t *testing.T) {
	for _, in := range []string{"srv", "UAV", "uniform"} {
		var k ResourceKind
		if err := k.UnmarshalText([]byte(in)); err != nil {
			t.Errorf("UnmarshalText(%q): %v", in, err)
		}
	}
	var k ResourceKind
	if err := k.UnmarshalText([]byte("sampler")); err == nil {
		t.Error("sampler is not a resource kind")
	}
	if ResourceConstantBuffer.String() != "CBV" {
		t.Errorf("String() = %s", ResourceConstantBuffer)
	}
}

func TestActionFlags(t *testing.T) {
	f := ActionDraw | ActionPushMarker
	if !f.IsWork() || !f.IsMarker() {
		t.Errorf("flags %s", f)
	}
	if f.String() != "Draw|PushMarker" {
		t.Errorf("String() = %q", f.String())
	}
	got, err := ParseActionFlag("drawcall")
	if err != nil || got != ActionDraw {
		t.Errorf("ParseActionFlag(drawcall) = %v, %v", got, err)
	}
}
