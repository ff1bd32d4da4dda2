package local

import (
	"os"
	"testing"

	"github.com/gogpu/gpuwaste/capture"
)

func readMesh(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile("testdata/shaders/mesh.wgsl")
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestReflectVertexEntryPoint(t *testing.T) {
	info, err := ReflectWGSL(readMesh(t), "vs_main", capture.StageVertex)
	if err != nil {
		t.Fatalf("ReflectWGSL: %v", err)
	}
	if info.EntryPoint != "vs_main" {
		t.Errorf("EntryPoint = %q", info.EntryPoint)
	}

	wantSlots := []struct {
		name string
		kind capture.ResourceKind
		slot uint32
		used bool
	}{
		{"camera", capture.ResourceConstantBuffer, 0, true},
		{"wind", capture.ResourceConstantBuffer, 1, false},
		{"albedo", capture.ResourceReadOnly, 0, false},
		{"detail", capture.ResourceReadOnly, 1, false},
		{"lights", capture.ResourceReadOnly, 2, false},
	}
	if len(info.Slots) != len(wantSlots) {
		t.Fatalf("slots = %+v, want %d (samplers excluded)", info.Slots, len(wantSlots))
	}
	for i, w := range wantSlots {
		r, s := info.Resources[i], info.Slots[i]
		if r.Name != w.name || r.Kind != w.kind || r.Slot != w.slot {
			t.Errorf("resource %d = %+v, want %s %s%d", i, r, w.name, w.kind, w.slot)
		}
		if s.Used != w.used || s.ArraySize != 1 {
			t.Errorf("slot %s: used=%v arraySize=%d, want used=%v arraySize=1", w.name, s.Used, s.ArraySize, w.used)
		}
	}

	wantInputs := []struct {
		semantic string
		mask     capture.ChannelMask
		size     uint32
		format   string
	}{
		{"position", capture.ChannelX | capture.ChannelY | capture.ChannelZ, 12, "Float32x3"},
		{"normal", capture.ChannelY, 12, "Float32x3"},
		{"uv", capture.ChannelX | capture.ChannelY, 8, "Float32x2"},
		{"tangent", 0, 16, "Float32x4"},
	}
	if len(info.Inputs) != len(wantInputs) {
		t.Fatalf("inputs = %+v", info.Inputs)
	}
	for i, w := range wantInputs {
		a := info.Inputs[i]
		if a.Semantic != w.semantic || a.Location != uint32(i) {
			t.Errorf("input %d = %s@%d, want %s@%d", i, a.Semantic, a.Location, w.semantic, i)
		}
		if a.ChannelMask != w.mask {
			t.Errorf("%s mask = %s, want %s", w.semantic, a.ChannelMask, w.mask)
		}
		if a.ByteSize != w.size || a.Format != w.format {
			t.Errorf("%s = %s/%d bytes, want %s/%d", w.semantic, a.Format, a.ByteSize, w.format, w.size)
		}
	}
}

func TestReflectFragmentUsage(t *testing.T) {
	info, err := ReflectWGSL(readMesh(t), "", capture.StagePixel)
	if err != nil {
		t.Fatal(err)
	}
	if info.EntryPoint != "fs_main" {
		t.Errorf("default pixel entry point = %q, want fs_main", info.EntryPoint)
	}
	if len(info.Inputs) != 0 {
		t.Errorf("pixel stage reported vertex inputs: %+v", info.Inputs)
	}
	used := map[string]bool{}
	for i, r := range info.Resources {
		used[r.Name] = info.Slots[i].Used
	}
	want := map[string]bool{"camera": false, "wind": false, "albedo": true, "detail": false, "lights": true}
	for name, w := range want {
		if used[name] != w {
			t.Errorf("%s used = %v, want %v", name, used[name], w)
		}
	}
}

func TestReflectThroughCalledFunction(t *testing.T) {
	const src = `
@group(0) @binding(0) var<storage, read_write> counters: array<u32>;
@group(0) @binding(1) var<storage, read> samples: array<u32>;
@group(0) @binding(2) var<uniform> scale: u32;

fn bump(i: u32) {
    counters[i] = counters[i] + 1u;
}

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    bump(id.x);
}
`
	info, err := ReflectWGSL(src, "main", capture.StageCompute)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		kind capture.ResourceKind
		used bool
	}{
		{"counters", capture.ResourceReadWrite, true},
		{"samples", capture.ResourceReadOnly, false},
		{"scale", capture.ResourceConstantBuffer, false},
	}
	for i, tt := range tests {
		if info.Resources[i].Name != tt.name || info.Resources[i].Kind != tt.kind {
			t.Errorf("resource %d = %+v, want %s %s", i, info.Resources[i], tt.name, tt.kind)
		}
		if info.Slots[i].Used != tt.used {
			t.Errorf("%s used = %v, want %v", tt.name, info.Slots[i].Used, tt.used)
		}
	}
}

func TestReflectSwizzleMask(t *testing.T) {
	const src = `
@vertex
fn main(@location(0) color: vec4<f32>, @location(1) extra: vec4<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(color.xz, 0.0, 1.0);
}
`
	info, err := ReflectWGSL(src, "", capture.StageVertex)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Inputs) != 2 {
		t.Fatalf("inputs = %+v", info.Inputs)
	}
	if got := info.Inputs[0].ChannelMask; got != capture.ChannelX|capture.ChannelZ {
		t.Errorf("color mask = %s, want xz", got)
	}
	if got := info.Inputs[1].ChannelMask; !got.Unused() {
		t.Errorf("extra mask = %s, want unused", got)
	}
}

func TestReflectErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		entry string
		stage capture.ShaderStage
	}{
		{"syntax", "fn main( {", "", capture.StageVertex},
		{"missing stage", readMesh(t), "", capture.StageCompute},
		{"missing entry point", readMesh(t), "vs_other", capture.StageVertex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReflectWGSL(tt.src, tt.entry, tt.stage); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
