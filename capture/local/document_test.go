package local

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpuwaste/capture"
)

func TestLoadFrame(t *testing.T) {
	doc, err := Load("testdata/frame.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != DocumentVersion || doc.API != "WebGPU" {
		t.Errorf("header = %d %q", doc.Version, doc.API)
	}
	if len(doc.Shaders) != 3 || doc.Shaders[2].Code == "" {
		t.Errorf("shaders = %+v", doc.Shaders)
	}
	draw := doc.Actions[0].Children[0].Draw
	if draw == nil || draw.Bindpoints["pixel"][1].Used != nil {
		t.Errorf("draw entry = %+v", draw)
	}
}

func TestDecodeJSON(t *testing.T) {
	const doc = `{
  "version": 1,
  "actions": [
    {"event": 1, "name": "Draw(3)", "flags": ["draw"],
     "draw": {"vertexCount": 3, "topology": "triangle-strip", "inputs": [
       {"semantic": "COLOR", "location": 1, "format": "unorm8x4", "mask": ""}
     ]}}
  ]
}`
	d, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	attrs := inputs(d.Actions[0].Draw.Inputs)
	if len(attrs) != 1 || attrs[0].ByteSize != 4 || !attrs[0].ChannelMask.Unused() {
		t.Errorf("inputs = %+v", attrs)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"version", "version: 7\nactions: []"},
		{"unknown field", "version: 1\nactoins: []"},
		{"duplicate event", "actions: [{event: 1}, {event: 1}]"},
		{"nested duplicate", "actions: [{event: 1, children: [{event: 1}]}]"},
		{"flag", "actions: [{event: 1, flags: [teleport]}]"},
		{"topology", "actions: [{event: 1, draw: {topology: hexagons}}]"},
		{"draw stage", "actions: [{event: 1, draw: {shaders: {tessellator: 1}}}]"},
		{"shader stage", "shaders: [{id: 1, stage: raygen}]\nactions: []"},
		{"shader id", "shaders: [{id: 0, stage: vertex}]\nactions: []"},
		{"duplicate shader", "shaders: [{id: 1, stage: vertex}, {id: 1, stage: pixel}]\nactions: []"},
		{"source and code", "shaders: [{id: 1, stage: vertex, source: a.wgsl, code: x}]\nactions: []"},
		{"mask", "actions: [{event: 1, draw: {inputs: [{semantic: P, mask: xyq}]}}]"},
		{"texture format", "resources: {textures: [{id: 1, format: rgb7}]}\nactions: []"},
		{"texture usage", "resources: {textures: [{id: 1, format: rgba8unorm, usage: [flying]}]}\nactions: []"},
		{"buffer usage", "resources: {buffers: [{id: 1, usage: [sideways]}]}\nactions: []"},
		{"resource kind", "shaders: [{id: 1, stage: vertex, resources: [{name: a, kind: tlas, slot: 0}]}]\nactions: []"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("Decode() err = %v, want ErrInvalidDocument", err)
			}
		})
	}
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		in   string
		want capture.ChannelMask
	}{
		{"", 0},
		{"-", 0},
		{"xyz", capture.ChannelX | capture.ChannelY | capture.ChannelZ},
		{"W", capture.ChannelW},
		{"rgba", capture.ChannelsAll},
	}
	for _, tt := range tests {
		got, err := parseMask(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseMask(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}

func TestInventoryComputesTextureSize(t *testing.T) {
	r := ResourcesEntry{Textures: []TextureEntry{
		{ID: 1, Width: 4, Height: 4, Format: "rgba8unorm", MipLevels: 3},
	}}
	inv := r.inventory()
	// 4x4 + 2x2 + 1x1 texels of 4 bytes.
	if got := inv.Textures[0].ByteSize; got != (16+4+1)*4 {
		t.Errorf("ByteSize = %d, want %d", got, (16+4+1)*4)
	}
}
