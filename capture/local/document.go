package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/gpuwaste/capture"
	"gopkg.in/yaml.v3"
)

// DocumentVersion is the capture document format understood by this
// package.
const DocumentVersion = 1

// Document is a capture stored on disk. YAML and JSON encodings are
// accepted.
type Document struct {
	Version   int            `yaml:"version"`
	API       string         `yaml:"api,omitempty"`
	Resources ResourcesEntry `yaml:"resources,omitempty"`
	Shaders   []ShaderEntry  `yaml:"shaders,omitempty"`
	Actions   []ActionEntry  `yaml:"actions"`
}

// ResourcesEntry is the resource inventory of a document.
type ResourcesEntry struct {
	Textures []TextureEntry `yaml:"textures,omitempty"`
	Buffers  []BufferEntry  `yaml:"buffers,omitempty"`
}

// TextureEntry describes one texture. Format is a WebGPU format name
// ("rgba8unorm"); Usage lists usage names ("render-attachment").
type TextureEntry struct {
	ID        capture.ResourceID `yaml:"id"`
	Name      string             `yaml:"name,omitempty"`
	Width     uint32             `yaml:"width"`
	Height    uint32             `yaml:"height"`
	Depth     uint32             `yaml:"depth,omitempty"`
	ArraySize uint32             `yaml:"arraySize,omitempty"`
	MipLevels uint32             `yaml:"mipLevels,omitempty"`
	Format    string             `yaml:"format"`
	Usage     []string           `yaml:"usage,omitempty"`
	ByteSize  uint64             `yaml:"byteSize,omitempty"`
}

// BufferEntry describes one buffer.
type BufferEntry struct {
	ID       capture.ResourceID `yaml:"id"`
	Name     string             `yaml:"name,omitempty"`
	ByteSize uint64             `yaml:"byteSize"`
	Usage    []string           `yaml:"usage,omitempty"`
}

// ShaderEntry describes one shader object.
//
// Reflection comes from WGSL, either inline (Code) or from a file
// (Source) resolved through the search path, unless Resources or Inputs
// are given explicitly.
type ShaderEntry struct {
	ID         capture.ShaderID `yaml:"id"`
	Stage      string           `yaml:"stage"`
	EntryPoint string           `yaml:"entryPoint,omitempty"`
	Source     string           `yaml:"source,omitempty"`
	Code       string           `yaml:"code,omitempty"`
	Resources  []ResourceEntry  `yaml:"resources,omitempty"`
	Inputs     []InputEntry     `yaml:"inputs,omitempty"`
}

// ResourceEntry is an explicitly declared shader resource.
type ResourceEntry struct {
	Name string               `yaml:"name"`
	Kind capture.ResourceKind `yaml:"kind"`
	Slot uint32               `yaml:"slot"`
}

// InputEntry is one vertex input attribute. Mask lists the components
// read ("xyz"); "-" or an empty mask means none.
type InputEntry struct {
	Semantic string `yaml:"semantic"`
	Location uint32 `yaml:"location"`
	Format   string `yaml:"format"`
	Mask     string `yaml:"mask"`
	ByteSize uint32 `yaml:"byteSize,omitempty"`
}

// ActionEntry is one node of the action tree.
type ActionEntry struct {
	Event    capture.EventID `yaml:"event"`
	Name     string          `yaml:"name,omitempty"`
	Flags    []string        `yaml:"flags,omitempty"`
	Draw     *DrawEntry      `yaml:"draw,omitempty"`
	Children []ActionEntry   `yaml:"children,omitempty"`
}

// DrawEntry is the pipeline state recorded for a draw or dispatch.
// Bindpoints and Inputs, when present, replace what reflection derives.
type DrawEntry struct {
	VertexCount   uint32                      `yaml:"vertexCount,omitempty"`
	InstanceCount uint32                      `yaml:"instanceCount,omitempty"`
	Topology      string                      `yaml:"topology,omitempty"`
	Shaders       map[string]capture.ShaderID `yaml:"shaders,omitempty"`
	ColorTargets  []capture.ResourceID        `yaml:"colorTargets,omitempty"`
	DepthTarget   capture.ResourceID          `yaml:"depthTarget,omitempty"`
	Bindpoints    map[string][]SlotEntry      `yaml:"bindpoints,omitempty"`
	Inputs        []InputEntry                `yaml:"inputs,omitempty"`
}

// SlotEntry is one recorded binding. A missing Used takes the reflected
// static usage.
type SlotEntry struct {
	Slot      uint32               `yaml:"slot"`
	Kind      capture.ResourceKind `yaml:"kind"`
	Set       uint32               `yaml:"set,omitempty"`
	Binding   uint32               `yaml:"binding,omitempty"`
	ArraySize uint32               `yaml:"arraySize"`
	Used      *bool                `yaml:"used,omitempty"`
	Resource  capture.ResourceID   `yaml:"resource,omitempty"`
}

// ErrInvalidDocument reports a capture document that cannot be used.
var ErrInvalidDocument = errors.New("local: invalid capture document")

// Decode reads a capture document from r and validates it.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and validates the capture document at path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDocument, fmt.Sprintf(format, args...))
}

// Validate checks the structure of the document: the version, unique
// event and shader IDs, and every name that must parse.
// Unresolved shader references are not errors here; they surface as
// read errors for the draws using them.
func (doc *Document) Validate() error {
	if doc.Version != 0 && doc.Version != DocumentVersion {
		return invalid("unsupported version %d", doc.Version)
	}

	shaders := make(map[capture.ShaderID]bool, len(doc.Shaders))
	for _, s := range doc.Shaders {
		if s.ID == 0 {
			return invalid("shader with id 0")
		}
		if shaders[s.ID] {
			return invalid("duplicate shader %d", s.ID)
		}
		shaders[s.ID] = true
		if _, err := capture.ParseShaderStage(s.Stage); err != nil {
			return invalid("shader %d: %v", s.ID, err)
		}
		if s.Source != "" && s.Code != "" {
			return invalid("shader %d: both source and code given", s.ID)
		}
		for _, in := range s.Inputs {
			if _, err := parseMask(in.Mask); err != nil {
				return invalid("shader %d input %s: %v", s.ID, in.Semantic, err)
			}
		}
	}

	for _, t := range doc.Resources.Textures {
		if _, ok := capture.ParseTextureFormat(t.Format); !ok {
			return invalid("texture %d: unknown format %q", t.ID, t.Format)
		}
		if _, err := parseTextureUsage(t.Usage); err != nil {
			return invalid("texture %d: %v", t.ID, err)
		}
	}
	for _, b := range doc.Resources.Buffers {
		if _, err := parseBufferUsage(b.Usage); err != nil {
			return invalid("buffer %d: %v", b.ID, err)
		}
	}

	events := make(map[capture.EventID]bool)
	var walk func([]ActionEntry) error
	walk = func(actions []ActionEntry) error {
		for i := range actions {
			a := &actions[i]
			if events[a.Event] {
				return invalid("duplicate event %d", a.Event)
			}
			events[a.Event] = true
			if _, err := parseFlags(a.Flags); err != nil {
				return invalid("event %d: %v", a.Event, err)
			}
			if err := a.Draw.validate(); err != nil {
				return invalid("event %d: %v", a.Event, err)
			}
			if err := walk(a.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(doc.Actions)
}

func (d *DrawEntry) validate() error {
	if d == nil {
		return nil
	}
	if d.Topology != "" {
		if _, err := capture.ParseTopology(d.Topology); err != nil {
			return err
		}
	}
	for name := range d.Shaders {
		if _, err := capture.ParseShaderStage(name); err != nil {
			return err
		}
	}
	for name := range d.Bindpoints {
		if _, err := capture.ParseShaderStage(name); err != nil {
			return err
		}
	}
	for _, in := range d.Inputs {
		if _, err := parseMask(in.Mask); err != nil {
			return fmt.Errorf("input %s: %w", in.Semantic, err)
		}
	}
	return nil
}

func parseFlags(names []string) (capture.ActionFlags, error) {
	var flags capture.ActionFlags
	for _, n := range names {
		f, err := capture.ParseActionFlag(n)
		if err != nil {
			return 0, err
		}
		flags |= f
	}
	return flags, nil
}

func parseMask(s string) (capture.ChannelMask, error) {
	var m capture.ChannelMask
	if s == "-" {
		return 0, nil
	}
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'x', 'r':
			m |= capture.ChannelX
		case 'y', 'g':
			m |= capture.ChannelY
		case 'z', 'b':
			m |= capture.ChannelZ
		case 'w', 'a':
			m |= capture.ChannelW
		default:
			return 0, fmt.Errorf("invalid channel mask %q", s)
		}
	}
	return m, nil
}

var textureUsages = map[string]gputypes.TextureUsage{
	"copysrc":          gputypes.TextureUsageCopySrc,
	"copydst":          gputypes.TextureUsageCopyDst,
	"texturebinding":   gputypes.TextureUsageTextureBinding,
	"sampled":          gputypes.TextureUsageTextureBinding,
	"storagebinding":   gputypes.TextureUsageStorageBinding,
	"storage":          gputypes.TextureUsageStorageBinding,
	"renderattachment": gputypes.TextureUsageRenderAttachment,
	"rendertarget":     gputypes.TextureUsageRenderAttachment,
}

var bufferUsages = map[string]gputypes.BufferUsage{
	"mapread":         gputypes.BufferUsageMapRead,
	"mapwrite":        gputypes.BufferUsageMapWrite,
	"copysrc":         gputypes.BufferUsageCopySrc,
	"copydst":         gputypes.BufferUsageCopyDst,
	"index":           gputypes.BufferUsageIndex,
	"vertex":          gputypes.BufferUsageVertex,
	"uniform":         gputypes.BufferUsageUniform,
	"constant":        gputypes.BufferUsageUniform,
	"storage":         gputypes.BufferUsageStorage,
	"unorderedaccess": gputypes.BufferUsageStorage,
	"indirect":        gputypes.BufferUsageIndirect,
	"queryresolve":    gputypes.BufferUsageQueryResolve,
}

func usageKey(name string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
}

func parseTextureUsage(names []string) (gputypes.TextureUsage, error) {
	var u gputypes.TextureUsage
	for _, n := range names {
		v, ok := textureUsages[usageKey(n)]
		if !ok {
			return 0, fmt.Errorf("unknown texture usage %q", n)
		}
		u |= v
	}
	return u, nil
}

func parseBufferUsage(names []string) (gputypes.BufferUsage, error) {
	var u gputypes.BufferUsage
	for _, n := range names {
		v, ok := bufferUsages[usageKey(n)]
		if !ok {
			return 0, fmt.Errorf("unknown buffer usage %q", n)
		}
		u |= v
	}
	return u, nil
}

// inventory converts the validated resource entries.
func (r *ResourcesEntry) inventory() *capture.Inventory {
	inv := &capture.Inventory{
		Textures: make([]capture.Texture, 0, len(r.Textures)),
		Buffers:  make([]capture.Buffer, 0, len(r.Buffers)),
	}
	for _, t := range r.Textures {
		format, _ := capture.ParseTextureFormat(t.Format)
		usage, _ := parseTextureUsage(t.Usage)
		tex := capture.Texture{
			ID:        t.ID,
			Name:      t.Name,
			Width:     t.Width,
			Height:    t.Height,
			Depth:     max(t.Depth, 1),
			ArraySize: max(t.ArraySize, 1),
			MipLevels: max(t.MipLevels, 1),
			Format:    format,
			Usage:     usage,
			ByteSize:  t.ByteSize,
		}
		tex.ByteSize = capture.TextureByteSize(&tex)
		inv.Textures = append(inv.Textures, tex)
	}
	for _, b := range r.Buffers {
		usage, _ := parseBufferUsage(b.Usage)
		inv.Buffers = append(inv.Buffers, capture.Buffer{ID: b.ID, Name: b.Name, ByteSize: b.ByteSize, Usage: usage})
	}
	return inv
}

// inputs converts explicit input entries. Sizes come from the format
// when not recorded.
func inputs(entries []InputEntry) []capture.VertexInputAttribute {
	attrs := make([]capture.VertexInputAttribute, 0, len(entries))
	for _, e := range entries {
		mask, _ := parseMask(e.Mask)
		size := e.ByteSize
		if size == 0 {
			size, _ = capture.VertexFormatSize(e.Format)
		}
		attrs = append(attrs, capture.VertexInputAttribute{
			Semantic:    e.Semantic,
			Location:    e.Location,
			Format:      e.Format,
			ChannelMask: mask,
			ByteSize:    size,
		})
	}
	return attrs
}
