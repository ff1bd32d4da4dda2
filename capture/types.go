package capture

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// EventID identifies an event within one capture. It is opaque outside
// the session that produced it.
type EventID uint32

// ResourceID identifies a GPU resource. Zero is the null resource.
type ResourceID uint64

// ShaderID identifies a shader object. Zero means no shader is bound.
type ShaderID uint64

// ActionFlags classifies an action in the capture's action tree.
type ActionFlags uint16

const (
	ActionDraw ActionFlags = 1 << iota
	ActionDispatch
	ActionClear
	ActionCopy
	ActionPushMarker
	ActionSetMarker
	ActionPass
)

var actionFlagNames = []struct {
	flag ActionFlags
	name string
}{
	{ActionDraw, "Draw"},
	{ActionDispatch, "Dispatch"},
	{ActionClear, "Clear"},
	{ActionCopy, "Copy"},
	{ActionPushMarker, "PushMarker"},
	{ActionSetMarker, "SetMarker"},
	{ActionPass, "Pass"},
}

// Has reports whether all bits of flag are set.
func (f ActionFlags) Has(flag ActionFlags) bool {
	return f&flag == flag
}

// IsWork reports whether the action executes shaders (draw or dispatch).
func (f ActionFlags) IsWork() bool {
	return f&(ActionDraw|ActionDispatch) != 0
}

// IsMarker reports whether the action is a debug marker.
func (f ActionFlags) IsMarker() bool {
	return f&(ActionPushMarker|ActionSetMarker) != 0
}

func (f ActionFlags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	for _, n := range actionFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseActionFlag parses a single flag name (case-insensitive).
func ParseActionFlag(name string) (ActionFlags, error) {
	for _, n := range actionFlagNames {
		if strings.EqualFold(n.name, name) {
			return n.flag, nil
		}
	}
	switch strings.ToLower(name) {
	case "drawcall":
		return ActionDraw, nil
	case "marker":
		return ActionPushMarker, nil
	}
	return 0, fmt.Errorf("capture: unknown action flag %q", name)
}

// Action is one node of the capture's action tree.
type Action struct {
	EventID  EventID     `json:"event" yaml:"event"`
	Name     string      `json:"name" yaml:"name"`
	Flags    ActionFlags `json:"flags" yaml:"flags"`
	Children []Action    `json:"children,omitempty" yaml:"children,omitempty"`
}

// PipelineState is the pipeline configuration at one event.
type PipelineState struct {
	VertexCount   uint32              `json:"vertexCount"`
	InstanceCount uint32              `json:"instanceCount"`
	Topology      Topology            `json:"topology"`
	Shaders       [NumStages]ShaderID `json:"shaders"`
	ColorTargets  []ResourceID        `json:"colorTargets,omitempty"`
	DepthTarget   ResourceID          `json:"depthTarget,omitempty"`
}

// ActiveStages returns the stages with a bound shader.
func (p *PipelineState) ActiveStages() StageSet {
	var s StageSet
	for st, id := range p.Shaders {
		if id != 0 {
			s = s.With(ShaderStage(st))
		}
	}
	return s
}

// ResourceKind is the binding class of a shader resource slot.
type ResourceKind uint8

const (
	// ResourceReadOnly is a read-only resource (SRV-like).
	ResourceReadOnly ResourceKind = iota
	// ResourceReadWrite is a read-write resource (UAV-like).
	ResourceReadWrite
	// ResourceConstantBuffer is a constant or uniform buffer (CBV-like).
	ResourceConstantBuffer
)

// NumResourceKinds is the number of resource kinds.
const NumResourceKinds = int(ResourceConstantBuffer) + 1

var resourceKindNames = [NumResourceKinds]string{"SRV", "UAV", "CBV"}

func (k ResourceKind) String() string {
	if int(k) < NumResourceKinds {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("ResourceKind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k ResourceKind) MarshalText() ([]byte, error) {
	if int(k) >= NumResourceKinds {
		return nil, fmt.Errorf("capture: invalid resource kind %d", uint8(k))
	}
	return []byte(resourceKindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ResourceKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "srv", "readonly", "read-only", "texture", "sampled":
		*k = ResourceReadOnly
	case "uav", "readwrite", "read-write", "storage":
		*k = ResourceReadWrite
	case "cbv", "constant", "uniform", "constantbuffer":
		*k = ResourceConstantBuffer
	default:
		return fmt.Errorf("capture: unknown resource kind %q", text)
	}
	return nil
}

// ShaderResource is one resource declared by a shader's reflection.
type ShaderResource struct {
	Name string       `json:"name"`
	Kind ResourceKind `json:"kind"`
	Slot uint32       `json:"slot"`
}

// Reflection is the compiler-derived description of one bound shader.
type Reflection struct {
	Shader     ShaderID         `json:"shader"`
	EntryPoint string           `json:"entryPoint,omitempty"`
	Resources  []ShaderResource `json:"resources"`
}

// Lookup returns the declared resource of the given kind at slot.
func (r *Reflection) Lookup(kind ResourceKind, slot uint32) (ShaderResource, bool) {
	for _, res := range r.Resources {
		if res.Kind == kind && res.Slot == slot {
			return res, true
		}
	}
	return ShaderResource{}, false
}

// BindpointSlot is one runtime binding of a declared shader slot.
// ArraySize zero means nothing is bound. Used is the compiler's static
// usage result for the slot.
type BindpointSlot struct {
	Slot      uint32       `json:"slot"`
	Kind      ResourceKind `json:"kind"`
	Set       uint32       `json:"set"`
	Binding   uint32       `json:"binding"`
	ArraySize uint32       `json:"arraySize"`
	Used      bool         `json:"used"`
	Resource  ResourceID   `json:"resource,omitempty"`
}

// ChannelMask has one bit per vertex attribute component (x, y, z, w).
type ChannelMask uint8

const (
	ChannelX ChannelMask = 1 << iota
	ChannelY
	ChannelZ
	ChannelW

	// ChannelsAll covers all four components.
	ChannelsAll = ChannelX | ChannelY | ChannelZ | ChannelW
)

// MaskForComponents returns the mask covering the first n components.
func MaskForComponents(n int) ChannelMask {
	if n <= 0 {
		return 0
	}
	if n >= 4 {
		return ChannelsAll
	}
	return ChannelMask(1<<n - 1)
}

// Unused reports whether no component is read.
func (m ChannelMask) Unused() bool { return m&ChannelsAll == 0 }

func (m ChannelMask) String() string {
	if m.Unused() {
		return "-"
	}
	var b strings.Builder
	for i, c := range "xyzw" {
		if m&(1<<i) != 0 {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// VertexInputAttribute is one entry of a vertex shader's input signature.
type VertexInputAttribute struct {
	Semantic    string      `json:"semantic"`
	Location    uint32      `json:"location"`
	Format      string      `json:"format,omitempty"`
	ChannelMask ChannelMask `json:"channelMask"`
	ByteSize    uint32      `json:"byteSize"`
}

// Texture describes a texture resource.
type Texture struct {
	ID        ResourceID             `json:"id"`
	Name      string                 `json:"name,omitempty"`
	Width     uint32                 `json:"width"`
	Height    uint32                 `json:"height"`
	Depth     uint32                 `json:"depth"`
	ArraySize uint32                 `json:"arraySize"`
	MipLevels uint32                 `json:"mipLevels"`
	Format    gputypes.TextureFormat `json:"format"`
	Usage     gputypes.TextureUsage  `json:"usage"`
	ByteSize  uint64                 `json:"byteSize"`
}

// IsColorTarget reports whether the texture can be rendered to as a colour
// attachment.
func (t *Texture) IsColorTarget() bool {
	return t.Usage.Contains(gputypes.TextureUsageRenderAttachment) && !t.Format.IsDepthStencil()
}

// Buffer describes a buffer resource.
type Buffer struct {
	ID       ResourceID           `json:"id"`
	Name     string               `json:"name,omitempty"`
	ByteSize uint64               `json:"byteSize"`
	Usage    gputypes.BufferUsage `json:"usage"`
}

// Inventory lists the resources of a capture.
type Inventory struct {
	Textures []Texture `json:"textures"`
	Buffers  []Buffer  `json:"buffers"`
}

// Texture returns the texture with the given ID.
func (inv *Inventory) Texture(id ResourceID) (*Texture, bool) {
	for i := range inv.Textures {
		if inv.Textures[i].ID == id {
			return &inv.Textures[i], true
		}
	}
	return nil, false
}
