package gpuwaste

import (
	"fmt"

	"github.com/gogpu/gpuwaste/capture"
)

// FindingKind classifies a detected inefficiency.
type FindingKind uint8

const (
	// UnusedBinding is a bound resource slot the shader never reads.
	// Its cost is a count of 1.
	UnusedBinding FindingKind = iota

	// UnusedVertexAttribute is a vertex attribute fetched by the input
	// assembler but never read by the vertex shader. Its cost is in bytes.
	UnusedVertexAttribute
)

var findingKindNames = [...]string{
	UnusedBinding:         "UnusedBinding",
	UnusedVertexAttribute: "UnusedVertexAttribute",
}

func (k FindingKind) String() string {
	if int(k) < len(findingKindNames) {
		return findingKindNames[k]
	}
	return fmt.Sprintf("FindingKind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k FindingKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *FindingKind) UnmarshalText(text []byte) error {
	for i, n := range findingKindNames {
		if n == string(text) {
			*k = FindingKind(i)
			return nil
		}
	}
	return fmt.Errorf("gpuwaste: unknown finding kind %q", text)
}

// DrawRef identifies the draw call a finding or diagnostic belongs to.
type DrawRef struct {
	Index   int             `json:"index" yaml:"index"`
	EventID capture.EventID `json:"event" yaml:"event"`
	Name    string          `json:"name,omitempty" yaml:"name,omitempty"`
}

// Finding is one detected inefficiency.
type Finding struct {
	Kind  FindingKind         `json:"kind" yaml:"kind"`
	Draw  DrawRef             `json:"draw" yaml:"draw"`
	Stage capture.ShaderStage `json:"stage" yaml:"stage"`

	// Cost is wasted bytes for UnusedVertexAttribute and 1 for
	// UnusedBinding.
	Cost uint64 `json:"cost" yaml:"cost"`

	// Semantic is set for UnusedVertexAttribute.
	Semantic string `json:"semantic,omitempty" yaml:"semantic,omitempty"`

	// Slot is the binding slot, or the input location for vertex attributes.
	Slot uint32 `json:"slot" yaml:"slot"`

	// Resource and Name describe the binding for UnusedBinding.
	Resource capture.ResourceKind `json:"resource" yaml:"resource"`
	Name     string               `json:"name,omitempty" yaml:"name,omitempty"`
}

// CostBytes returns the byte cost, which is zero for count-valued findings.
func (f *Finding) CostBytes() uint64 {
	if f.Kind == UnusedVertexAttribute {
		return f.Cost
	}
	return 0
}

func (f *Finding) String() string {
	switch f.Kind {
	case UnusedVertexAttribute:
		return fmt.Sprintf("draw %d (event %d): vertex attribute %s unused, %d bytes",
			f.Draw.Index, f.Draw.EventID, f.Semantic, f.Cost)
	default:
		name := f.Name
		if name == "" {
			name = "?"
		}
		return fmt.Sprintf("draw %d (event %d): %s %s slot %d (%s) bound but unused",
			f.Draw.Index, f.Draw.EventID, f.Stage, f.Resource, f.Slot, name)
	}
}

// DrawCallRecord is one executed draw or dispatch, resolved against its
// pipeline state. Records are created by the Enumerator and not modified
// afterwards.
type DrawCallRecord struct {
	// Index is the position among all draws and dispatches, in execution
	// order, starting at 0.
	Index   int
	EventID capture.EventID
	Name    string

	// Pass is the enclosing pass name; PassIndex is -1 outside any pass.
	Pass      string
	PassIndex int
	Depth     int

	Dispatch      bool
	VertexCount   uint32
	InstanceCount uint32
	Topology      capture.Topology

	Stages  capture.StageSet
	Shaders [capture.NumStages]capture.ShaderID

	ColorTargets []capture.ResourceID
	DepthTarget  capture.ResourceID
}

// Ref returns the reference used by findings and diagnostics.
func (d *DrawCallRecord) Ref() DrawRef {
	return DrawRef{Index: d.Index, EventID: d.EventID, Name: d.Name}
}

// Instances returns the instance count, treating zero as one.
func (d *DrawCallRecord) Instances() uint64 {
	return uint64(max(d.InstanceCount, 1))
}
