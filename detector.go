package gpuwaste

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gpuwaste/capture"
)

// Detector inspects draw calls and reports findings.
//
// Inspect may be called from several goroutines at once when the engine
// runs with more than one worker; implementations guard their own state.
// A detector that has nothing to say about a draw returns nil, nil.
type Detector interface {
	Name() string
	Inspect(ctx context.Context, s capture.Session, draw *DrawCallRecord) ([]Finding, error)
}

// Summarizer is implemented by detectors that produce a report section
// once every draw has been inspected.
type Summarizer interface {
	Summarize(ctx context.Context, s capture.Session) (Section, error)
}

// Settler is implemented by detectors that stage per-draw statistics in
// Inspect. The engine calls Settle once per inspected draw with keep set
// to whether the draw made it into the report.
type Settler interface {
	Settle(draw int, keep bool)
}

// Thresholds tune the auxiliary detectors.
type Thresholds struct {
	// LargeTextureBytes and LargeBufferBytes flag oversized resources.
	LargeTextureBytes uint64 `toml:"large_texture_bytes" yaml:"largeTextureBytes" json:"largeTextureBytes"`
	LargeBufferBytes  uint64 `toml:"large_buffer_bytes" yaml:"largeBufferBytes" json:"largeBufferBytes"`

	// OverdrawRatio is the shaded-to-screen pixel ratio above which a pass
	// is reported. PixelsPerTriangle is the assumed coverage of a triangle.
	OverdrawRatio     float64 `toml:"overdraw_ratio" yaml:"overdrawRatio" json:"overdrawRatio"`
	PixelsPerTriangle uint64  `toml:"pixels_per_triangle" yaml:"pixelsPerTriangle" json:"pixelsPerTriangle"`

	// VertexWorstDrawBytes is the wasted vertex bandwidth a draw must
	// exceed to be listed.
	VertexWorstDrawBytes uint64 `toml:"vertex_worst_draw_bytes" yaml:"vertexWorstDrawBytes" json:"vertexWorstDrawBytes"`

	// BindingWorstDrawUnused is the minimum number of unused slots for a
	// draw to be listed.
	BindingWorstDrawUnused int `toml:"binding_worst_draw_unused" yaml:"bindingWorstDrawUnused" json:"bindingWorstDrawUnused"`

	// TopDraws caps every ranked list.
	TopDraws int `toml:"top_draws" yaml:"topDraws" json:"topDraws"`
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LargeTextureBytes:      16 << 20,
		LargeBufferBytes:       8 << 20,
		OverdrawRatio:          3.0,
		PixelsPerTriangle:      100,
		VertexWorstDrawBytes:   100 << 10,
		BindingWorstDrawUnused: 3,
		TopDraws:               10,
	}
}

// withDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.LargeTextureBytes == 0 {
		t.LargeTextureBytes = d.LargeTextureBytes
	}
	if t.LargeBufferBytes == 0 {
		t.LargeBufferBytes = d.LargeBufferBytes
	}
	if t.OverdrawRatio <= 0 {
		t.OverdrawRatio = d.OverdrawRatio
	}
	if t.PixelsPerTriangle == 0 {
		t.PixelsPerTriangle = d.PixelsPerTriangle
	}
	if t.VertexWorstDrawBytes == 0 {
		t.VertexWorstDrawBytes = d.VertexWorstDrawBytes
	}
	if t.BindingWorstDrawUnused <= 0 {
		t.BindingWorstDrawUnused = d.BindingWorstDrawUnused
	}
	if t.TopDraws <= 0 {
		t.TopDraws = d.TopDraws
	}
	return t
}

// DetectorFactory creates a detector configured with the given thresholds.
// Factories are registered via RegisterDetector and called by NewDetector.
type DetectorFactory func(Thresholds) Detector

var (
	detectorMu sync.RWMutex
	detectors  = make(map[string]DetectorFactory)
)

// Built-in detector names.
const (
	DetectorBindings = "bindings"
	DetectorVertex   = "vertex"
	DetectorOverdraw = "overdraw"
	DetectorGeometry = "geometry"
	DetectorMemory   = "memory"
	DetectorPasses   = "passes"
	DetectorStats    = "stats"
)

func init() {
	RegisterDetector(DetectorBindings, func(t Thresholds) Detector { return NewBindingDetector(t) })
	RegisterDetector(DetectorVertex, func(t Thresholds) Detector { return NewVertexDetector(t) })
	RegisterDetector(DetectorOverdraw, func(t Thresholds) Detector { return NewOverdrawDetector(t) })
	RegisterDetector(DetectorGeometry, func(t Thresholds) Detector { return NewGeometryDetector(t) })
	RegisterDetector(DetectorMemory, func(t Thresholds) Detector { return NewMemoryDetector(t) })
	RegisterDetector(DetectorPasses, func(t Thresholds) Detector { return NewPassDetector(t) })
	RegisterDetector(DetectorStats, func(t Thresholds) Detector { return NewStatsDetector(t) })
}

// RegisterDetector registers a detector factory under name.
// Third-party detectors typically call it from init():
//
//	func init() {
//	    gpuwaste.RegisterDetector("mipmaps", func(t gpuwaste.Thresholds) gpuwaste.Detector {
//	        return newMipDetector(t)
//	    })
//	}
//
// RegisterDetector panics if factory is nil or name is already taken.
func RegisterDetector(name string, factory DetectorFactory) {
	detectorMu.Lock()
	defer detectorMu.Unlock()

	if factory == nil {
		panic("gpuwaste: RegisterDetector factory is nil")
	}
	if _, dup := detectors[name]; dup {
		panic("gpuwaste: RegisterDetector called twice for " + name)
	}
	detectors[name] = factory
}

// UnregisterDetector removes a detector from the registry.
// This is primarily useful for testing.
func UnregisterDetector(name string) {
	detectorMu.Lock()
	defer detectorMu.Unlock()
	delete(detectors, name)
}

// NewDetector creates a detector by name.
// The error message includes a hint about forgotten imports.
func NewDetector(name string, t Thresholds) (Detector, error) {
	detectorMu.RLock()
	factory, ok := detectors[name]
	detectorMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("gpuwaste: unknown detector %q (forgotten import?)", name)
	}
	return factory(t.withDefaults()), nil
}

// MustDetector is like NewDetector but panics on error.
func MustDetector(name string, t Thresholds) Detector {
	d, err := NewDetector(name, t)
	if err != nil {
		panic(err)
	}
	return d
}

// DetectorNames returns the registered detector names, sorted.
func DetectorNames() []string {
	detectorMu.RLock()
	defer detectorMu.RUnlock()

	names := make([]string, 0, len(detectors))
	for name := range detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsDetectorRegistered checks if a detector with the given name is registered.
func IsDetectorRegistered(name string) bool {
	detectorMu.RLock()
	defer detectorMu.RUnlock()
	_, ok := detectors[name]
	return ok
}
