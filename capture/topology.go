package capture

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// Topology is the primitive topology of a draw. The first five values
// match gputypes.PrimitiveTopology; the rest cover APIs with fans,
// adjacency and patches.
type Topology uint8

const (
	TopologyTriangleList Topology = iota
	TopologyPointList
	TopologyLineList
	TopologyLineStrip
	TopologyTriangleStrip
	TopologyTriangleFan
	TopologyLineListAdj
	TopologyLineStripAdj
	TopologyTriangleListAdj
	TopologyTriangleStripAdj
	TopologyPatchList
)

var topologyNames = []string{
	"TriangleList",
	"PointList",
	"LineList",
	"LineStrip",
	"TriangleStrip",
	"TriangleFan",
	"LineListAdj",
	"LineStripAdj",
	"TriangleListAdj",
	"TriangleStripAdj",
	"PatchList",
}

func (t Topology) String() string {
	if int(t) < len(topologyNames) {
		return topologyNames[t]
	}
	return fmt.Sprintf("Topology(%d)", uint8(t))
}

// TopologyFromWebGPU converts a WebGPU primitive topology.
func TopologyFromWebGPU(t gputypes.PrimitiveTopology) (Topology, bool) {
	switch t {
	case gputypes.PrimitiveTopologyTriangleList:
		return TopologyTriangleList, true
	case gputypes.PrimitiveTopologyPointList:
		return TopologyPointList, true
	case gputypes.PrimitiveTopologyLineList:
		return TopologyLineList, true
	case gputypes.PrimitiveTopologyLineStrip:
		return TopologyLineStrip, true
	case gputypes.PrimitiveTopologyTriangleStrip:
		return TopologyTriangleStrip, true
	}
	return 0, false
}

// ParseTopology parses a topology name. Both this package's names and the
// WebGPU spellings ("triangle-list") are accepted, case-insensitively.
func ParseTopology(name string) (Topology, error) {
	key := normalizeName(name)
	for i, n := range topologyNames {
		if normalizeName(n) == key {
			return Topology(i), nil
		}
	}
	for _, wt := range []gputypes.PrimitiveTopology{
		gputypes.PrimitiveTopologyTriangleList,
		gputypes.PrimitiveTopologyPointList,
		gputypes.PrimitiveTopologyLineList,
		gputypes.PrimitiveTopologyLineStrip,
		gputypes.PrimitiveTopologyTriangleStrip,
	} {
		if normalizeName(wt.String()) == key {
			t, _ := TopologyFromWebGPU(wt)
			return t, nil
		}
	}
	switch key {
	case "trianglelistadjacency":
		return TopologyTriangleListAdj, nil
	case "trianglestripadjacency":
		return TopologyTriangleStripAdj, nil
	case "linelistadjacency":
		return TopologyLineListAdj, nil
	case "linestripadjacency":
		return TopologyLineStripAdj, nil
	case "patches", "patch":
		return TopologyPatchList, nil
	}
	return 0, fmt.Errorf("capture: unknown topology %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t Topology) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Topology) UnmarshalText(text []byte) error {
	v, err := ParseTopology(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Triangles estimates the number of triangles rasterized for vertexCount
// vertices of one instance.
func (t Topology) Triangles(vertexCount uint64) uint64 {
	n := vertexCount
	switch t {
	case TopologyTriangleList:
		return n / 3
	case TopologyTriangleStrip, TopologyTriangleFan:
		if n < 3 {
			return 0
		}
		return n - 2
	case TopologyTriangleListAdj:
		return n / 6
	case TopologyTriangleStripAdj:
		if n < 6 {
			return 0
		}
		return (n - 4) / 2
	default:
		return 0
	}
}

// normalizeName lowercases s and drops separators so "triangle-list",
// "TRIANGLE_LIST" and "TriangleList" compare equal.
func normalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
