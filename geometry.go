package gpuwaste

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpuwaste/capture"
)

type geometryStage struct {
	vertices  uint64
	triangles uint64
	instanced bool
	topology  capture.Topology
	entry     Entry
}

// GeometryDetector totals the geometry submitted by draws: vertices,
// triangles estimated from each draw's topology, and instancing. Its
// section lists the heaviest draws by triangle count.
type GeometryDetector struct {
	thresholds Thresholds
	staged     staging[geometryStage]

	mu         sync.Mutex
	draws      int
	instanced  int
	vertices   uint64
	triangles  uint64
	topologies map[capture.Topology]int
	heaviest   []Entry
}

// NewGeometryDetector returns a GeometryDetector.
func NewGeometryDetector(t Thresholds) *GeometryDetector {
	return &GeometryDetector{
		thresholds: t.withDefaults(),
		topologies: make(map[capture.Topology]int),
	}
}

func (d *GeometryDetector) Name() string { return DetectorGeometry }

func (d *GeometryDetector) Inspect(_ context.Context, _ capture.Session, draw *DrawCallRecord) ([]Finding, error) {
	if draw.Dispatch {
		return nil, nil
	}
	instances := draw.Instances()
	st := geometryStage{
		vertices:  uint64(draw.VertexCount) * instances,
		triangles: draw.Topology.Triangles(uint64(draw.VertexCount)) * instances,
		instanced: instances > 1,
		topology:  draw.Topology,
	}
	if st.triangles > 0 {
		st.entry = Entry{
			Label:   drawLabel(draw),
			EventID: draw.EventID,
			Value:   float64(st.triangles),
			Unit:    UnitCount,
			Detail:  fmt.Sprintf("%s, %d instance(s)", draw.Topology, instances),
		}
	}
	d.staged.put(draw.Index, st)
	return nil, nil
}

// Settle implements Settler.
func (d *GeometryDetector) Settle(draw int, keep bool) {
	st, ok := d.staged.take(draw, keep)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draws++
	d.vertices += st.vertices
	d.triangles += st.triangles
	d.topologies[st.topology]++
	if st.instanced {
		d.instanced++
	}
	if st.entry.Label != "" {
		d.heaviest = append(d.heaviest, st.entry)
	}
}

// Summarize implements Summarizer.
func (d *GeometryDetector) Summarize(context.Context, capture.Session) (Section, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sec := Section{
		Detector: DetectorGeometry,
		Title:    "Geometry",
		Metrics: []Metric{
			countMetric("draws", "Draw calls", d.draws),
			countMetric("instanced_draws", "Instanced draws", d.instanced),
			{Key: "vertices", Label: "Vertices", Value: float64(d.vertices), Unit: UnitCount},
			{Key: "triangles", Label: "Triangles (estimated)", Value: float64(d.triangles), Unit: UnitCount},
		},
	}
	topos := make([]capture.Topology, 0, len(d.topologies))
	for t := range d.topologies {
		topos = append(topos, t)
	}
	slices.Sort(topos)
	for _, t := range topos {
		sec.Metrics = append(sec.Metrics, countMetric("topology_"+t.String(), t.String()+" draws", d.topologies[t]))
	}
	sec.Entries = topEntries(slices.Clone(d.heaviest), d.thresholds.TopDraws)
	return sec, nil
}
