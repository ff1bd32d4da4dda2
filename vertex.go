package gpuwaste

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gogpu/gpuwaste/capture"
)

// AnalyzeVertexInputs returns an UnusedVertexAttribute finding for every
// attribute of the vertex input signature whose channel mask is empty.
//
// The cost of a finding is the attribute's byte size times the draw's
// vertex count; instancing is not taken into account. Attributes with a
// partial mask are not reported. Findings keep the signature order.
func AnalyzeVertexInputs(draw *DrawCallRecord, attrs []capture.VertexInputAttribute) []Finding {
	ref := draw.Ref()
	var out []Finding
	for _, a := range attrs {
		if !a.ChannelMask.Unused() {
			continue
		}
		out = append(out, Finding{
			Kind:     UnusedVertexAttribute,
			Draw:     ref,
			Stage:    capture.StageVertex,
			Cost:     uint64(a.ByteSize) * uint64(draw.VertexCount),
			Semantic: a.Semantic,
			Slot:     a.Location,
		})
	}
	return out
}

type semanticTally struct {
	provided int
	used     int
	wasted   int
}

type vertexStage struct {
	semantics map[string]semanticTally
	wasted    uint64
	entry     Entry
}

// VertexDetector reports vertex attributes the vertex shader never reads.
// Dispatches and draws without a vertex shader are ignored.
type VertexDetector struct {
	thresholds Thresholds
	staged     staging[vertexStage]

	mu        sync.Mutex
	semantics map[string]semanticTally
	wasted    uint64
	draws     int
	worst     []Entry
}

// NewVertexDetector returns a VertexDetector.
func NewVertexDetector(t Thresholds) *VertexDetector {
	return &VertexDetector{
		thresholds: t.withDefaults(),
		semantics:  make(map[string]semanticTally),
	}
}

func (d *VertexDetector) Name() string { return DetectorVertex }

func (d *VertexDetector) Inspect(ctx context.Context, s capture.Session, draw *DrawCallRecord) ([]Finding, error) {
	if draw.Dispatch || !draw.Stages.Has(capture.StageVertex) {
		return nil, nil
	}
	attrs, err := s.VertexInputs(ctx, draw.EventID)
	if errors.Is(err, capture.ErrStageDataAbsent) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStage(ctx, "vertexInputs", draw.EventID, capture.StageVertex, err)
	}

	out := AnalyzeVertexInputs(draw, attrs)

	st := vertexStage{semantics: make(map[string]semanticTally, len(attrs))}
	for _, a := range attrs {
		t := st.semantics[a.Semantic]
		t.provided++
		if a.ChannelMask.Unused() {
			t.wasted++
		} else {
			t.used++
		}
		st.semantics[a.Semantic] = t
	}
	var names []string
	for _, f := range out {
		st.wasted += f.Cost
		names = append(names, f.Semantic)
	}
	if st.wasted > d.thresholds.VertexWorstDrawBytes {
		st.entry = Entry{
			Label:   drawLabel(draw),
			EventID: draw.EventID,
			Value:   float64(st.wasted),
			Unit:    UnitBytes,
			Detail:  strings.Join(names, ", "),
		}
	}
	d.staged.put(draw.Index, st)
	return out, nil
}

// Settle implements Settler.
func (d *VertexDetector) Settle(draw int, keep bool) {
	st, ok := d.staged.take(draw, keep)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draws++
	d.wasted += st.wasted
	for name, t := range st.semantics {
		acc := d.semantics[name]
		acc.provided += t.provided
		acc.used += t.used
		acc.wasted += t.wasted
		d.semantics[name] = acc
	}
	if st.entry.Label != "" {
		d.worst = append(d.worst, st.entry)
	}
}

// Summarize implements Summarizer.
func (d *VertexDetector) Summarize(context.Context, capture.Session) (Section, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sec := Section{
		Detector: DetectorVertex,
		Title:    "Vertex attributes",
		Metrics: []Metric{
			countMetric("draws", "Draws with vertex input", d.draws),
			bytesMetric("wasted_bytes", "Wasted vertex fetch", d.wasted),
		},
	}

	// Per-semantic waste, by semantic name.
	for _, name := range slices.Sorted(maps.Keys(d.semantics)) {
		t := d.semantics[name]
		if t.wasted == 0 {
			continue
		}
		sec.Metrics = append(sec.Metrics, Metric{
			Key:   "wasted_" + name,
			Label: name + " unused (of " + strconv.Itoa(t.provided) + " provided)",
			Value: float64(t.wasted),
			Unit:  UnitCount,
		})
	}
	sec.Entries = topEntries(slices.Clone(d.worst), d.thresholds.TopDraws)
	return sec, nil
}
