package gpuwaste

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpuwaste/capture"
)

type passDraw struct {
	pass    string
	index   int
	draw    int
	outputs []capture.ResourceID
	reads   []capture.ResourceID
}

type passIO struct {
	name     string
	index    int
	lastDraw int
	outputs  []capture.ResourceID
	reads    map[capture.ResourceID]struct{}
}

// PassDetector tracks data flow between passes. A pass's outputs are the
// targets written by its last draw, or the read-write resources of its
// last dispatch. An output no later pass reads is reported as a dead
// render. The final pass of the frame is exempt since its outputs are
// presented rather than read.
type PassDetector struct {
	thresholds Thresholds
	staged     staging[passDraw]

	mu     sync.Mutex
	passes map[int]*passIO
}

// NewPassDetector returns a PassDetector.
func NewPassDetector(t Thresholds) *PassDetector {
	return &PassDetector{
		thresholds: t.withDefaults(),
		passes:     make(map[int]*passIO),
	}
}

func (d *PassDetector) Name() string { return DetectorPasses }

func (d *PassDetector) Inspect(ctx context.Context, s capture.Session, draw *DrawCallRecord) ([]Finding, error) {
	if draw.PassIndex < 0 {
		return nil, nil
	}

	pd := passDraw{pass: draw.Pass, index: draw.PassIndex, draw: draw.Index}
	for _, st := range draw.Stages.Stages() {
		slots, err := s.Bindpoints(ctx, draw.EventID, st)
		if errors.Is(err, capture.ErrStageDataAbsent) {
			continue
		}
		if err != nil {
			return nil, classifyStage(ctx, "bindpoints", draw.EventID, st, err)
		}
		for _, slot := range slots {
			if slot.ArraySize == 0 || slot.Resource == 0 || slot.Kind == capture.ResourceConstantBuffer {
				continue
			}
			pd.reads = append(pd.reads, slot.Resource)
			if draw.Dispatch && st == capture.StageCompute && slot.Kind == capture.ResourceReadWrite {
				pd.outputs = append(pd.outputs, slot.Resource)
			}
		}
	}
	if !draw.Dispatch {
		for _, id := range draw.ColorTargets {
			if id != 0 {
				pd.outputs = append(pd.outputs, id)
			}
		}
		if draw.DepthTarget != 0 {
			pd.outputs = append(pd.outputs, draw.DepthTarget)
		}
	}
	d.staged.put(draw.Index, pd)
	return nil, nil
}

// Settle implements Settler.
func (d *PassDetector) Settle(draw int, keep bool) {
	pd, ok := d.staged.take(draw, keep)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.passes[pd.index]
	if p == nil {
		p = &passIO{name: pd.pass, index: pd.index, lastDraw: -1, reads: make(map[capture.ResourceID]struct{})}
		d.passes[pd.index] = p
	}
	for _, id := range pd.reads {
		p.reads[id] = struct{}{}
	}
	if pd.draw > p.lastDraw {
		p.lastDraw = pd.draw
		p.outputs = pd.outputs
	}
}

// Summarize implements Summarizer. Resource names and sizes come from the
// inventory when the session provides one.
func (d *PassDetector) Summarize(ctx context.Context, s capture.Session) (Section, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sec := Section{Detector: DetectorPasses, Title: "Pass dependencies"}
	if len(d.passes) == 0 {
		return sec, nil
	}

	inv, err := s.Resources(ctx)
	if err != nil {
		if fatal(ctx, err) {
			return Section{}, err
		}
		inv = &capture.Inventory{}
	}

	order := make([]*passIO, 0, len(d.passes))
	for _, p := range d.passes {
		order = append(order, p)
	}
	slices.SortFunc(order, func(a, b *passIO) int { return a.index - b.index })

	var (
		outputs, dead int
		deadBytes     uint64
	)
	final := len(order) - 1
	for final >= 0 && len(order[final].outputs) == 0 {
		final--
	}
	for i, p := range order {
		outputs += len(p.outputs)
		if i == final {
			continue
		}
		for _, id := range p.outputs {
			if readLater(order[i+1:], id) {
				continue
			}
			dead++
			name, size := describeResource(inv, id)
			deadBytes += size
			sec.Entries = append(sec.Entries, Entry{
				Label:  p.name,
				Value:  float64(size),
				Unit:   UnitBytes,
				Detail: fmt.Sprintf("%s is never read by a later pass", name),
			})
		}
	}
	sortEntries(sec.Entries)

	sec.Metrics = []Metric{
		countMetric("passes", "Passes with work", len(order)),
		countMetric("outputs", "Pass outputs", outputs),
		countMetric("dead_outputs", "Outputs never read", dead),
		bytesMetric("dead_bytes", "Memory of outputs never read", deadBytes),
	}
	return sec, nil
}

func readLater(later []*passIO, id capture.ResourceID) bool {
	for _, q := range later {
		if _, ok := q.reads[id]; ok {
			return true
		}
	}
	return false
}

func describeResource(inv *capture.Inventory, id capture.ResourceID) (string, uint64) {
	if tex, ok := inv.Texture(id); ok {
		return resourceLabel(tex.Name, id), capture.TextureByteSize(tex)
	}
	for i := range inv.Buffers {
		if inv.Buffers[i].ID == id {
			return resourceLabel(inv.Buffers[i].Name, id), inv.Buffers[i].ByteSize
		}
	}
	return resourceLabel("", id), 0
}
