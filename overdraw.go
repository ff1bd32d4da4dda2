package gpuwaste

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpuwaste/capture"
)

// minMainTargetSide is the smallest width and height a colour target must
// have to be considered the main render target.
const minMainTargetSide = 256

type overdrawStage struct {
	pass      string
	passIndex int
	triangles uint64
	targets   []capture.ResourceID
}

type passGeometry struct {
	name      string
	index     int
	triangles uint64
}

type targetSize struct{ w, h uint32 }

// OverdrawDetector estimates per-pass overdraw. The main render target is
// the most frequently bound colour target size that is at least 256 pixels
// on each side and not square (square targets are usually shadow maps or
// lookup tables). Each triangle is assumed to shade a fixed number of
// pixels; passes whose shaded pixels exceed the main target's pixel count
// by more than the threshold ratio are listed.
type OverdrawDetector struct {
	thresholds Thresholds
	staged     staging[overdrawStage]

	mu      sync.Mutex
	passes  map[int]*passGeometry
	targets map[capture.ResourceID]int
}

// NewOverdrawDetector returns an OverdrawDetector.
func NewOverdrawDetector(t Thresholds) *OverdrawDetector {
	return &OverdrawDetector{
		thresholds: t.withDefaults(),
		passes:     make(map[int]*passGeometry),
		targets:    make(map[capture.ResourceID]int),
	}
}

func (d *OverdrawDetector) Name() string { return DetectorOverdraw }

func (d *OverdrawDetector) Inspect(_ context.Context, _ capture.Session, draw *DrawCallRecord) ([]Finding, error) {
	if draw.Dispatch || len(draw.ColorTargets) == 0 {
		return nil, nil
	}
	d.staged.put(draw.Index, overdrawStage{
		pass:      draw.Pass,
		passIndex: draw.PassIndex,
		triangles: draw.Topology.Triangles(uint64(draw.VertexCount)) * draw.Instances(),
		targets:   draw.ColorTargets,
	})
	return nil, nil
}

// Settle implements Settler.
func (d *OverdrawDetector) Settle(draw int, keep bool) {
	st, ok := d.staged.take(draw, keep)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.passes[st.passIndex]
	if p == nil {
		p = &passGeometry{name: st.pass, index: st.passIndex}
		if p.name == "" {
			p.name = "(outside passes)"
		}
		d.passes[st.passIndex] = p
	}
	p.triangles += st.triangles
	for _, id := range st.targets {
		if id != 0 {
			d.targets[id]++
		}
	}
}

// Summarize implements Summarizer. It reads the resource inventory to
// resolve target sizes.
func (d *OverdrawDetector) Summarize(ctx context.Context, s capture.Session) (Section, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sec := Section{Detector: DetectorOverdraw, Title: "Overdraw"}
	if len(d.passes) == 0 {
		return sec, nil
	}

	inv, err := s.Resources(ctx)
	if err != nil {
		return Section{}, err
	}

	main, ok := mainTarget(inv, d.targets)
	if !ok {
		sec.Metrics = append(sec.Metrics, countMetric("main_target_found", "Main render target found", 0))
		return sec, nil
	}
	screen := float64(main.w) * float64(main.h)

	order := make([]int, 0, len(d.passes))
	for i := range d.passes {
		order = append(order, i)
	}
	slices.Sort(order)

	var total uint64
	for _, i := range order {
		p := d.passes[i]
		total += p.triangles
		shaded := float64(p.triangles * d.thresholds.PixelsPerTriangle)
		ratio := shaded / screen
		if ratio <= d.thresholds.OverdrawRatio {
			continue
		}
		sec.Entries = append(sec.Entries, Entry{
			Label:  p.name,
			Value:  ratio,
			Unit:   UnitRatio,
			Detail: fmt.Sprintf("%d triangles over %dx%d", p.triangles, main.w, main.h),
		})
	}
	sortEntries(sec.Entries)

	sec.Metrics = append(sec.Metrics,
		countMetric("main_target_found", "Main render target found", 1),
		Metric{Key: "main_target_width", Label: "Main target width", Value: float64(main.w), Unit: UnitPixels},
		Metric{Key: "main_target_height", Label: "Main target height", Value: float64(main.h), Unit: UnitPixels},
		Metric{
			Key:   "frame_ratio",
			Label: "Estimated shaded pixels per screen pixel",
			Value: float64(total*d.thresholds.PixelsPerTriangle) / screen,
			Unit:  UnitRatio,
		},
		countMetric("passes_over_threshold", "Passes over threshold", len(sec.Entries)),
	)
	return sec, nil
}

// mainTarget picks the most used qualifying colour target size. Ties go to
// the larger area, then the wider target.
func mainTarget(inv *capture.Inventory, uses map[capture.ResourceID]int) (targetSize, bool) {
	counts := make(map[targetSize]int)
	for id, n := range uses {
		tex, ok := inv.Texture(id)
		if !ok {
			continue
		}
		if tex.Width < minMainTargetSide || tex.Height < minMainTargetSide || tex.Width == tex.Height {
			continue
		}
		counts[targetSize{tex.Width, tex.Height}] += n
	}
	if len(counts) == 0 {
		return targetSize{}, false
	}

	sizes := make([]targetSize, 0, len(counts))
	for sz := range counts {
		sizes = append(sizes, sz)
	}
	slices.SortFunc(sizes, func(a, b targetSize) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		areaA, areaB := uint64(a.w)*uint64(a.h), uint64(b.w)*uint64(b.h)
		if areaA != areaB {
			if areaA > areaB {
				return -1
			}
			return 1
		}
		return int(b.w) - int(a.w)
	})
	return sizes[0], true
}
