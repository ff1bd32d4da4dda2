package gpuwaste

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpuwaste/capture"
)

// CorrelateBindings matches the runtime bindpoints of one stage against the
// shader's reflection and returns an UnusedBinding finding for every slot
// that has a resource bound (ArraySize > 0) but is not statically used.
//
// Findings are ordered by slot, then resource kind. The finding name comes
// from the reflection entry with the same kind and slot and is empty when
// the reflection does not declare it. A nil reflection yields no findings.
// CorrelateBindings does not modify its inputs.
func CorrelateBindings(draw *DrawCallRecord, stage capture.ShaderStage, refl *capture.Reflection, slots []capture.BindpointSlot) []Finding {
	if refl == nil || len(slots) == 0 {
		return nil
	}

	ordered := slices.Clone(slots)
	slices.SortStableFunc(ordered, func(a, b capture.BindpointSlot) int {
		if c := cmp.Compare(a.Slot, b.Slot); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})

	ref := draw.Ref()
	var out []Finding
	for _, s := range ordered {
		if s.ArraySize == 0 || s.Used {
			continue
		}
		f := Finding{
			Kind:     UnusedBinding,
			Draw:     ref,
			Stage:    stage,
			Cost:     1,
			Slot:     s.Slot,
			Resource: s.Kind,
		}
		if res, ok := refl.Lookup(s.Kind, s.Slot); ok {
			f.Name = res.Name
		}
		out = append(out, f)
	}
	return out
}

// bindingTally counts bindpoint slots by state.
type bindingTally struct {
	declared [capture.NumResourceKinds]int
	bound    [capture.NumResourceKinds]int
	unused   [capture.NumResourceKinds]int
}

func (t *bindingTally) add(o *bindingTally) {
	for k := range capture.NumResourceKinds {
		t.declared[k] += o.declared[k]
		t.bound[k] += o.bound[k]
		t.unused[k] += o.unused[k]
	}
}

type bindingStage struct {
	tally  bindingTally
	unused int
	entry  Entry
}

// BindingDetector reports bound but unused resource slots for every active
// stage of a draw. Its section breaks the slots down by resource kind and
// lists the draws with the most unused slots.
type BindingDetector struct {
	thresholds Thresholds
	staged     staging[bindingStage]

	mu    sync.Mutex
	total bindingTally
	worst []Entry
}

// NewBindingDetector returns a BindingDetector.
func NewBindingDetector(t Thresholds) *BindingDetector {
	return &BindingDetector{thresholds: t.withDefaults()}
}

func (d *BindingDetector) Name() string { return DetectorBindings }

// Inspect reads reflection and bindpoints of every active stage in stage
// order. Stages without data are skipped.
func (d *BindingDetector) Inspect(ctx context.Context, s capture.Session, draw *DrawCallRecord) ([]Finding, error) {
	var (
		out   []Finding
		stage bindingStage
	)
	for _, st := range draw.Stages.Stages() {
		refl, err := s.Reflection(ctx, draw.EventID, st)
		if errors.Is(err, capture.ErrStageDataAbsent) {
			continue
		}
		if err != nil {
			return nil, classifyStage(ctx, "reflection", draw.EventID, st, err)
		}
		slots, err := s.Bindpoints(ctx, draw.EventID, st)
		if errors.Is(err, capture.ErrStageDataAbsent) {
			continue
		}
		if err != nil {
			return nil, classifyStage(ctx, "bindpoints", draw.EventID, st, err)
		}

		for _, slot := range slots {
			if int(slot.Kind) >= capture.NumResourceKinds {
				continue
			}
			stage.tally.declared[slot.Kind]++
			if slot.ArraySize > 0 {
				stage.tally.bound[slot.Kind]++
				if !slot.Used {
					stage.tally.unused[slot.Kind]++
				}
			}
		}
		out = append(out, CorrelateBindings(draw, st, refl, slots)...)
	}

	stage.unused = len(out)
	if stage.unused >= d.thresholds.BindingWorstDrawUnused {
		stage.entry = Entry{
			Label:   drawLabel(draw),
			EventID: draw.EventID,
			Value:   float64(stage.unused),
			Unit:    UnitCount,
			Detail:  unusedSlotList(out),
		}
	}
	d.staged.put(draw.Index, stage)
	return out, nil
}

// Settle implements Settler.
func (d *BindingDetector) Settle(draw int, keep bool) {
	st, ok := d.staged.take(draw, keep)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total.add(&st.tally)
	if st.entry.Label != "" {
		d.worst = append(d.worst, st.entry)
	}
}

// Summarize implements Summarizer.
func (d *BindingDetector) Summarize(context.Context, capture.Session) (Section, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sec := Section{Detector: DetectorBindings, Title: "Resource bindings"}
	var declared, bound, unused int
	for k := range capture.NumResourceKinds {
		kind := capture.ResourceKind(k)
		declared += d.total.declared[k]
		bound += d.total.bound[k]
		unused += d.total.unused[k]
		sec.Metrics = append(sec.Metrics,
			countMetric("unused_"+kind.String(), "Unused "+kind.String()+" slots", d.total.unused[k]))
	}
	sec.Metrics = append([]Metric{
		countMetric("declared", "Declared slots", declared),
		countMetric("bound", "Bound slots", bound),
		countMetric("unused", "Bound but unused slots", unused),
	}, sec.Metrics...)
	if bound > 0 {
		sec.Metrics = append(sec.Metrics, Metric{
			Key:   "unused_share",
			Label: "Unused share of bound slots",
			Value: 100 * float64(unused) / float64(bound),
			Unit:  UnitPercent,
		})
	}
	sec.Entries = topEntries(slices.Clone(d.worst), d.thresholds.TopDraws)
	return sec, nil
}

func unusedSlotList(findings []Finding) string {
	b := make([]byte, 0, 8*len(findings))
	for i, f := range findings {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = fmt.Appendf(b, "%s:%s%d", f.Stage, f.Resource, f.Slot)
	}
	return string(b)
}

// drawLabel names a draw for section entries.
func drawLabel(draw *DrawCallRecord) string {
	if draw.Name != "" {
		return draw.Name
	}
	return fmt.Sprintf("draw %d", draw.Index)
}

func classifyStage(ctx context.Context, op string, event capture.EventID, stage capture.ShaderStage, err error) error {
	if fatal(ctx, err) || capture.IsReadError(err) {
		return err
	}
	return capture.NewStageReadError(op, event, stage, err)
}
