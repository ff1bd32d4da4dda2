package gpuwaste

import (
	"context"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/gpuwaste/capture"
)

// MemoryDetector summarizes the resource inventory: texture and buffer
// footprints, a per-format breakdown and the resources above the size
// thresholds. It inspects no draws.
type MemoryDetector struct {
	thresholds Thresholds
}

// NewMemoryDetector returns a MemoryDetector.
func NewMemoryDetector(t Thresholds) *MemoryDetector {
	return &MemoryDetector{thresholds: t.withDefaults()}
}

func (d *MemoryDetector) Name() string { return DetectorMemory }

func (d *MemoryDetector) Inspect(context.Context, capture.Session, *DrawCallRecord) ([]Finding, error) {
	return nil, nil
}

type formatUsage struct {
	count int
	bytes uint64
}

// Summarize implements Summarizer.
func (d *MemoryDetector) Summarize(ctx context.Context, s capture.Session) (Section, error) {
	inv, err := s.Resources(ctx)
	if err != nil {
		return Section{}, err
	}

	var (
		texBytes, bufBytes uint64
		targets            int
		formats            = make(map[gputypes.TextureFormat]*formatUsage)
		entries            []Entry
	)
	for i := range inv.Textures {
		tex := &inv.Textures[i]
		size := capture.TextureByteSize(tex)
		texBytes += size
		if tex.Usage.Contains(gputypes.TextureUsageRenderAttachment) {
			targets++
		}

		fu := formats[tex.Format]
		if fu == nil {
			fu = &formatUsage{}
			formats[tex.Format] = fu
		}
		fu.count++
		fu.bytes += size

		if size > d.thresholds.LargeTextureBytes {
			entries = append(entries, Entry{
				Label:  resourceLabel(tex.Name, tex.ID),
				Value:  float64(size),
				Unit:   UnitBytes,
				Detail: fmt.Sprintf("texture %dx%d %s, %d mips", tex.Width, tex.Height, tex.Format, max(tex.MipLevels, 1)),
			})
		}
	}
	for i := range inv.Buffers {
		buf := &inv.Buffers[i]
		bufBytes += buf.ByteSize
		if buf.ByteSize > d.thresholds.LargeBufferBytes {
			entries = append(entries, Entry{
				Label:  resourceLabel(buf.Name, buf.ID),
				Value:  float64(buf.ByteSize),
				Unit:   UnitBytes,
				Detail: "buffer",
			})
		}
	}

	sec := Section{
		Detector: DetectorMemory,
		Title:    "Memory",
		Metrics: []Metric{
			countMetric("textures", "Textures", len(inv.Textures)),
			bytesMetric("texture_bytes", "Texture memory", texBytes),
			countMetric("render_targets", "Render targets", targets),
			countMetric("buffers", "Buffers", len(inv.Buffers)),
			bytesMetric("buffer_bytes", "Buffer memory", bufBytes),
			bytesMetric("total_bytes", "Total memory", texBytes+bufBytes),
		},
	}

	keys := make([]gputypes.TextureFormat, 0, len(formats))
	for f := range formats {
		keys = append(keys, f)
	}
	slices.Sort(keys)
	for _, f := range keys {
		fu := formats[f]
		sec.Metrics = append(sec.Metrics,
			bytesMetric("format_"+f.String(), fmt.Sprintf("%s (%d textures)", f, fu.count), fu.bytes))
	}

	sec.Entries = topEntries(entries, d.thresholds.TopDraws)
	return sec, nil
}

func resourceLabel(name string, id capture.ResourceID) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("resource %d", id)
}
