package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gogpu/gpuwaste"
	"github.com/gogpu/gpuwaste/internal/config"
	"github.com/muesli/termenv"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

func render(w io.Writer, out config.OutputConfig, results []result) error {
	switch out.Format {
	case config.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return err
		}
		return enc.Close()
	}
	return newTextRenderer(w, out.NoColor).render(results)
}

// textRenderer writes reports for a terminal.
type textRenderer struct {
	out *termenv.Output
	p   *message.Printer
}

func newTextRenderer(w io.Writer, noColor bool) *textRenderer {
	var opts []termenv.OutputOption
	if noColor || termenv.EnvNoColor() {
		opts = append(opts, termenv.WithProfile(termenv.Ascii))
	}
	return &textRenderer{
		out: termenv.NewOutput(w, opts...),
		p:   message.NewPrinter(language.English),
	}
}

func (t *textRenderer) heading(s string) string {
	return t.out.String(s).Bold().String()
}

func (t *textRenderer) warn(s string) string {
	return t.out.String(s).Foreground(t.out.Color("3")).String()
}

func (t *textRenderer) bytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return t.p.Sprintf("%d B (%.1f GiB)", n, float64(n)/(1<<30))
	case n >= 1<<20:
		return t.p.Sprintf("%d B (%.1f MiB)", n, float64(n)/(1<<20))
	case n >= 1<<10:
		return t.p.Sprintf("%d B (%.1f KiB)", n, float64(n)/(1<<10))
	}
	return t.p.Sprintf("%d B", n)
}

func (t *textRenderer) value(v float64, unit gpuwaste.Unit) string {
	switch unit {
	case gpuwaste.UnitBytes:
		return t.bytes(uint64(v))
	case gpuwaste.UnitRatio:
		return t.p.Sprintf("%.2fx", v)
	case gpuwaste.UnitPercent:
		return t.p.Sprintf("%.1f%%", v)
	case gpuwaste.UnitPixels:
		return t.p.Sprintf("%.0f px", v)
	}
	return t.p.Sprintf("%.0f", v)
}

func (t *textRenderer) render(results []result) error {
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(t.out)
		}
		t.report(res.Target, res.Report)
	}
	return nil
}

func (t *textRenderer) report(target string, r *gpuwaste.Report) {
	fmt.Fprintln(t.out, t.heading("== "+target+" =="))
	t.p.Fprintf(t.out, "Draws analyzed:          %d\n", r.TotalDraws)
	t.p.Fprintf(t.out, "Draws with waste:        %d\n", r.DrawsWithWaste)
	t.p.Fprintf(t.out, "Unused bindings:         %d\n", r.UnusedBindingCount)
	fmt.Fprintf(t.out, "Wasted vertex bandwidth: %s\n", t.bytes(r.TotalWastedBandwidth))
	if r.SkippedDraws > 0 {
		fmt.Fprintln(t.out, t.warn(t.p.Sprintf("Skipped draws:           %d", r.SkippedDraws)))
	}
	if r.Truncated {
		fmt.Fprintln(t.out, t.warn("Analysis stopped early; counts cover the draws processed."))
	}

	if len(r.Findings) > 0 {
		fmt.Fprintln(t.out)
		fmt.Fprintln(t.out, t.heading("Findings"))
		for _, f := range r.Findings {
			fmt.Fprintf(t.out, "  %s\n", f.String())
		}
	}
	if len(r.Diagnostics) > 0 {
		fmt.Fprintln(t.out)
		fmt.Fprintln(t.out, t.heading("Diagnostics"))
		for _, d := range r.Diagnostics {
			fmt.Fprintf(t.out, "  %s\n", t.warn(d.Message))
		}
	}
	for _, s := range r.Sections {
		t.section(&s)
	}
}

func (t *textRenderer) section(s *gpuwaste.Section) {
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, t.heading(s.Title))
	for _, m := range s.Metrics {
		fmt.Fprintf(t.out, "  %-28s %s\n", m.Label+":", t.value(m.Value, m.Unit))
	}
	for _, e := range s.Entries {
		line := fmt.Sprintf("  - %s: %s", e.Label, t.value(e.Value, e.Unit))
		if e.EventID != 0 {
			line += fmt.Sprintf(" (event %d)", e.EventID)
		}
		if e.Detail != "" {
			line += " " + e.Detail
		}
		fmt.Fprintln(t.out, line)
	}
}
