package main

import (
	"context"
	"errors"

	"github.com/gogpu/gpuwaste"
	"github.com/gogpu/gpuwaste/capture"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxOpenTargets bounds the captures analysed at the same time.
const maxOpenTargets = 4

// result is the outcome of analysing one target.
type result struct {
	Target string           `json:"target" yaml:"target"`
	Report *gpuwaste.Report `json:"report" yaml:"report"`
}

func newAnalyzeCommand(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "analyze <detector[,detector...]|all> <target>...",
		Short: "Analyze captures and print a waste report",
		Long: `Analyze runs the named detectors over each target and prints one report
per target. A target is a capture file, remote:<host:port>, a ws:// URL,
or "remote" for the configured remote address.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			detectors := splitDetectors(args[0])
			if _, err := gpuwaste.New(a.cfg.EngineOptions(detectors...)...); err != nil {
				return err
			}
			targets := make([]string, len(args)-1)
			for i, t := range args[1:] {
				targets[i] = a.resolveTarget(t)
			}
			if watch {
				return a.watch(cmd.Context(), detectors, targets)
			}
			results, err := a.analyzeAll(cmd.Context(), detectors, targets)
			if err != nil {
				return err
			}
			return a.report(results)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-run when a local capture or its shaders change")
	return cmd
}

// analyzeAll analyses targets concurrently. Losing any session fails the
// whole command.
func (a *app) analyzeAll(ctx context.Context, detectors, targets []string) ([]result, error) {
	results := make([]result, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxOpenTargets)
	for i, target := range targets {
		g.Go(func() error {
			r, err := a.analyze(ctx, detectors, target)
			if err != nil {
				return err
			}
			results[i] = result{Target: target, Report: r}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *app) analyze(ctx context.Context, detectors []string, target string) (*gpuwaste.Report, error) {
	s, err := capture.Open(ctx, target, a.cfg.OpenOptions())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	r, err := gpuwaste.Analyze(ctx, s, a.cfg.EngineOptions(detectors...)...)
	if err != nil {
		if errors.Is(err, capture.ErrSessionUnavailable) {
			a.log.Error("session lost", zap.String("target", target), zap.Error(err))
		}
		return nil, err
	}
	if err := r.Err(); err != nil {
		a.log.Warn("analysis incomplete", zap.String("target", target),
			zap.Int("skipped", r.SkippedDraws), zap.Error(err))
	}
	return r, nil
}

// report prints results and sets the exit code from them.
func (a *app) report(results []result) error {
	a.exit = exitClean
	for _, res := range results {
		if res.Report.SkippedDraws > 0 || len(res.Report.Diagnostics) > 0 {
			a.exit = exitSkipped
		}
	}
	return render(a.stdout, a.cfg.Output, results)
}
