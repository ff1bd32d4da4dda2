package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gogpu/gpuwaste"
	"github.com/gogpu/gpuwaste/capture"
	_ "github.com/gogpu/gpuwaste/capture/local"
	"github.com/gogpu/gpuwaste/capture/remote"
	"github.com/gogpu/gpuwaste/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the state shared by the commands of one invocation.
type app struct {
	stdout, stderr io.Writer

	configPath string
	format     string
	noColor    bool
	workers    int
	timeout    time.Duration
	logLevel   string

	cfg  *config.Config
	log  *zap.Logger
	exit int
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "gpuwaste",
		Short:         "Find wasted GPU work in frame captures",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "configuration file (default "+config.DefaultPath+")")
	pf.StringVarP(&a.format, "format", "f", "", "output format: text, json or yaml")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	pf.IntVarP(&a.workers, "workers", "j", 0, "draws inspected concurrently (0: one per CPU)")
	pf.DurationVar(&a.timeout, "timeout", 0, "stop the analysis after this long and report what was covered")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newAnalyzeCommand(a),
		newDetectorsCommand(a),
		newServeCommand(a),
	)
	return root
}

// setup loads the configuration and applies the flags given on the
// command line over it.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Output.Format = a.format
	}
	if flags.Changed("no-color") {
		cfg.Output.NoColor = a.noColor
	}
	if flags.Changed("workers") {
		cfg.Workers = a.workers
	}
	if flags.Changed("timeout") {
		cfg.Timeout = config.Duration(a.timeout)
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	log, err := newLogger(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	a.log = log
	installLogger(log)
	return nil
}

func (a *app) close() {
	if a.log != nil {
		a.log.Sync()
		gpuwaste.SetLogger(nil)
	}
}

// resolveTarget expands the bare word "remote" to the configured remote
// address.
func (a *app) resolveTarget(target string) string {
	if target == capture.SchemeRemote || target == capture.SchemeRemote+":" {
		return capture.SchemeRemote + ":" + a.cfg.RemoteAddress
	}
	return target
}

func newDetectorsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detectors",
		Short: "List the available detectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, name := range gpuwaste.DetectorNames() {
				fmt.Fprintf(w, "%-10s %s\n", name, detectorDescriptions[name])
			}
			return nil
		},
	}
}

var detectorDescriptions = map[string]string{
	gpuwaste.DetectorBindings: "resources bound to shader slots the shader never reads",
	gpuwaste.DetectorVertex:   "vertex attributes fetched but never read",
	gpuwaste.DetectorOverdraw: "estimated shaded pixels per screen pixel, per pass",
	gpuwaste.DetectorGeometry: "triangle counts and the heaviest draws",
	gpuwaste.DetectorMemory:   "resource memory and oversized textures and buffers",
	gpuwaste.DetectorPasses:   "pass outputs no later pass reads",
	gpuwaste.DetectorStats:    "draw, dispatch and marker counts",
}

func newServeCommand(a *app) *cobra.Command {
	listen := capture.DefaultRemoteAddress
	cmd := &cobra.Command{
		Use:   "serve <capture>",
		Short: "Serve a capture to remote clients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := capture.Open(ctx, a.resolveTarget(args[0]), a.cfg.OpenOptions())
			if err != nil {
				return err
			}
			defer s.Close()
			a.log.Info("serving capture", zap.String("capture", args[0]), zap.String("listen", listen))
			return serve(ctx, listen, s)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", listen, "address to listen on")
	return cmd
}

func defaultServe(ctx context.Context, addr string, s capture.Session) error {
	return remote.ListenAndServe(ctx, addr, s)
}

// serve is replaced in tests.
var serve = defaultServe

// splitDetectors parses a comma-separated detector list.
func splitDetectors(arg string) []string {
	var names []string
	for _, n := range strings.Split(arg, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
