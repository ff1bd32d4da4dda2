package gpuwaste

import (
	"runtime"
	"time"
)

// Option configures an Engine.
// Use functional options to customize analysis behavior.
//
// Example:
//
//	e, err := gpuwaste.New(
//	    gpuwaste.WithDetectors("bindings", "vertex", "memory"),
//	    gpuwaste.WithWorkers(4),
//	)
type Option func(*options)

// options holds optional configuration for the engine.
type options struct {
	detectors  []string
	workers    int
	thresholds Thresholds
	timeout    time.Duration
}

// defaultOptions returns the default options: the two core detectors,
// sequential inspection, default thresholds, no timeout.
func defaultOptions() options {
	return options{
		detectors:  []string{DetectorBindings, DetectorVertex},
		workers:    1,
		thresholds: DefaultThresholds(),
	}
}

// WithDetectors selects the detectors to run, by registered name.
// The name "all" selects every registered detector.
// Detectors run on each draw in the order given; duplicates are ignored.
//
// Example:
//
//	gpuwaste.Analyze(ctx, s, gpuwaste.WithDetectors("all"))
func WithDetectors(names ...string) Option {
	return func(o *options) {
		o.detectors = append([]string(nil), names...)
	}
}

// WithWorkers sets the number of draws inspected concurrently.
// Zero or a negative value uses GOMAXPROCS. Session calls are serialized
// whatever the worker count.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		o.workers = n
	}
}

// WithThresholds sets the thresholds of the auxiliary detectors.
// Zero fields keep their defaults.
func WithThresholds(t Thresholds) Option {
	return func(o *options) {
		o.thresholds = t.withDefaults()
	}
}

// WithTimeout bounds the traversal. When it expires the run stops and
// returns a truncated report. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = max(d, 0)
	}
}
