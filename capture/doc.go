// Package capture defines the boundary between the analysis engine and a
// recorded GPU frame capture.
//
// A [Session] is an already-open capture. The engine borrows it for the
// duration of one analysis run and reads four kinds of data through it:
// the action tree, per-event pipeline state, per-stage shader reflection
// with its bindpoint mapping, and the vertex input signature.
//
// # Providers
//
// Sessions are created by providers registered under a scheme name, in the
// style of database/sql drivers:
//
//	import _ "github.com/gogpu/gpuwaste/capture/local"  // registers "file"
//	import _ "github.com/gogpu/gpuwaste/capture/remote" // registers "remote"
//
//	s, err := capture.Open(ctx, "frame.yaml", capture.OpenOptions{})
//
// # Errors
//
// Connection and open failures wrap [ErrSessionUnavailable] and are fatal to
// a run. Failures to read one event's data are reported as
// [*CaptureReadError] and only skip that draw. Missing reflection for a stage
// wraps [ErrStageDataAbsent] and is not an error for the analysis.
//
// # Concurrency
//
// Sessions backed by a single stateful connection do not tolerate
// interleaved requests. Wrap them with [Serialize] before sharing them
// between goroutines.
package capture
