// Package gpuwaste finds wasted work in recorded GPU frames.
//
// # Overview
//
// gpuwaste walks the draw calls of a frame capture, correlates the
// compiler's reflection of each bound shader with the resources actually
// bound at that draw, and reports two kinds of waste:
//
//   - resources bound to a shader slot the shader never reads
//     (UnusedBinding), and
//   - vertex attributes fetched for every vertex although the vertex
//     shader never reads them (UnusedVertexAttribute).
//
// Findings are folded into an immutable Report with totals: wasted vertex
// bandwidth in bytes, the number of unused bindings, and the number of
// draws affected.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpuwaste"
//	    "github.com/gogpu/gpuwaste/capture"
//	    _ "github.com/gogpu/gpuwaste/capture/local" // file: targets
//	)
//
//	s, err := capture.Open(ctx, "frame.yaml", capture.OpenOptions{})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	report, err := gpuwaste.Analyze(ctx, s)
//	if err != nil {
//	    return err // the capture became unreachable
//	}
//	fmt.Println(report.TotalWastedBandwidth, report.UnusedBindingCount)
//
// # Detectors
//
// Work is split into detectors registered by name, following the
// database/sql driver pattern. "bindings" and "vertex" produce findings
// and run by default. The auxiliary detectors "overdraw", "geometry",
// "memory", "passes" and "stats" contribute report sections only. Select
// them with WithDetectors; "all" selects every registered detector.
//
// # Failure Model
//
// A draw whose data cannot be read is skipped: none of its findings are
// reported, it is counted in Report.SkippedDraws and described in
// Report.Diagnostics, and the run continues. Cancelling the context or
// exceeding the timeout yields a partial report with Truncated set. Only
// losing the session (capture.ErrSessionUnavailable) fails the run.
//
// # Concurrency
//
// With WithWorkers(n), up to n draws are inspected concurrently. The
// session is wrapped with capture.Serialize so that it sees one call at a
// time. Report order does not depend on the worker count.
package gpuwaste
