// Command gpuwaste reports wasted GPU work in frame captures.
//
// Usage:
//
//	gpuwaste analyze bindings,vertex frame.yaml
//	gpuwaste analyze all remote:localhost:38920 --format json
//	gpuwaste serve frame.yaml --listen :38920
//	gpuwaste detectors
//
// Exit status is 0 for a clean run, 1 when draws were skipped because
// their data could not be read, and 2 when a capture could not be opened,
// the connection was lost, or the command line was invalid.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes.
const (
	exitClean   = 0
	exitSkipped = 1
	exitFailure = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "gpuwaste:", err)
		return exitFailure
	}
	return a.exit
}
