// Package executor provides the transports a real dispatch strategy runs
// commands through.
package executor

import (
	"context"
	"fmt"

	"github.com/taskfleet/dispatch/pkg/play"
)

// Executor knows how to run a command on one target, apply its own
// resilience (retries, breakers), and return output as line slices.
type Executor interface {
	Run(ctx context.Context, command string) (stdoutLines, stderrLines []string, err error)
}

// Factory builds an Executor for a host. Strategies hold a Factory so tests
// can substitute fakes without touching the network.
type Factory func(host play.Host) (Executor, error)

// Closer is implemented by executors holding a connection.
type Closer interface {
	Close() error
}

// ExitError reports a command that ran to completion with a nonzero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}
