// Package strategy defines the pluggable dispatch policy: how (host, task)
// work items are queued for a play and how their results are reported back
// to the coordinator through the callback bus.
package strategy

import (
	"errors"
	"fmt"

	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/pkg/callback"
	"github.com/taskfleet/dispatch/pkg/play"
)

// ErrUnknownHost marks a contract violation: queuing work for a host the
// current play does not know. Fatal to the run, never swallowed.
var ErrUnknownHost = errors.New("host not part of the current play")

// Iterator walks the play being run. Strategies treat it as opaque beyond
// reaching the play itself; the coordinator owns the actual stepping.
type Iterator interface {
	Play() *play.Play
}

// DispatchStrategy is the policy contract every concrete strategy satisfies.
// All methods are invoked from the coordinator's single control goroutine;
// implementations need not be safe for concurrent use.
type DispatchStrategy interface {
	// HandleMetaTask handles engine-internal control actions that bypass
	// normal queuing. It returns its results synchronously and must not block.
	HandleMetaTask(task play.Task, host play.Host, rc *play.RunContext) ([]TaskResult, error)

	// QueueTask records the intent to run task on host. It must not execute
	// anything. Queuing for an unknown host returns ErrUnknownHost.
	QueueTask(host play.Host, task play.Task, taskVars map[string]any, rc *play.RunContext) error

	// ProcessPendingResults drains some or all pending work into TaskResults,
	// publishing one event per result plus any strategy-specific summary.
	// maxPasses is a cooperative yield budget for strategies whose processing
	// is iterative; a strategy without iterative structure may ignore it.
	// The returned slice covers this call only, in the strategy's drain order.
	ProcessPendingResults(it Iterator, maxPasses int) ([]TaskResult, error)
}

// base carries the collaborators every strategy needs: the play it serves,
// the injected callback bus, the run context and a logger. Concrete
// strategies embed it instead of reimplementing host checks and result
// publication.
type base struct {
	play *play.Play
	bus  *callback.Bus
	rc   *play.RunContext
	lg   lg.Logger
}

func newBase(p *play.Play, bus *callback.Bus, rc *play.RunContext, logger lg.Logger) base {
	if logger == nil {
		logger = lg.Discard
	}
	return base{play: p, bus: bus, rc: rc, lg: logger}
}

// checkHost enforces the queuing contract.
func (b *base) checkHost(host play.Host) error {
	if !b.play.KnowsHost(host.Name) {
		return fmt.Errorf("queue task for %q: %w", host.Name, ErrUnknownHost)
	}
	return nil
}

// publishResult emits the per-result event for a completed unit of work.
func (b *base) publishResult(res TaskResult) {
	event := callback.EventRunnerOK
	switch {
	case res.Failed():
		event = callback.EventRunnerFailed
	case res.Skipped():
		event = callback.EventRunnerSkipped
	}
	b.bus.Publish(event, res)
}
