package strategy

import (
	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/pkg/callback"
	"github.com/taskfleet/dispatch/pkg/play"
)

// ListingStrategy never executes tasks. It records what would run and
// simulates immediate completion, which serves the "list tasks/tags/hosts"
// reporting modes. No operation here performs I/O or can fail under normal
// conditions, which also makes it a template for other non-executing
// policies (graph rendering, cost estimation).
type ListingStrategy struct {
	base
	queue *WorkQueue
}

var _ DispatchStrategy = (*ListingStrategy)(nil)

// NewListingStrategy builds a listing strategy for one play run. The queue
// is owned by this instance alone and must be empty again when the run ends.
func NewListingStrategy(p *play.Play, bus *callback.Bus, rc *play.RunContext, logger lg.Logger) *ListingStrategy {
	return &ListingStrategy{
		base:  newBase(p, bus, rc, logger),
		queue: NewWorkQueue(LIFO),
	}
}

// HandleMetaTask fabricates a single trivial success, regardless of the
// directive. Listing treats meta tasks like any other task.
func (s *ListingStrategy) HandleMetaTask(task play.Task, host play.Host, rc *play.RunContext) ([]TaskResult, error) {
	return []TaskResult{NewTaskResult(host, task, nil)}, nil
}

// QueueTask pushes the pair onto the queue. taskVars and the run context
// exist only to satisfy the interface.
func (s *ListingStrategy) QueueTask(host play.Host, task play.Task, taskVars map[string]any, rc *play.RunContext) error {
	if err := s.checkHost(host); err != nil {
		return err
	}
	s.queue.Enqueue(host, task)
	return nil
}

// ProcessPendingResults drains the entire queue, ignoring maxPasses: listing
// is cheap enough that budgeting passes buys nothing. Each drained item
// becomes a fabricated empty-payload result with its own completion event,
// followed by exactly one list-options event carrying the run flags verbatim.
func (s *ListingStrategy) ProcessPendingResults(it Iterator, maxPasses int) ([]TaskResult, error) {
	results := []TaskResult{}
	for _, item := range s.queue.DequeueAll() {
		res := NewTaskResult(item.Host, item.Task, nil)
		s.bus.Publish(callback.EventRunnerOK, res)
		results = append(results, res)
	}

	s.bus.Publish(callback.EventListOptions, callback.ListOptions{
		Tasks: s.rc.Options.ListTasks,
		Tags:  s.rc.Options.ListTags,
		Hosts: s.rc.Options.ListHosts,
	})

	s.lg.Debug("listing drain complete", lg.Int("results", len(results)))
	return results, nil
}
