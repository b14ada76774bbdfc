package strategy

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/internal/processor"
	"github.com/taskfleet/dispatch/pkg/callback"
	"github.com/taskfleet/dispatch/pkg/executor"
	"github.com/taskfleet/dispatch/pkg/play"
	"github.com/taskfleet/dispatch/pkg/workerpool"
)

const resultBuffer = 1024

// LinearStrategy is the default policy: queued work fans out over the worker
// pool, each unit runs through an Executor, and results flow back one event
// at a time. Queue order is FIFO; loop specs expand to one unit per item.
type LinearStrategy struct {
	base
	ctx      context.Context
	queue    *WorkQueue
	pool     *workerpool.Pool[workUnit]
	factory  executor.Factory
	chain    *processor.Chain
	results  chan TaskResult
	inflight int

	mu      sync.Mutex
	clients map[string]executor.Executor
}

var _ DispatchStrategy = (*LinearStrategy)(nil)

type workUnit struct {
	Host play.Host
	Task play.Task
	Item string
}

// NewLinearStrategy builds the real-execution strategy for one play run.
// Forks (from the run options) bounds concurrent units; factory supplies the
// per-host transport.
func NewLinearStrategy(ctx context.Context, p *play.Play, bus *callback.Bus, rc *play.RunContext, factory executor.Factory, logger lg.Logger) *LinearStrategy {
	return &LinearStrategy{
		base:    newBase(p, bus, rc, logger),
		ctx:     ctx,
		queue:   NewWorkQueue(FIFO),
		pool:    workerpool.NewPool[workUnit](rc.Options.Forks),
		factory: factory,
		chain:   processor.NewChain(),
		results: make(chan TaskResult, resultBuffer),
		clients: make(map[string]executor.Executor),
	}
}

// HandleMetaTask resolves engine-internal directives without queuing. The
// result payload names the directive so reporting layers can tell them apart.
func (s *LinearStrategy) HandleMetaTask(task play.Task, host play.Host, rc *play.RunContext) ([]TaskResult, error) {
	res := NewTaskResult(host, task, map[string]any{"meta": task.MetaDirective()})
	return []TaskResult{res}, nil
}

func (s *LinearStrategy) QueueTask(host play.Host, task play.Task, taskVars map[string]any, rc *play.RunContext) error {
	if err := s.checkHost(host); err != nil {
		return err
	}
	s.queue.Enqueue(host, task)
	return nil
}

// ProcessPendingResults dispatches everything queued since the last call and
// collects completions. maxPasses bounds the number of results taken in this
// call; anything still in flight stays pending for the next one. Submission
// runs on its own goroutine: with more pending units than the result buffer
// holds, workers block on the buffer until the collection loop below drains
// it, so submitting inline would wedge both sides.
func (s *LinearStrategy) ProcessPendingResults(it Iterator, maxPasses int) ([]TaskResult, error) {
	var units []workUnit
	for _, item := range s.queue.DequeueAll() {
		units = append(units, expandLoop(item)...)
	}
	s.inflight += len(units)
	if len(units) > 0 {
		go func() {
			for _, unit := range units {
				s.pool.Submit(workerpool.Job[workUnit]{
					Payload: unit,
					Fn:      s.runUnit,
					Ctx:     s.ctx,
				})
			}
		}()
	}

	results := []TaskResult{}
	passes := 0
	for s.inflight > 0 {
		if maxPasses > 0 && passes >= maxPasses {
			break
		}
		select {
		case res := <-s.results:
			s.inflight--
			passes++
			s.publishResult(res)
			results = append(results, res)
		case <-s.ctx.Done():
			return results, s.ctx.Err()
		}
	}
	return results, nil
}

// Close releases per-host connections and stops the pool.
func (s *LinearStrategy) Close() error {
	s.pool.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, exec := range s.clients {
		if closer, ok := exec.(executor.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(s.clients, name)
	}
	return firstErr
}

func expandLoop(item WorkItem) []workUnit {
	if len(item.Task.Loop) == 0 {
		return []workUnit{{Host: item.Host, Task: item.Task}}
	}
	units := make([]workUnit, 0, len(item.Task.Loop))
	for _, loopItem := range item.Task.Loop {
		units = append(units, workUnit{Host: item.Host, Task: item.Task, Item: loopItem})
	}
	return units
}

// runUnit always reports success to the pool: a failing command is a result,
// not a job error, and must not be re-run by the pool's retry loop.
func (s *LinearStrategy) runUnit(ctx context.Context, u workUnit) error {
	res := s.execute(ctx, u)
	select {
	case s.results <- res:
	case <-ctx.Done():
	}
	return nil
}

func (s *LinearStrategy) execute(ctx context.Context, u workUnit) TaskResult {
	if s.rc.Options.CheckMode {
		return NewTaskResult(u.Host, u.Task, map[string]any{
			"skipped": true,
			"msg":     "check mode, nothing executed",
		})
	}

	switch u.Task.Action {
	case play.ActionDebug:
		msg, _ := u.Task.Args["msg"].(string)
		return NewTaskResult(u.Host, u.Task, map[string]any{"msg": renderItem(msg, u.Item)})
	case play.ActionShell, play.ActionScript:
		return s.runCommand(ctx, u)
	default:
		return NewTaskResult(u.Host, u.Task, map[string]any{
			"failed": true,
			"msg":    "unsupported action " + u.Task.Action,
		})
	}
}

func (s *LinearStrategy) runCommand(ctx context.Context, u workUnit) TaskResult {
	exec, err := s.executorFor(u.Host)
	if err != nil {
		return NewTaskResult(u.Host, u.Task, map[string]any{
			"failed": true,
			"msg":    err.Error(),
		})
	}

	command := renderItem(u.Task.Command, u.Item)
	stdout, stderr, err := exec.Run(ctx, command)

	payload := map[string]any{
		"rc":           0,
		"stdout_lines": stdout,
		"stderr_lines": stderr,
		"changed":      true,
	}
	if u.Item != "" {
		payload["item"] = u.Item
	}

	if len(u.Task.PostProcess) > 0 {
		processed, perr := s.chain.Process(stdout, u.Task.PostProcess...)
		if perr != nil {
			s.lg.Warn("post-processing failed",
				lg.String("task", u.Task.Name), lg.Err(perr))
		} else {
			payload["stdout_lines"] = processed
		}
	}

	if err != nil {
		var exitErr *executor.ExitError
		if errors.As(err, &exitErr) {
			payload["rc"] = exitErr.Code
		}
		payload["failed"] = true
		payload["changed"] = false
		payload["msg"] = err.Error()
	}
	return NewTaskResult(u.Host, u.Task, payload)
}

// executorFor returns the cached per-host transport, dialing on first use.
// Called from pool workers, hence the lock.
func (s *LinearStrategy) executorFor(host play.Host) (executor.Executor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec, ok := s.clients[host.Name]; ok {
		return exec, nil
	}
	exec, err := s.factory(host)
	if err != nil {
		return nil, err
	}
	s.clients[host.Name] = exec
	return exec, nil
}

func renderItem(text, item string) string {
	if item == "" {
		return text
	}
	r := strings.NewReplacer("{{ item }}", item, "{{item}}", item)
	return r.Replace(text)
}
