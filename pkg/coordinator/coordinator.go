// Package coordinator drives a play: it selects the dispatch strategy,
// queues eligible (host, task) pairs, drains pending results and aggregates
// them into a run report.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/pkg/callback"
	"github.com/taskfleet/dispatch/pkg/executor"
	"github.com/taskfleet/dispatch/pkg/play"
	"github.com/taskfleet/dispatch/pkg/strategy"
)

const (
	// defaultMaxPasses is the per-drain-call yield budget handed to the strategy.
	defaultMaxPasses = 100
	// drainLimit caps drain calls per run as a stuck-strategy guard.
	drainLimit = 1000
)

// HostStats counts result outcomes for one host across a run.
type HostStats struct {
	OK      int `json:"ok"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RunReport is the aggregate outcome of one play run.
type RunReport struct {
	RunID      uuid.UUID             `json:"run_id"`
	Play       string                `json:"play"`
	Listing    bool                  `json:"listing"`
	Results    []strategy.TaskResult `json:"results"`
	Stats      map[string]*HostStats `json:"stats"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Coordinator owns the callback bus and the lifetime of a run. One
// Coordinator may serve many runs; each run gets its own strategy instance.
type Coordinator struct {
	bus     *callback.Bus
	factory executor.Factory
	lg      lg.Logger
}

func New(bus *callback.Bus, factory executor.Factory, logger lg.Logger) *Coordinator {
	if logger == nil {
		logger = lg.Discard
	}
	return &Coordinator{bus: bus, factory: factory, lg: logger}
}

// Bus exposes the coordinator's bus so callers can register listeners.
func (c *Coordinator) Bus() *callback.Bus { return c.bus }

// playIterator steps through a play's tasks in order. Strategies only see
// the Play accessor.
type playIterator struct {
	play *play.Play
	pos  int
}

func newPlayIterator(p *play.Play) *playIterator { return &playIterator{play: p} }

func (it *playIterator) Play() *play.Play { return it.play }

func (it *playIterator) Next() (play.Task, bool) {
	if it.pos >= len(it.play.Tasks) {
		return play.Task{}, false
	}
	t := it.play.Tasks[it.pos]
	it.pos++
	return t, true
}

// Run executes the play with a strategy chosen from the options: listing
// when any listing flag is set, linear fan-out otherwise. A contract
// violation or strategy error aborts the whole run; there is no partial
// success state.
func (c *Coordinator) Run(ctx context.Context, p *play.Play, opts play.Options) (*RunReport, error) {
	if err := play.Validate(p); err != nil {
		return nil, fmt.Errorf("invalid play: %w", err)
	}

	rc := play.NewRunContext(opts, p.Vars)
	logger := c.lg.With(lg.String("run", rc.RunID.String()), lg.String("play", p.Name))

	var strat strategy.DispatchStrategy
	if opts.Listing() {
		strat = strategy.NewListingStrategy(p, c.bus, rc, logger)
	} else {
		strat = strategy.NewLinearStrategy(ctx, p, c.bus, rc, c.factory, logger)
	}
	defer c.closeStrategy(strat, logger)

	report := &RunReport{
		RunID:     rc.RunID,
		Play:      p.Name,
		Listing:   opts.Listing(),
		Stats:     make(map[string]*HostStats),
		StartedAt: time.Now(),
	}
	for _, h := range p.Hosts {
		report.Stats[h.Name] = &HostStats{}
	}

	c.bus.Publish(callback.EventPlayStart, map[string]any{
		"play":   p.Name,
		"run_id": rc.RunID.String(),
		"hosts":  p.HostNames(),
	})

	it := newPlayIterator(p)
	if err := c.queuePhase(it, strat, rc, report); err != nil {
		return nil, err
	}
	if err := c.drainPhase(it, strat, report); err != nil {
		return nil, err
	}

	report.FinishedAt = time.Now()
	c.bus.Publish(callback.EventPlayStats, report.Stats)
	logger.Info("play finished",
		lg.Int("results", len(report.Results)),
		lg.Bool("listing", report.Listing))
	return report, nil
}

// queuePhase walks the play's tasks, resolving meta tasks synchronously and
// queuing everything else per eligible host.
func (c *Coordinator) queuePhase(it *playIterator, strat strategy.DispatchStrategy, rc *play.RunContext, report *RunReport) error {
	p := it.Play()
	for task, ok := it.Next(); ok; task, ok = it.Next() {
		c.bus.Publish(callback.EventTaskStart, map[string]any{
			"task":   task.Name,
			"action": task.Action,
		})

		if task.IsMeta() {
			endPlay, err := c.handleMeta(task, p, strat, rc, report)
			if err != nil {
				return err
			}
			if endPlay {
				return nil
			}
			continue
		}

		if !task.MatchesTags(rc.Options.Tags) {
			continue
		}

		for i := range p.Hosts {
			host := p.Hosts[i]
			vars := play.MergeVars(rc.Vars, host.Vars)
			// listing reports tasks regardless of conditionals: without a
			// live run there are no facts to evaluate them against
			if !rc.Options.Listing() && !play.EvaluateWhen(task.When, vars) {
				res := strategy.NewTaskResult(host, task, map[string]any{
					"skipped": true,
					"msg":     "conditional not met",
				})
				c.bus.Publish(callback.EventRunnerSkipped, res)
				c.aggregate(report, res)
				continue
			}
			if err := strat.QueueTask(host, task, vars, rc); err != nil {
				return fmt.Errorf("queue %q on %q: %w", task.Name, host.Name, err)
			}
		}
	}
	return nil
}

func (c *Coordinator) handleMeta(task play.Task, p *play.Play, strat strategy.DispatchStrategy, rc *play.RunContext, report *RunReport) (endPlay bool, err error) {
	for i := range p.Hosts {
		results, err := strat.HandleMetaTask(task, p.Hosts[i], rc)
		if err != nil {
			return false, fmt.Errorf("meta task %q: %w", task.Name, err)
		}
		for _, res := range results {
			c.aggregate(report, res)
		}
	}
	return task.MetaDirective() == play.MetaEndPlay, nil
}

// drainPhase calls ProcessPendingResults until a call yields nothing.
// Listing strategies drain their whole queue in one call and publish their
// summary on every call, so a listing run stops after the first one.
func (c *Coordinator) drainPhase(it *playIterator, strat strategy.DispatchStrategy, report *RunReport) error {
	for calls := 0; calls < drainLimit; calls++ {
		batch, err := strat.ProcessPendingResults(it, defaultMaxPasses)
		if err != nil {
			return fmt.Errorf("process pending results: %w", err)
		}
		for _, res := range batch {
			c.aggregate(report, res)
		}
		if report.Listing || len(batch) == 0 {
			return nil
		}
	}
	return fmt.Errorf("drain limit reached after %d calls", drainLimit)
}

func (c *Coordinator) aggregate(report *RunReport, res strategy.TaskResult) {
	report.Results = append(report.Results, res)
	stats, ok := report.Stats[res.Host.Name]
	if !ok {
		stats = &HostStats{}
		report.Stats[res.Host.Name] = stats
	}
	switch {
	case res.Failed():
		stats.Failed++
	case res.Skipped():
		stats.Skipped++
	case res.Changed():
		stats.Changed++
		stats.OK++
	default:
		stats.OK++
	}
}

func (c *Coordinator) closeStrategy(strat strategy.DispatchStrategy, logger lg.Logger) {
	if closer, ok := strat.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("strategy close", lg.Err(err))
		}
	}
}
