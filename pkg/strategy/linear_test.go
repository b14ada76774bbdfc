package strategy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/pkg/callback"
	"github.com/taskfleet/dispatch/pkg/executor"
	"github.com/taskfleet/dispatch/pkg/play"
	"github.com/taskfleet/dispatch/pkg/strategy"
)

type fakeExecutor struct {
	stdout map[string][]string
	fail   map[string]error
}

func (f *fakeExecutor) Run(_ context.Context, command string) ([]string, []string, error) {
	if err, ok := f.fail[command]; ok {
		return nil, []string{"boom"}, err
	}
	return f.stdout[command], nil, nil
}

func fakeFactory(f *fakeExecutor) executor.Factory {
	return func(play.Host) (executor.Executor, error) { return f, nil }
}

func linearFixture(t *testing.T, exec *fakeExecutor, opts play.Options) (*strategy.LinearStrategy, *callback.Recorder, *play.Play, *play.RunContext) {
	t.Helper()
	p := &play.Play{
		Name:  "site",
		Hosts: []play.Host{{Name: "alpha"}, {Name: "beta"}},
	}
	// forks=1 keeps completion order deterministic
	opts.Forks = 1
	rc := play.NewRunContext(opts, nil)
	bus := callback.NewBus()
	rec := &callback.Recorder{}
	bus.Register(rec)
	s := strategy.NewLinearStrategy(context.Background(), p, bus, rc, fakeFactory(exec), lg.Discard)
	t.Cleanup(func() { s.Close() })
	return s, rec, p, rc
}

func TestLinearExecutesQueuedWork(t *testing.T) {
	exec := &fakeExecutor{stdout: map[string][]string{"uptime": {"up 5 days"}}}
	s, rec, p, rc := linearFixture(t, exec, play.Options{})
	task := play.Task{Name: "check", Action: play.ActionShell, Command: "uptime"}

	require.NoError(t, s.QueueTask(p.Hosts[0], task, nil, rc))
	require.NoError(t, s.QueueTask(p.Hosts[1], task, nil, rc))

	results, err := s.ProcessPendingResults(fakeIter{p}, 100)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Host.Name)
	assert.Equal(t, "beta", results[1].Host.Name)
	for _, res := range results {
		assert.Equal(t, []string{"up 5 days"}, res.Result["stdout_lines"])
		assert.Equal(t, 0, res.Result["rc"])
		assert.False(t, res.Failed())
	}
	assert.Equal(t, []string{callback.EventRunnerOK, callback.EventRunnerOK}, rec.Names())
}

func TestLinearReportsCommandFailure(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]error{"false": &executor.ExitError{Code: 2}}}
	s, rec, p, rc := linearFixture(t, exec, play.Options{})
	task := play.Task{Name: "fails", Action: play.ActionShell, Command: "false"}

	require.NoError(t, s.QueueTask(p.Hosts[0], task, nil, rc))
	results, err := s.ProcessPendingResults(fakeIter{p}, 100)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())
	assert.Equal(t, 2, results[0].Result["rc"])
	assert.Equal(t, []string{callback.EventRunnerFailed}, rec.Names())
}

func TestLinearHonorsMaxPasses(t *testing.T) {
	exec := &fakeExecutor{stdout: map[string][]string{"true": {}}}
	s, _, p, rc := linearFixture(t, exec, play.Options{})
	task := play.Task{Name: "noop", Action: play.ActionShell, Command: "true"}

	for i := 0; i < 3; i++ {
		require.NoError(t, s.QueueTask(p.Hosts[0], task, nil, rc))
	}

	first, err := s.ProcessPendingResults(fakeIter{p}, 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// the remainder stays pending for the next call
	second, err := s.ProcessPendingResults(fakeIter{p}, 2)
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func TestLinearExpandsLoops(t *testing.T) {
	exec := &fakeExecutor{stdout: map[string][]string{
		"systemctl status nginx": {"active"},
		"systemctl status redis": {"active"},
	}}
	s, _, p, rc := linearFixture(t, exec, play.Options{})
	task := play.Task{
		Name:    "services",
		Action:  play.ActionShell,
		Command: "systemctl status {{ item }}",
		Loop:    []string{"nginx", "redis"},
	}

	require.NoError(t, s.QueueTask(p.Hosts[0], task, nil, rc))
	results, err := s.ProcessPendingResults(fakeIter{p}, 100)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "nginx", results[0].Result["item"])
	assert.Equal(t, "redis", results[1].Result["item"])
}

func TestLinearCheckModeSkips(t *testing.T) {
	exec := &fakeExecutor{}
	s, rec, p, rc := linearFixture(t, exec, play.Options{CheckMode: true})
	task := play.Task{Name: "check", Action: play.ActionShell, Command: "reboot"}

	require.NoError(t, s.QueueTask(p.Hosts[0], task, nil, rc))
	results, err := s.ProcessPendingResults(fakeIter{p}, 100)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped())
	assert.Equal(t, []string{callback.EventRunnerSkipped}, rec.Names())
}

func TestLinearMetaTaskPayloadNamesDirective(t *testing.T) {
	exec := &fakeExecutor{}
	s, _, p, rc := linearFixture(t, exec, play.Options{})
	meta := play.Task{Name: "flush", Action: play.ActionMeta, Args: map[string]any{"do": play.MetaFlushHandlers}}

	results, err := s.HandleMetaTask(meta, p.Hosts[0], rc)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, play.MetaFlushHandlers, results[0].Result["meta"])
}

func TestLinearDrainsBacklogLargerThanResultBuffer(t *testing.T) {
	p := &play.Play{Name: "site", Hosts: []play.Host{{Name: "alpha"}}}
	rc := play.NewRunContext(play.Options{Forks: 2}, nil)
	s := strategy.NewLinearStrategy(context.Background(), p, callback.NewBus(), rc, fakeFactory(&fakeExecutor{}), lg.Discard)
	t.Cleanup(func() { s.Close() })

	task := play.Task{Name: "ping", Action: play.ActionDebug, Args: map[string]any{"msg": "pong"}}
	const backlog = 2000
	for i := 0; i < backlog; i++ {
		require.NoError(t, s.QueueTask(p.Hosts[0], task, nil, rc))
	}

	// more pending units than the internal result buffer holds; a single
	// call must still drain every one of them
	results, err := s.ProcessPendingResults(fakeIter{p}, 0)
	require.NoError(t, err)
	assert.Len(t, results, backlog)
}

func TestLinearRejectsUnknownHost(t *testing.T) {
	exec := &fakeExecutor{}
	s, _, _, rc := linearFixture(t, exec, play.Options{})
	err := s.QueueTask(play.Host{Name: "stranger"}, play.Task{Name: "x"}, nil, rc)
	require.ErrorIs(t, err, strategy.ErrUnknownHost)
}
