package coordinator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/pkg/callback"
	"github.com/taskfleet/dispatch/pkg/coordinator"
	"github.com/taskfleet/dispatch/pkg/executor"
	"github.com/taskfleet/dispatch/pkg/play"
)

type fakeExecutor struct {
	stdout map[string][]string
	fail   map[string]bool
}

func (f *fakeExecutor) Run(_ context.Context, command string) ([]string, []string, error) {
	if f.fail[command] {
		return nil, []string{"command failed"}, &executor.ExitError{Code: 2}
	}
	return f.stdout[command], nil, nil
}

func fakeFactory(exec *fakeExecutor) executor.Factory {
	return func(play.Host) (executor.Executor, error) {
		return exec, nil
	}
}

func twoHostPlay() *play.Play {
	return &play.Play{
		Name: "site",
		Hosts: []play.Host{
			{Name: "alpha", Address: "10.0.0.1:22", Login: "ops"},
			{Name: "beta", Address: "10.0.0.2:22", Login: "ops"},
		},
		Tasks: []play.Task{
			{Name: "uptime", Action: play.ActionShell, Command: "uptime"},
			{Name: "hostname", Action: play.ActionShell, Command: "hostname"},
		},
	}
}

func TestRunListing(t *testing.T) {
	bus := callback.NewBus()
	rec := &callback.Recorder{}
	bus.Register(rec)
	c := coordinator.New(bus, nil, lg.Discard)

	report, err := c.Run(context.Background(), twoHostPlay(), play.Options{ListTasks: true})
	require.NoError(t, err)

	assert.True(t, report.Listing)
	require.Len(t, report.Results, 4)

	var order []string
	for _, res := range report.Results {
		order = append(order, res.Host.Name+"/"+res.Task.Name)
	}
	assert.Equal(t, []string{
		"beta/hostname", "alpha/hostname",
		"beta/uptime", "alpha/uptime",
	}, order)

	for _, name := range []string{"alpha", "beta"} {
		assert.Equal(t, 2, report.Stats[name].OK, name)
		assert.Zero(t, report.Stats[name].Failed, name)
	}

	assert.Equal(t, []string{
		callback.EventPlayStart,
		callback.EventTaskStart, callback.EventTaskStart,
		callback.EventRunnerOK, callback.EventRunnerOK,
		callback.EventRunnerOK, callback.EventRunnerOK,
		callback.EventListOptions,
		callback.EventPlayStats,
	}, rec.Names())

	var summary callback.ListOptions
	for _, e := range rec.Events {
		if e.Name == callback.EventListOptions {
			summary = e.Payload.(callback.ListOptions)
		}
	}
	assert.Equal(t, callback.ListOptions{Tasks: true}, summary)
}

func TestRunLinear(t *testing.T) {
	exec := &fakeExecutor{stdout: map[string][]string{
		"uptime":   {"up 3 days"},
		"hostname": {"node-1"},
	}}
	bus := callback.NewBus()
	rec := &callback.Recorder{}
	bus.Register(rec)
	c := coordinator.New(bus, fakeFactory(exec), lg.Discard)

	report, err := c.Run(context.Background(), twoHostPlay(), play.Options{Forks: 1})
	require.NoError(t, err)

	assert.False(t, report.Listing)
	require.Len(t, report.Results, 4)
	for _, res := range report.Results {
		assert.False(t, res.Failed(), res.Task.Name)
		assert.True(t, res.Changed(), res.Task.Name)
	}
	for _, name := range []string{"alpha", "beta"} {
		assert.Equal(t, 2, report.Stats[name].OK, name)
		assert.Equal(t, 2, report.Stats[name].Changed, name)
	}

	names := rec.Names()
	okCount := 0
	for _, n := range names {
		if n == callback.EventRunnerOK {
			okCount++
		}
	}
	assert.Equal(t, 4, okCount)
	assert.Equal(t, callback.EventPlayStats, names[len(names)-1])
}

func TestRunLinearFailure(t *testing.T) {
	exec := &fakeExecutor{
		stdout: map[string][]string{"uptime": {"up"}},
		fail:   map[string]bool{"hostname": true},
	}
	bus := callback.NewBus()
	rec := &callback.Recorder{}
	bus.Register(rec)
	c := coordinator.New(bus, fakeFactory(exec), lg.Discard)

	report, err := c.Run(context.Background(), twoHostPlay(), play.Options{Forks: 1})
	require.NoError(t, err)

	for _, name := range []string{"alpha", "beta"} {
		assert.Equal(t, 1, report.Stats[name].OK, name)
		assert.Equal(t, 1, report.Stats[name].Failed, name)
	}
	assert.Contains(t, rec.Names(), callback.EventRunnerFailed)
}

func TestRunMetaEndPlay(t *testing.T) {
	p := twoHostPlay()
	p.Tasks = []play.Task{
		{Name: "before", Action: play.ActionShell, Command: "uptime"},
		{Name: "stop", Action: play.ActionMeta, Args: map[string]any{"do": play.MetaEndPlay}},
		{Name: "after", Action: play.ActionShell, Command: "reboot"},
	}
	exec := &fakeExecutor{stdout: map[string][]string{"uptime": {"up"}}}
	c := coordinator.New(callback.NewBus(), fakeFactory(exec), lg.Discard)

	report, err := c.Run(context.Background(), p, play.Options{Forks: 1})
	require.NoError(t, err)

	for _, res := range report.Results {
		assert.NotEqual(t, "after", res.Task.Name)
	}
	// one shell result and one meta result per host
	require.Len(t, report.Results, 4)
	for _, name := range []string{"alpha", "beta"} {
		assert.Equal(t, 2, report.Stats[name].OK, name)
	}
}

func TestRunWhenSkips(t *testing.T) {
	p := twoHostPlay()
	p.Tasks = []play.Task{
		{Name: "guarded", Action: play.ActionShell, Command: "uptime", When: []string{"deploy"}},
	}
	bus := callback.NewBus()
	rec := &callback.Recorder{}
	bus.Register(rec)
	c := coordinator.New(bus, fakeFactory(&fakeExecutor{}), lg.Discard)

	report, err := c.Run(context.Background(), p, play.Options{Forks: 1})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	for _, name := range []string{"alpha", "beta"} {
		assert.Equal(t, 1, report.Stats[name].Skipped, name)
		assert.Zero(t, report.Stats[name].OK, name)
	}
	assert.Contains(t, rec.Names(), callback.EventRunnerSkipped)
}

func TestRunListingIgnoresConditionals(t *testing.T) {
	p := twoHostPlay()
	p.Tasks = []play.Task{
		{Name: "guarded", Action: play.ActionShell, Command: "uptime", When: []string{"deploy"}},
	}
	bus := callback.NewBus()
	rec := &callback.Recorder{}
	bus.Register(rec)
	c := coordinator.New(bus, nil, lg.Discard)

	report, err := c.Run(context.Background(), p, play.Options{ListTasks: true})
	require.NoError(t, err)

	// an unmet conditional must not hide the task from the listing
	require.Len(t, report.Results, 2)
	for _, name := range []string{"alpha", "beta"} {
		assert.Equal(t, 1, report.Stats[name].OK, name)
		assert.Zero(t, report.Stats[name].Skipped, name)
	}
	assert.NotContains(t, rec.Names(), callback.EventRunnerSkipped)
}

func TestRunTagFilter(t *testing.T) {
	p := twoHostPlay()
	p.Tasks = []play.Task{
		{Name: "info", Action: play.ActionShell, Command: "uptime", Tags: []string{"info"}},
		{Name: "deploy", Action: play.ActionShell, Command: "deploy.sh", Tags: []string{"deploy"}},
	}
	exec := &fakeExecutor{stdout: map[string][]string{"uptime": {"up"}}}
	c := coordinator.New(callback.NewBus(), fakeFactory(exec), lg.Discard)

	report, err := c.Run(context.Background(), p, play.Options{Forks: 1, Tags: []string{"info"}})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, "info", res.Task.Name)
	}
}

func TestRunInvalidPlay(t *testing.T) {
	c := coordinator.New(callback.NewBus(), nil, lg.Discard)
	_, err := c.Run(context.Background(), &play.Play{Name: "empty"}, play.Options{})
	assert.ErrorContains(t, err, "invalid play")
}
