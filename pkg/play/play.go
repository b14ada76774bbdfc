// Package play holds the data model for a run: hosts, tasks, plays and the
// per-run options handed to a dispatch strategy.
package play

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ActionShell  = "shell"
	ActionScript = "script"
	ActionDebug  = "debug"
	ActionMeta   = "meta"
)

// Meta directives understood by the engine.
const (
	MetaNoop          = "noop"
	MetaFlushHandlers = "flush_handlers"
	MetaEndPlay       = "end_play"
)

// Host identifies a managed target. Addressing metadata is carried along so
// transports can dial it, but strategies treat the whole thing as opaque.
type Host struct {
	Name     string         `yaml:"name" json:"name" validate:"required,ident"`
	Address  string         `yaml:"address" json:"address,omitempty"`
	Login    string         `yaml:"login" json:"login,omitempty"`
	Password string         `yaml:"password" json:"-"`
	KeyFile  string         `yaml:"key_file" json:"-"`
	Vars     map[string]any `yaml:"vars" json:"vars,omitempty"`
}

// Task is a single named action with parameters, immutable from the
// strategy's point of view.
type Task struct {
	Name        string         `yaml:"name" json:"name" validate:"required"`
	Action      string         `yaml:"action" json:"action" validate:"required,action"`
	Command     string         `yaml:"command" json:"command,omitempty"`
	Args        map[string]any `yaml:"args" json:"args,omitempty"`
	Tags        []string       `yaml:"tags" json:"tags,omitempty"`
	When        []string       `yaml:"when" json:"when,omitempty"`
	Loop        []string       `yaml:"loop" json:"loop,omitempty"`
	PostProcess []string       `yaml:"post_process" json:"post_process,omitempty"`
	Register    string         `yaml:"register" json:"register,omitempty"`
}

// IsMeta reports whether the task is an engine-internal control action.
func (t Task) IsMeta() bool { return t.Action == ActionMeta }

// MetaDirective returns the directive of a meta task, defaulting to noop.
func (t Task) MetaDirective() string {
	if d, ok := t.Args["do"].(string); ok && d != "" {
		return d
	}
	return MetaNoop
}

// MatchesTags reports whether the task should run given the selected tags.
// An empty selection matches every task.
func (t Task) MatchesTags(selected []string) bool {
	if len(selected) == 0 {
		return true
	}
	for _, want := range selected {
		for _, have := range t.Tags {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// Play pairs a set of target hosts with an ordered set of tasks.
type Play struct {
	Name  string         `yaml:"name" json:"name" validate:"required"`
	Hosts []Host         `yaml:"hosts" json:"hosts" validate:"required,min=1,dive"`
	Tasks []Task         `yaml:"tasks" json:"tasks" validate:"dive"`
	Vars  map[string]any `yaml:"vars" json:"vars,omitempty"`
}

// KnowsHost reports whether the named host belongs to this play.
func (p *Play) KnowsHost(name string) bool {
	for i := range p.Hosts {
		if p.Hosts[i].Name == name {
			return true
		}
	}
	return false
}

// TagSet returns the distinct tags used across the play's tasks, in first-seen order.
func (p *Play) TagSet() []string {
	seen := make(map[string]bool)
	var tags []string
	for _, t := range p.Tasks {
		for _, tag := range t.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// HostNames returns the names of the play's hosts in declaration order.
func (p *Play) HostNames() []string {
	names := make([]string, len(p.Hosts))
	for i := range p.Hosts {
		names[i] = p.Hosts[i].Name
	}
	return names
}

// Options carries the run flags the coordinator was started with.
// The three List booleans drive the listing strategy's summary event.
type Options struct {
	ListTasks bool     `yaml:"list_tasks" json:"list_tasks"`
	ListTags  bool     `yaml:"list_tags" json:"list_tags"`
	ListHosts bool     `yaml:"list_hosts" json:"list_hosts"`
	Tags      []string `yaml:"tags" json:"tags,omitempty"`
	Forks     int      `yaml:"forks" json:"forks,omitempty"`
	CheckMode bool     `yaml:"check_mode" json:"check_mode,omitempty"`
}

// Listing reports whether any listing flag is set.
func (o Options) Listing() bool { return o.ListTasks || o.ListTags || o.ListHosts }

// RunContext is the per-run state shared with the active strategy.
type RunContext struct {
	RunID   uuid.UUID
	Options Options
	Vars    map[string]any
	Timeout time.Duration
}

// NewRunContext assigns a fresh run ID and merges play vars under the options.
func NewRunContext(opts Options, vars map[string]any) *RunContext {
	return &RunContext{
		RunID:   uuid.New(),
		Options: opts,
		Vars:    vars,
	}
}

// EvaluateWhen returns true if every expression in the clause evaluates to
// true. An expression is a variable name, optionally prefixed with "!"; a
// variable is truthy unless absent, empty, "false" or zero. An empty clause
// evaluates to true.
func EvaluateWhen(when []string, vars map[string]any) bool {
	for _, expr := range when {
		if !evaluateExpression(strings.TrimSpace(expr), vars) {
			return false
		}
	}
	return true
}

func evaluateExpression(expr string, vars map[string]any) bool {
	if expr == "" {
		return true
	}
	if strings.HasPrefix(expr, "!") {
		return !evaluateExpression(strings.TrimSpace(expr[1:]), vars)
	}
	val, ok := vars[expr]
	if !ok {
		return expr == "true"
	}
	switch v := val.(type) {
	case string:
		return v != "" && v != "false" && v != "0"
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return v != nil
	}
}

// MergeVars layers host vars over play vars without mutating either.
func MergeVars(base, over map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}
