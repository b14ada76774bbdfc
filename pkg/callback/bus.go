// Package callback is the in-process notification hub for run lifecycle
// events. Strategies and the coordinator publish named events; reporting
// layers register listeners.
package callback

import (
	"sync"

	"github.com/taskfleet/dispatch/internal/lg"
)

// Event names published during a run.
const (
	EventPlayStart     = "play_start"
	EventTaskStart     = "task_start"
	EventRunnerOK      = "runner_on_ok"
	EventRunnerFailed  = "runner_on_failed"
	EventRunnerSkipped = "runner_on_skipped"
	EventListOptions   = "list_options"
	EventPlayStats     = "play_stats"
)

// ListOptions is the payload of EventListOptions: the run's listing flags,
// passed through verbatim.
type ListOptions struct {
	Tasks bool `json:"tasks"`
	Tags  bool `json:"tags"`
	Hosts bool `json:"hosts"`
}

// Listener consumes published events. A listener must not block; delivery is
// synchronous on the publisher's goroutine.
type Listener interface {
	Handle(event string, payload any)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event string, payload any)

func (f ListenerFunc) Handle(event string, payload any) { f(event, payload) }

// Bus fans events out to registered listeners in registration order.
// Registration is expected to happen before the run starts; Publish itself
// is driven from the coordinator's single goroutine.
type Bus struct {
	mu        sync.Mutex
	listeners []Listener
}

func NewBus() *Bus {
	return &Bus{}
}

// Register appends a listener. Later registrations see events after earlier ones.
func (b *Bus) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish delivers the event to every listener synchronously, in order.
// Fire-and-forget for the caller: there is no return value.
func (b *Bus) Publish(event string, payload any) {
	b.mu.Lock()
	snapshot := make([]Listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		l.Handle(event, payload)
	}
}

// LogListener writes every event to the structured log.
type LogListener struct {
	lg lg.Logger
}

func NewLogListener(logger lg.Logger) *LogListener {
	return &LogListener{lg: logger}
}

func (l *LogListener) Handle(event string, payload any) {
	l.lg.Info("callback event", lg.String("event", event), lg.Any("payload", payload))
}

// Recorder keeps every published event in order. For tests and run reports.
type Recorder struct {
	Events []RecordedEvent
}

type RecordedEvent struct {
	Name    string
	Payload any
}

func (r *Recorder) Handle(event string, payload any) {
	r.Events = append(r.Events, RecordedEvent{Name: event, Payload: payload})
}

// Names returns the recorded event names in publish order.
func (r *Recorder) Names() []string {
	names := make([]string, len(r.Events))
	for i, e := range r.Events {
		names[i] = e.Name
	}
	return names
}
