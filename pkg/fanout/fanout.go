// Package fanout multiplexes a task's log stream, published once by its
// worker on a Redis pub/sub channel, out to any number of live subscribers
// (WebSocket sessions). Each task gets its own owner goroutine so a slow or
// stuck subscriber on one task never blocks delivery for another.
package fanout

import (
	"context"
	"sync"

	"github.com/heliosrun/helios/pkg/log"
	"github.com/heliosrun/helios/pkg/metrics"
	"github.com/heliosrun/helios/pkg/types"
)

// Line is one line of task output, or the terminal marker, delivered to a
// subscriber in publish order.
type Line struct {
	Text     string
	Terminal bool
}

// Subscriber is a bounded delivery channel for one session watching a task.
type Subscriber chan Line

const subscriberBuffer = 256

// Source is whatever can subscribe this process to a task's log channel
// (a Redis client, in production; a fake in tests).
type Source interface {
	// Subscribe returns a channel of raw published lines and a cancel func.
	// The channel is closed once cancel is called or the source's
	// connection to the channel ends.
	Subscribe(ctx context.Context, taskID string) (<-chan string, func())
}

// Hub owns one task actor per task currently being watched, created lazily
// on first subscriber and torn down after the terminal marker is delivered.
type Hub struct {
	source Source

	mu     sync.Mutex
	tasks  map[string]*taskActor
}

// NewHub constructs a Hub reading task log channels from source.
func NewHub(source Source) *Hub {
	return &Hub{source: source, tasks: make(map[string]*taskActor)}
}

// Watch returns a Subscriber that will receive every line published for
// taskID from this point on, up to and including the terminal marker. Call
// the returned cancel func to stop receiving (e.g. the client disconnected).
func (h *Hub) Watch(taskID string) (Subscriber, func()) {
	h.mu.Lock()
	actor, ok := h.tasks[taskID]
	if !ok {
		actor = newTaskActor(taskID, h.source, func() { h.remove(taskID) })
		h.tasks[taskID] = actor
		metrics.FanoutActiveTasks.Inc()
	}
	h.mu.Unlock()

	return actor.subscribe()
}

func (h *Hub) remove(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tasks[taskID]; ok {
		delete(h.tasks, taskID)
		metrics.FanoutActiveTasks.Dec()
	}
}

// taskActor owns the subscriber set for a single task: one goroutine reads
// from the upstream source and broadcasts to every live subscriber.
type taskActor struct {
	taskID string

	mu          sync.Mutex
	subscribers map[Subscriber]bool
	done        bool
}

func newTaskActor(taskID string, source Source, onDone func()) *taskActor {
	a := &taskActor{
		taskID:      taskID,
		subscribers: make(map[Subscriber]bool),
	}
	go a.run(source, onDone)
	return a
}

func (a *taskActor) subscribe() (Subscriber, func()) {
	sub := make(Subscriber, subscriberBuffer)

	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		close(sub)
		return sub, func() {}
	}
	a.subscribers[sub] = true
	a.mu.Unlock()
	metrics.FanoutSubscribers.Inc()

	cancel := func() {
		a.mu.Lock()
		if a.subscribers[sub] {
			delete(a.subscribers, sub)
			close(sub)
			metrics.FanoutSubscribers.Dec()
		}
		a.mu.Unlock()
	}
	return sub, cancel
}

func (a *taskActor) run(source Source, onDone func()) {
	logger := log.WithTaskID(a.taskID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw, unsubscribe := source.Subscribe(ctx, a.taskID)
	defer unsubscribe()

	for line := range raw {
		terminal := types.IsTerminalMarker(line)
		a.broadcast(Line{Text: line, Terminal: terminal})
		if terminal {
			break
		}
	}

	logger.Debug().Msg("fanout: task log stream ended")
	a.closeAll()
	onDone()
}

func (a *taskActor) broadcast(line Line) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for sub := range a.subscribers {
		select {
		case sub <- line:
		default:
			// Subscriber too slow to keep up; drop the line rather than
			// block delivery to everyone else watching this task.
		}
	}
}

func (a *taskActor) closeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = true
	for sub := range a.subscribers {
		close(sub)
		metrics.FanoutSubscribers.Dec()
	}
	a.subscribers = nil
}
