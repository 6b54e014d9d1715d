package agentcore

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// EventName is a hierarchical, colon-segmented event identifier. Using typed
// constants instead of free-form strings keeps the valid names discoverable
// at compile time.
type EventName string

// Lifecycle, state, step, and memory events emitted by the Agent core.
const (
	EventLifecycleStart    EventName = "agent:lifecycle:start"
	EventLifecycleComplete EventName = "agent:lifecycle:complete"

	EventStateChange   EventName = "agent:state:change"
	EventStuckDetected EventName = "agent:state:stuck:detected"
	EventStuckHandled  EventName = "agent:state:stuck:handled"

	EventStepStart      EventName = "agent:step:start"
	EventStepComplete   EventName = "agent:step:complete"
	EventStepError      EventName = "agent:step:error"
	EventStepMaxReached EventName = "agent:step:max_reached"
	EventStepTokens     EventName = "agent:step:tokens"

	EventMemoryAdded EventName = "agent:memory:added"
)

// Think/Act phase events.
const (
	EventThinkStart    EventName = "agent:think:start"
	EventThinkComplete EventName = "agent:think:complete"
	EventThinkError    EventName = "agent:think:error"

	EventActStart    EventName = "agent:act:start"
	EventActComplete EventName = "agent:act:complete"
	EventActError    EventName = "agent:act:error"
)

// Tool dispatch events.
const (
	EventToolSelected        EventName = "agent:tool:selected"
	EventToolStart           EventName = "agent:tool:start"
	EventToolComplete        EventName = "agent:tool:complete"
	EventToolError           EventName = "agent:tool:error"
	EventToolExecuteStart    EventName = "agent:tool:execute:start"
	EventToolExecuteComplete EventName = "agent:tool:execute:complete"
)

// EventItem is one published event: a name, an arbitrary payload, the step
// number active when it was emitted, and a timestamp.
type EventItem struct {
	Name      EventName      `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	Step      int            `json:"step"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler consumes one matching event. A returned error or a panic is
// logged and contained; neither halts delivery to other handlers or items.
type EventHandler func(evt EventItem) error

// MatchEventName reports whether name matches the colon-segmented pattern.
// A "*" segment matches exactly one name segment; a trailing "*" matches all
// remaining segments, so "agent:state:*" matches both "agent:state:change"
// and "agent:state:stuck:detected".
func MatchEventName(pattern string, name EventName) bool {
	if pattern == "" {
		return false
	}
	ps := strings.Split(pattern, ":")
	ns := strings.Split(string(name), ":")
	for i, seg := range ps {
		if seg == "*" && i == len(ps)-1 {
			return len(ns) >= len(ps)
		}
		if i >= len(ns) {
			return false
		}
		if seg != "*" && seg != ns[i] {
			return false
		}
	}
	return len(ns) == len(ps)
}

type subscription struct {
	pattern string
	handler EventHandler
}

// EventBus is the in-process publish/subscribe primitive scoped to one agent
// instance. Emit enqueues without blocking; a dedicated goroutine drains the
// queue strictly in FIFO order, invoking every matching handler per item.
// With no consumption loop running, events buffer until one starts.
type EventBus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []EventItem
	subs    []subscription
	logger  *slog.Logger
	running bool
	stopped bool
	done    chan struct{}
}

// NewEventBus creates a bus. Call Start to begin consumption.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &EventBus{logger: logger, done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the consumption loop. Idempotent.
func (b *EventBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running || b.stopped {
		return
	}
	b.running = true
	go b.consume()
}

// Emit enqueues an event. It never blocks the caller; after Close the event
// is dropped.
func (b *EventBus) Emit(evt EventItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.queue = append(b.queue, evt)
	b.cond.Signal()
}

// Subscribe registers a handler for events whose names match pattern.
func (b *EventBus) Subscribe(pattern string, handler EventHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, handler: handler})
}

// Close stops the bus after the already-enqueued events have been delivered.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.stopped {
		wasRunning := b.running
		b.mu.Unlock()
		if wasRunning {
			<-b.done
		}
		return
	}
	b.stopped = true
	wasRunning := b.running
	b.cond.Broadcast()
	b.mu.Unlock()
	if wasRunning {
		<-b.done
	} else {
		close(b.done)
	}
}

// consume drains the queue in FIFO order until Close and the queue is empty.
func (b *EventBus) consume() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.stopped {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.stopped {
			b.mu.Unlock()
			return
		}
		evt := b.queue[0]
		b.queue = b.queue[1:]
		subs := make([]subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		b.deliver(evt, subs)
	}
}

// deliver invokes all matching handlers sequentially. Handler failures are
// logged and contained.
func (b *EventBus) deliver(evt EventItem, subs []subscription) {
	matched := false
	for _, sub := range subs {
		if !MatchEventName(sub.pattern, evt.Name) {
			continue
		}
		matched = true
		b.invoke(evt, sub.handler)
	}
	if !matched {
		b.logger.Warn("no matching handler for event", "event", string(evt.Name))
	}
}

// invoke runs one handler, containing errors and panics alike so a
// misbehaving subscriber never stops the consumption loop.
func (b *EventBus) invoke(evt EventItem, handler EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(evt.Name), "step", evt.Step, "panic", r)
		}
	}()
	if err := handler(evt); err != nil {
		b.logger.Error("event handler failed",
			"event", string(evt.Name), "step", evt.Step, "error", err)
	}
}
