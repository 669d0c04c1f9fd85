// Package eventbus is a small in-process, bounded, FIFO publish/
// subscribe bus. It is not a distributed system: it exists to decouple
// the controller from the components reacting to room and AI lifecycle
// events within a single process.
package eventbus

import (
	"sync"
	"time"

	"github.com/huddle-chat/huddle/internal/applog"
)

// Capacity bounds the number of pending events per topic queue.
const Capacity = 512

// CriticalPublishRetries is how many extra attempts a critical event
// gets to enqueue if the topic's queue is full.
const CriticalPublishRetries = 2

// CriticalHandlerRetries is how many times a critical event's handler
// is retried if it returns an error or panics.
const CriticalHandlerRetries = 1

// Event is a single message published to a topic.
type Event struct {
	Topic    string
	Payload  any
	Critical bool
}

// Handler reacts to one event. An error triggers a retry for critical
// events; for non-critical events it is logged and dropped.
type Handler func(Event) error

// Metrics counts bus activity for observability/tests.
type Metrics struct {
	mu              sync.Mutex
	Published       int
	Delivered       int
	Retried         int
	Dropped         int
	HandlerFailures int
	QueueFull       int
	FallbackUsed    int
}

func (m *Metrics) inc(field *int) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Published:       m.Published,
		Delivered:       m.Delivered,
		Retried:         m.Retried,
		Dropped:         m.Dropped,
		HandlerFailures: m.HandlerFailures,
		QueueFull:       m.QueueFull,
		FallbackUsed:    m.FallbackUsed,
	}
}

// Bus dispatches published events to subscribed handlers on a
// per-topic worker goroutine.
type Bus struct {
	log     *applog.Logger
	Metrics *Metrics

	mu       sync.Mutex
	queues   map[string]chan Event
	handlers map[string][]Handler
	started  map[string]bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		log:      applog.New("eventbus"),
		Metrics:  &Metrics{},
		queues:   map[string]chan Event{},
		handlers: map[string][]Handler{},
		started:  map[string]bool{},
	}
}

// Subscribe registers h to run for every event published to topic. It
// must be called before the first Publish to that topic to guarantee
// delivery of that topic's first event, matching the reference
// implementation's synchronous-registration contract.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
	b.ensureWorkerLocked(topic)
}

func (b *Bus) ensureWorkerLocked(topic string) {
	if b.started[topic] {
		return
	}
	q := make(chan Event, Capacity)
	b.queues[topic] = q
	b.started[topic] = true
	go b.worker(topic, q)
}

func (b *Bus) worker(topic string, q chan Event) {
	for ev := range q {
		b.dispatch(ev)
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[ev.Topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := b.runHandler(h, ev); err != nil {
			b.Metrics.inc(&b.Metrics.HandlerFailures)
			b.log.Warn("handler for topic %q failed: %v", ev.Topic, err)
			if ev.Critical {
				b.Metrics.inc(&b.Metrics.Retried)
				if err := b.runHandler(h, ev); err != nil {
					b.log.Warn("critical handler retry for topic %q failed: %v", ev.Topic, err)
					continue
				}
			}
		}
		b.Metrics.inc(&b.Metrics.Delivered)
	}
}

func (b *Bus) runHandler(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return h(ev)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "handler panicked" }

// Publish enqueues ev for delivery. Non-critical events are dropped,
// counted in Metrics.Dropped and logged, if the topic's queue is full. Critical events get
// CriticalPublishRetries extra attempts with a short backoff before
// falling back to synchronous, same-goroutine delivery so they are
// never silently lost.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.ensureWorkerLocked(ev.Topic)
	q := b.queues[ev.Topic]
	b.mu.Unlock()

	b.Metrics.inc(&b.Metrics.Published)

	attempts := 1
	if ev.Critical {
		attempts += CriticalPublishRetries
	}
	for i := 0; i < attempts; i++ {
		select {
		case q <- ev:
			return
		default:
			b.Metrics.inc(&b.Metrics.QueueFull)
			if i < attempts-1 {
				time.Sleep(10 * time.Millisecond)
			}
		}
	}

	if ev.Critical {
		b.Metrics.inc(&b.Metrics.FallbackUsed)
		b.log.Warn("queue full for critical topic %q, delivering synchronously", ev.Topic)
		b.dispatch(ev)
		return
	}

	b.Metrics.inc(&b.Metrics.Dropped)
	b.log.Warn("queue full for topic %q, event dropped", ev.Topic)
}

// Close closes every topic's queue; each worker goroutine still
// delivers the events already queued, then exits. Callers should
// Publish nothing after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, q := range b.queues {
		close(q)
		delete(b.queues, topic)
		delete(b.started, topic)
	}
}
