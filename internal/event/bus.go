// Package event provides a small in-process pub/sub bus used to decouple the
// resolution pipeline from notification delivery.
package event

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	ReviewNeeded     Type = "review.needed"
	ReviewDecided    Type = "review.decided"
	ResolveCompleted Type = "resolve.completed"
	ResolveFailed    Type = "resolve.failed"
	BatchCompleted   Type = "batch.completed"
)

// Event carries one occurrence through the bus. Data is kept schemaless so
// publishers don't couple consumers to their internal types.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler processes one event. Handlers run on the bus goroutine; anything
// slow (webhook delivery) must hand off internally.
type Handler func(Event)

// Bus fans events out to subscribed handlers via a buffered queue. Publish
// never blocks the pipeline; the queue drops under sustained backpressure.
type Bus struct {
	queue    chan Event
	mu       sync.RWMutex
	handlers map[Type][]Handler
	logger   *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewBus creates an event bus with the given queue size (256 when <= 0).
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		queue:    make(chan Event, bufSize),
		handlers: make(map[Type][]Handler),
		logger:   logger.With(slog.String("component", "event-bus")),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type. Not safe to call after
// events of that type may already be in flight for ordering purposes, but
// always safe for memory.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish enqueues an event, stamping the time when the publisher didn't.
// Never blocks: a full queue drops the event with a warning.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.queue <- e:
	default:
		b.logger.Warn("event queue full, dropping event", "type", string(e.Type))
	}
}

// Start drains the queue and dispatches until Stop is called, then finishes
// whatever is still queued. Run it in its own goroutine.
func (b *Bus) Start() {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		case <-b.done:
			for {
				select {
				case e := <-b.queue:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Stop signals Start to drain and return. Idempotent.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	hs := b.handlers[e.Type]
	b.mu.RUnlock()

	for _, h := range hs {
		b.call(h, e)
	}
}

// call isolates handler panics so one bad subscriber can't take down the
// dispatch loop.
func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
		}
	}()
	h(e)
}
