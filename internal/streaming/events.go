package streaming

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// EventType identifies a lifecycle event on a streamed generation.
type EventType string

const (
	EventStart    EventType = "start"
	EventDelta    EventType = "delta"
	EventUsage    EventType = "usage"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one lifecycle notification. Per stream: start fires once on
// the first chunk, delta per chunk, usage at most once when available,
// then exactly one of complete or error.
type Event struct {
	Type      EventType
	RequestID string
	Provider  string
	Model     string
	Text      string
	Usage     *types.Usage
	Err       error
	Timestamp time.Time
}

// Callback observes lifecycle events. Callbacks run in registration order.
type Callback func(Event)

// EventManager emits ordered lifecycle events to registered callbacks.
// Events are only produced when at least one callback is registered.
// A single goroutine (the stream consumer) drives each manager; it is not
// shared across requests.
type EventManager struct {
	callbacks []Callback
	processor *EventProcessor
	logger    *logrus.Logger

	provider  string
	model     string
	started   bool
	terminal  bool
	usageSent bool
}

// NewEventManager creates an event manager for one logical stream.
func NewEventManager(logger *logrus.Logger) *EventManager {
	return &EventManager{logger: logger}
}

// Register adds a callback. Order of registration is delivery order.
func (m *EventManager) Register(cb Callback) {
	m.callbacks = append(m.callbacks, cb)
}

// Attach sets the optional event processor that decorates every event
// with a correlation id and timestamp before delivery.
func (m *EventManager) Attach(p *EventProcessor) {
	m.processor = p
}

// Delta records an incremental text chunk, emitting start before the
// first delta.
func (m *EventManager) Delta(provider, model, text string) {
	if m.terminal {
		return
	}
	if !m.started {
		m.started = true
		m.provider = provider
		m.model = model
		m.emit(Event{Type: EventStart, Provider: provider, Model: model})
	}
	m.emit(Event{Type: EventDelta, Provider: provider, Model: model, Text: text})
}

// Usage records final token usage. Emitted at most once, before the
// terminal event.
func (m *EventManager) Usage(usage *types.Usage) {
	if m.terminal || m.usageSent || usage == nil {
		return
	}
	m.usageSent = true
	m.emit(Event{Type: EventUsage, Provider: m.provider, Model: m.model, Usage: usage})
}

// Complete emits the terminal success event. Mutually exclusive with
// Error; subsequent calls are no-ops.
func (m *EventManager) Complete() {
	if m.terminal {
		return
	}
	m.terminal = true
	m.emit(Event{Type: EventComplete, Provider: m.provider, Model: m.model})
	m.closeProcessor()
}

// Error emits the terminal failure event. Mutually exclusive with
// Complete; subsequent calls are no-ops.
func (m *EventManager) Error(err error) {
	if m.terminal {
		return
	}
	m.terminal = true
	m.emit(Event{Type: EventError, Provider: m.provider, Model: m.model, Err: err})
	m.closeProcessor()
}

func (m *EventManager) emit(ev Event) {
	if len(m.callbacks) == 0 {
		return
	}
	if p := m.processor; p != nil {
		ev = p.decorate(ev)
		if p.deferred {
			p.enqueue(ev, m.callbacks)
			return
		}
	}
	// Inline delivery: a panicking callback propagates to the stream
	// consumer.
	for _, cb := range m.callbacks {
		cb(ev)
	}
}

func (m *EventManager) closeProcessor() {
	if m.processor != nil {
		m.processor.close()
	}
}

// EventProcessor stamps every event with a stable correlation id and a
// timestamp. Inline mode decorates and delivers synchronously; deferred
// mode hands events to a dedicated goroutine so a slow or panicking
// callback cannot affect the primary stream. Ordering is preserved within
// each mode.
type EventProcessor struct {
	requestID string
	deferred  bool
	logger    *logrus.Logger

	queue chan deferredEvent
	done  chan struct{}
}

type deferredEvent struct {
	event     Event
	callbacks []Callback
}

// NewEventProcessor creates a processor for one logical request.
func NewEventProcessor(requestID string, deferred bool, logger *logrus.Logger) *EventProcessor {
	p := &EventProcessor{
		requestID: requestID,
		deferred:  deferred,
		logger:    logger,
	}
	if deferred {
		p.queue = make(chan deferredEvent, 64)
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

func (p *EventProcessor) decorate(ev Event) Event {
	ev.RequestID = p.requestID
	ev.Timestamp = time.Now()
	return ev
}

func (p *EventProcessor) enqueue(ev Event, callbacks []Callback) {
	de := deferredEvent{event: ev, callbacks: callbacks}
	if ev.Type == EventComplete || ev.Type == EventError {
		// Terminal events are never dropped; the worker is draining the
		// queue, so this send can only wait, not deadlock.
		p.queue <- de
		return
	}
	select {
	case p.queue <- de:
	default:
		// Queue full: drop rather than stall the stream.
		p.logger.WithFields(logrus.Fields{
			"request_id": p.requestID,
			"event_type": ev.Type,
		}).Warn("Deferred event queue full, dropping event")
	}
}

func (p *EventProcessor) run() {
	defer close(p.done)
	for de := range p.queue {
		for _, cb := range de.callbacks {
			p.deliver(cb, de.event)
		}
	}
}

// deliver isolates one callback invocation so a panic cannot kill the
// worker or the stream.
func (p *EventProcessor) deliver(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"request_id": p.requestID,
				"event_type": ev.Type,
				"panic":      r,
			}).Error("Event callback panicked")
		}
	}()
	cb(ev)
}

// close flushes the deferred queue and waits for delivery to finish.
func (p *EventProcessor) close() {
	if !p.deferred {
		return
	}
	close(p.queue)
	<-p.done
}
