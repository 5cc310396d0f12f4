package event

import (
	"sync"

	"go.uber.org/zap"

	"github.com/opmon/transfer-monitor/internal/logging"
	"github.com/opmon/transfer-monitor/internal/metrics"
)

// Handler consumes one dispatched envelope.
type Handler func(Envelope)

type subscription struct {
	id uint64
	fn Handler
}

// Dispatcher is a typed publish/subscribe registry. Callbacks registered for
// an envelope's type run first, in registration order, followed by wildcard
// callbacks. A panicking callback is recovered and logged without affecting
// its siblings or the caller of Dispatch.
type Dispatcher struct {
	mu      sync.Mutex
	subs    map[Type][]subscription
	nextID  uint64
	last    Envelope
	hasLast bool
	logger  *zap.Logger
}

// NewDispatcher creates an empty registry. A nil logger disables logging.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subs:   make(map[Type][]subscription),
		logger: logging.OrNop(logger),
	}
}

// Subscribe registers fn under eventType and returns a token that removes
// exactly this registration. Use Wildcard to receive every envelope. The
// returned func is idempotent.
func (d *Dispatcher) Subscribe(eventType Type, fn Handler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs[eventType] = append(d.subs[eventType], subscription{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		list := d.subs[eventType]
		for i, sub := range list {
			if sub.id == id {
				d.subs[eventType] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(d.subs[eventType]) == 0 {
			delete(d.subs, eventType)
		}
	}
}

// UnsubscribeAll bulk-clears every callback registered for eventType. It does
// not touch wildcard registrations.
func (d *Dispatcher) UnsubscribeAll(eventType Type) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, eventType)
}

// Dispatch records env as the most recently seen envelope and invokes the
// registered callbacks. Callbacks run outside the registry lock so they may
// subscribe or unsubscribe freely.
func (d *Dispatcher) Dispatch(env Envelope) {
	d.mu.Lock()
	d.last = env
	d.hasLast = true
	handlers := make([]subscription, 0, len(d.subs[env.Type])+len(d.subs[Wildcard]))
	if env.Type != Wildcard {
		handlers = append(handlers, d.subs[env.Type]...)
	}
	handlers = append(handlers, d.subs[Wildcard]...)
	d.mu.Unlock()

	metrics.EnvelopeDispatched(string(env.Type))
	for _, sub := range handlers {
		d.invoke(sub.fn, env)
	}
}

// Last returns the most recently dispatched envelope, if any.
func (d *Dispatcher) Last() (Envelope, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.hasLast
}

func (d *Dispatcher) invoke(fn Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerPanic()
			d.logger.Error("subscriber callback panicked",
				zap.String("type", string(env.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(env)
}
