package writers

import (
	"context"
	"errors"
	"sync"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
)

// Event enqueues a write as soon as the state store reports a write
// request for one of the connector's properties.
type Event struct {
	base
	events StateEvents

	mu          sync.Mutex
	unsubscribe func()
}

// NewEvent creates an event writer. deps.Events must be set.
func NewEvent(deps Deps) *Event {
	return &Event{base: newBase(deps), events: deps.Events}
}

// Connect subscribes to state changes. Calling it twice is a no-op.
func (w *Event) Connect(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.unsubscribe == nil {
		w.unsubscribe = w.events.Subscribe(w.handle)
		w.logDebug("event writer connected")
	}
	return nil
}

// Disconnect removes the subscription.
func (w *Event) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
		w.logDebug("event writer disconnected")
	}
}

func (w *Event) handle(ev device.PropertyStateEvent) {
	if !isWriteRequest(ev.Current.Expected, ev.Current.Pending) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	prop, err := w.ownedProperty(ctx, ev.PropertyID)
	if err != nil {
		if !errors.Is(err, errForeignProperty) {
			w.logError("loading requested property failed", err, "property", ev.PropertyID)
		}
		return
	}
	if !prop.Settable {
		w.logWarn("write requested for read-only property", "property", prop.Identifier)
		return
	}

	w.queue.Append(writeMessage(w.connector.ID, prop, ev.Current))
}
