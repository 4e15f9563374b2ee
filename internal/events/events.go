// Package events emits best-effort analytics about collection access.
// Emission failures are logged and counted but never reach the caller.
package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/metrics"
)

// Event names.
const (
	CollectionViewed         = "collection_viewed"
	ReleaseViewed            = "release_viewed"
	RateLimited              = "rate_limited"
	ConnectionAdded          = "connection_added"
	ConnectionRemoved        = "connection_removed"
	PrimaryConnectionChanged = "primary_connection_changed"
)

// Event is one analytics record. DistinctID is the local user id the event
// is attributed to.
type Event struct {
	DistinctID string
	Name       string
	Properties map[string]any
}

// New builds an Event, copying props.
func New(distinctID, name string, props map[string]any) Event {
	ev := Event{DistinctID: distinctID, Name: name, Properties: make(map[string]any, len(props))}
	for k, v := range props {
		ev.Properties[k] = v
	}
	return ev
}

// Sink delivers events somewhere.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Send(context.Context, Event) error { return nil }
func (Noop) Close() error                      { return nil }

// Emitter wraps a Sink so call sites can emit and move on.
type Emitter struct {
	sink Sink
	log  *zap.Logger
}

// NewEmitter returns an Emitter for sink. A nil sink discards events.
func NewEmitter(sink Sink, log *zap.Logger) *Emitter {
	if sink == nil {
		sink = Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{sink: sink, log: log.Named("events")}
}

// Emit hands event to the sink. It never fails and never panics.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil {
		return
	}
	if err := e.send(ctx, event); err != nil {
		metrics.EventsDroppedTotal.Inc()
		e.log.Warn("event dropped", zap.String("event", event.Name), zap.Error(err))
	}
}

func (e *Emitter) send(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return e.sink.Send(ctx, event)
}

// Close flushes and closes the sink.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	return e.sink.Close()
}
