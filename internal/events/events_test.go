package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joestump/spindle/internal/events"
)

type recordingSink struct {
	events []events.Event
	err    error
	panics bool
}

func (s *recordingSink) Send(_ context.Context, e events.Event) error {
	if s.panics {
		panic("boom")
	}
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func TestEmit_Delivers(t *testing.T) {
	sink := &recordingSink{}
	em := events.NewEmitter(sink, zap.NewNop())

	props := map[string]any{"page": 1}
	em.Emit(context.Background(), events.New("u1", events.CollectionViewed, props))
	props["page"] = 2

	require.Len(t, sink.events, 1)
	assert.Equal(t, "u1", sink.events[0].DistinctID)
	assert.Equal(t, events.CollectionViewed, sink.events[0].Name)
	assert.Equal(t, 1, sink.events[0].Properties["page"], "properties must be copied")
}

func TestEmit_SinkFailureIsLoggedNotPropagated(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	em := events.NewEmitter(&recordingSink{err: errors.New("sink down")}, zap.New(core))

	assert.NotPanics(t, func() {
		em.Emit(context.Background(), events.New("u1", events.RateLimited, nil))
	})
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "event dropped", logs.All()[0].Message)
}

func TestEmit_SinkPanicIsContained(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	em := events.NewEmitter(&recordingSink{panics: true}, zap.New(core))

	assert.NotPanics(t, func() {
		em.Emit(context.Background(), events.New("u1", events.ReleaseViewed, nil))
	})
	assert.Equal(t, 1, logs.Len())
}

func TestNilEmitter(t *testing.T) {
	var em *events.Emitter
	assert.NotPanics(t, func() {
		em.Emit(context.Background(), events.New("u1", events.ConnectionAdded, nil))
	})
	assert.NoError(t, em.Close())
}

func TestNewEmitter_NilSinkDiscards(t *testing.T) {
	em := events.NewEmitter(nil, nil)
	em.Emit(context.Background(), events.New("u1", events.ConnectionRemoved, nil))
	assert.NoError(t, em.Close())
}
