package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc consumes one event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus fans battle and session events out to the presentation layers.
// Emit never waits on a subscriber. Every named subscriber owns a FIFO
// queue drained by at most one goroutine, so a subscriber sees events in
// the order they were emitted, across all the types it listens to.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]handlerEntry
	subscribers map[string]*subscriber
	stopCh      chan struct{}
	stopped     bool
	wg          sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
	sub     *subscriber
}

type subscriber struct {
	mu       sync.Mutex
	pending  []delivery
	draining bool
}

type delivery struct {
	ctx     context.Context
	event   Event
	name    string
	handler HandlerFunc
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers:    make(map[EventType][]handlerEntry),
		subscribers: make(map[string]*subscriber),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe adds handler for eventType under name. Handlers registered
// under the same name share one delivery queue.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[name]
	if !ok {
		sub = &subscriber{}
		eb.subscribers[name] = sub
	}
	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
		sub:     sub,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("subscriber", name).
		Msg("subscriber added")
}

// Unsubscribe drops name's handler for eventType. Events already queued
// for it are still delivered.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.handlers[eventType][:0:0]
	for _, h := range eb.handlers[eventType] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(eb.handlers, eventType)
	} else {
		eb.handlers[eventType] = kept
	}

	if !eb.listensLocked(name) {
		delete(eb.subscribers, name)
	}

	log.Debug().
		Str("event", string(eventType)).
		Str("subscriber", name).
		Msg("subscriber removed")
}

func (eb *EventBus) listensLocked(name string) bool {
	for _, entries := range eb.handlers {
		for _, h := range entries {
			if h.name == name {
				return true
			}
		}
	}
	return false
}

// Emit queues event for every subscriber of its type and returns at once.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}
	entries := eb.handlers[event.Type]
	if len(entries) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("subscribers", len(entries)).
		Msg("event queued")

	for _, h := range entries {
		eb.enqueue(h.sub, delivery{ctx: ctx, event: event, name: h.name, handler: h.handler})
	}
}

func (eb *EventBus) enqueue(s *subscriber, d delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, d)
	if s.draining {
		return
	}
	s.draining = true
	eb.wg.Add(1)
	go eb.drain(s)
}

// drain delivers s's queue in order and exits once it is empty.
func (eb *EventBus) drain(s *subscriber) {
	defer eb.wg.Done()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.pending = nil
			s.mu.Unlock()
			return
		}
		d := s.pending[0]
		s.pending[0] = delivery{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		_ = deliver(d)
	}
}

// deliver runs one handler, containing panics so a broken subscriber
// cannot take the bus down with it.
func deliver(d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(d.event.Type)).
				Str("subscriber", d.name).
				Interface("panic", r).
				Msg("subscriber panicked")
			err = nil
		}
	}()

	if err = d.handler(d.ctx, d.event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(d.event.Type)).
			Str("subscriber", d.name).
			Msg("subscriber failed")
	}
	return err
}

// EmitSync runs every handler for event on the calling goroutine, in
// subscription order, and returns the first error. It bypasses the
// queues, so use it only for events no queued subscriber must see in
// sequence with others.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	entries := append([]handlerEntry(nil), eb.handlers[event.Type]...)
	eb.mu.RUnlock()

	var first error
	for _, h := range entries {
		err := deliver(delivery{ctx: ctx, event: event, name: h.name, handler: h.handler})
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stop rejects further events and waits until every queue is drained.
// Calling it again does nothing.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("Event bus drained")
}

// StopCh is closed once Stop has been called.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// SubscribeAll subscribes handler to each of eventTypes under one name,
// so all of them share a queue.
func (eb *EventBus) SubscribeAll(eventTypes []EventType, name string, handler HandlerFunc) {
	for _, t := range eventTypes {
		eb.Subscribe(t, name, handler)
	}
}

// UnsubscribeAll undoes SubscribeAll.
func (eb *EventBus) UnsubscribeAll(eventTypes []EventType, name string) {
	for _, t := range eventTypes {
		eb.Unsubscribe(t, name)
	}
}

// HandlerCount reports how many handlers listen for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
