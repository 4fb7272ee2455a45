// Package events implements named notification events and their
// subscriptions.
package events

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicateEvent = errors.New("events: event already exists")
	ErrNoSubscriber   = errors.New("events: no subscriber")
)

// Subscriber receives pushed notifications.
type Subscriber interface {
	// ID uniquely identifies the subscriber.
	ID() string
	// Accept is consulted before a subscription is recorded; an error
	// refuses it.
	Accept(event string) error
	// Push delivers one notification. It must not block.
	Push(event string, data any) error
}

// Hub owns a set of named events.
type Hub struct {
	mu     sync.Mutex
	events map[string]*Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{events: make(map[string]*Event)}
}

// Make creates the event called name.
func (h *Hub) Make(name string) (*Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.events[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, name)
	}
	e := &Event{name: name, subs: make(map[string]Subscriber)}
	h.events[name] = e
	return e, nil
}

// Lookup returns the event called name.
func (h *Hub) Lookup(name string) (*Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.events[name]
	return e, ok
}

// UnsubscribeAll removes sub from every event of the hub.
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	h.mu.Lock()
	evs := make([]*Event, 0, len(h.events))
	for _, e := range h.events {
		evs = append(evs, e)
	}
	h.mu.Unlock()
	for _, e := range evs {
		e.Unsubscribe(sub)
	}
}

// Event is one named notification source.
type Event struct {
	name string
	mu   sync.Mutex
	subs map[string]Subscriber
}

// Name returns the event name.
func (e *Event) Name() string { return e.name }

// Subscribe adds sub. Subscribing twice is a no-op.
func (e *Event) Subscribe(sub Subscriber) error {
	if sub == nil {
		return ErrNoSubscriber
	}
	if err := sub.Accept(e.name); err != nil {
		return fmt.Errorf("events: subscribe %s to %s: %w", sub.ID(), e.name, err)
	}
	id := sub.ID()
	e.mu.Lock()
	e.subs[id] = sub
	e.mu.Unlock()

	// A subscriber that ended between Accept and the insert has already
	// been unsubscribed everywhere and would otherwise linger here.
	if err := sub.Accept(e.name); err != nil {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
		return fmt.Errorf("events: subscribe %s to %s: %w", id, e.name, err)
	}
	return nil
}

// Unsubscribe removes sub. Unknown subscribers are ignored.
func (e *Event) Unsubscribe(sub Subscriber) {
	if sub == nil {
		return
	}
	e.mu.Lock()
	delete(e.subs, sub.ID())
	e.mu.Unlock()
}

// Subscribed reports whether sub currently receives the event.
func (e *Event) Subscribed(sub Subscriber) bool {
	if sub == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subs[sub.ID()]
	return ok
}

// Count returns the number of subscribers.
func (e *Event) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Push delivers data to every subscriber and returns how many accepted it.
// Delivery happens outside the event lock.
func (e *Event) Push(data any) int {
	e.mu.Lock()
	subs := make([]Subscriber, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	n := 0
	for _, s := range subs {
		if err := s.Push(e.name, data); err == nil {
			n++
		}
	}
	return n
}
