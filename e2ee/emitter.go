// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"sort"
	"sync"
)

// Subscriber is the subscription half of an Emitter, accepted by
// consumers that only listen.
type Subscriber interface {
	// Subscribe registers handler and returns a function that removes
	// it. The unsubscribe function is idempotent.
	Subscribe(handler func(Event)) (unsubscribe func())
}

// Emitter delivers events to subscribers synchronously on the emitting
// goroutine, in subscription order. Handlers must not block; slow work
// belongs on the handler's own goroutine.
type Emitter struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(Event)
}

var _ Subscriber = (*Emitter)(nil)

// NewEmitter returns an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[int]func(Event))}
}

func (e *Emitter) Subscribe(handler func(Event)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.handlers[id] = handler
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
	}
}

// Emit delivers event to every current subscriber. Handlers added or
// removed during delivery take effect on the next Emit.
func (e *Emitter) Emit(event Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(Event), len(ids))
	for i, id := range ids {
		handlers[i] = e.handlers[id]
	}
	e.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Len returns the number of subscribers.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}
