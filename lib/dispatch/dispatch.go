// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import "sync"

// Action types dispatched by bureau-trust.
const (
	// ActionLoggedIn is dispatched once the session is authenticated
	// and the client is usable.
	ActionLoggedIn = "on_logged_in"
)

// Action is one dispatched message.
type Action struct {
	Type    string
	Payload any
}

// Token identifies a registration.
type Token uint64

// Dispatcher fans actions out to registered callbacks.
type Dispatcher struct {
	mu        sync.Mutex
	next      Token
	order     []Token
	callbacks map[Token]func(Action)
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{callbacks: make(map[Token]func(Action))}
}

// Register adds callback and returns the token that removes it.
func (d *Dispatcher) Register(callback func(Action)) Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	token := d.next
	d.callbacks[token] = callback
	d.order = append(d.order, token)
	return token
}

// Unregister removes the callback registered under token. Unknown
// tokens are ignored.
func (d *Dispatcher) Unregister(token Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.callbacks[token]; !ok {
		return
	}
	delete(d.callbacks, token)
	for i, registered := range d.order {
		if registered == token {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Dispatch delivers action to every callback registered at the time of
// the call.
func (d *Dispatcher) Dispatch(action Action) {
	d.mu.Lock()
	callbacks := make([]func(Action), 0, len(d.order))
	for _, token := range d.order {
		callbacks = append(callbacks, d.callbacks[token])
	}
	d.mu.Unlock()

	for _, callback := range callbacks {
		callback(action)
	}
}
