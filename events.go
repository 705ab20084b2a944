// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"net/http"
	"slices"
	"sync"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventRequestStart       EventType = "request:start"
	EventRequestMatch       EventType = "request:match"
	EventRequestUnhandled   EventType = "request:unhandled"
	EventRequestEnd         EventType = "request:end"
	EventResponseMocked     EventType = "response:mocked"
	EventUnhandledException EventType = "unhandled:exception"
)

// An Event is a lifecycle notification for one request.
type Event struct {
	Type      EventType
	RequestID string
	Request   *http.Request
	Response  *http.Response // for response events
	Err       error          // for EventUnhandledException
}

// An Emitter fans lifecycle events out to registered listeners. A zero
// Emitter is ready for use. A nil *Emitter discards all events.
//
// Listeners run synchronously in the goroutine that emits the event, in the
// order they were registered.
type Emitter struct {
	μ    sync.Mutex
	next int
	subs map[EventType][]listener
}

type listener struct {
	id int
	fn func(Event)
}

// On registers fn to be called for each event of type t. It returns a function
// that removes the registration.
func (e *Emitter) On(t EventType, fn func(Event)) (cancel func()) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.subs == nil {
		e.subs = make(map[EventType][]listener)
	}
	e.next++
	id := e.next
	e.subs[t] = append(e.subs[t], listener{id: id, fn: fn})
	return func() {
		e.μ.Lock()
		defer e.μ.Unlock()
		e.subs[t] = slices.DeleteFunc(e.subs[t], func(l listener) bool { return l.id == id })
	}
}

// Emit delivers ev to every listener registered for its type.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.μ.Lock()
	ls := slices.Clone(e.subs[ev.Type])
	e.μ.Unlock()
	for _, l := range ls {
		l.fn(ev)
	}
}

// RemoveAll removes all registered listeners.
func (e *Emitter) RemoveAll() {
	e.μ.Lock()
	defer e.μ.Unlock()
	e.subs = nil
}
