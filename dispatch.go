// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"context"
	"net/http"
)

// A Dispatcher decides how a controller answers a request. It must not touch
// the channel the request arrived on.
//
// Dispatch reports a nil response and a nil error when no handler matches.
// Any error it reports is treated as a [DispatchFault] for that request only.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *http.Request, id string, handlers []Handler, opts DispatchOptions, events *Emitter) (*http.Response, error)
}

// DispatchFunc adapts a function to the [Dispatcher] interface.
type DispatchFunc func(context.Context, *http.Request, string, []Handler, DispatchOptions, *Emitter) (*http.Response, error)

// Dispatch implements the [Dispatcher] interface.
func (f DispatchFunc) Dispatch(ctx context.Context, req *http.Request, id string, hs []Handler, opts DispatchOptions, events *Emitter) (*http.Response, error) {
	return f(ctx, req, id, hs, opts, events)
}

// DispatchOptions are settings passed through to a [Dispatcher].
type DispatchOptions struct {
	// OnUnhandled selects what happens to a request no handler matches.
	OnUnhandled UnhandledPolicy
}

// UnhandledPolicy describes how unmatched requests are reported.
type UnhandledPolicy string

const (
	UnhandledBypass UnhandledPolicy = "bypass" // pass through silently
	UnhandledWarn   UnhandledPolicy = "warn"   // pass through, log a warning
	UnhandledError  UnhandledPolicy = "error"  // pass through, log an error
)

// Valid reports whether p is a known policy. The empty policy is valid and
// behaves as UnhandledWarn.
func (p UnhandledPolicy) Valid() bool {
	switch p {
	case "", UnhandledBypass, UnhandledWarn, UnhandledError:
		return true
	}
	return false
}
