// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrNotRunning is reported when a server is released or closed while none is
// running.
var ErrNotRunning = errors.New("no server is running: Listen was not called or did not complete")

// ErrDuplicateID is reported by [Resolver.Send] when the requested correlation
// ID already has a pending result.
var ErrDuplicateID = errors.New("duplicate correlation ID")

// BindError is reported when the channel server cannot bind its listener.
type BindError struct {
	Addr string // the address that could not be bound
	Err  error  // the underlying error from the listener
}

func (b *BindError) Error() string { return fmt.Sprintf("bind %s: %v", b.Addr, b.Err) }

// Unwrap reports the underlying error of b.
func (b *BindError) Unwrap() error { return b.Err }

// CodecError is reported when a request or response cannot be serialized or
// deserialized. It affects only the exchange it was reported for.
type CodecError struct {
	Op  string // e.g., "serialize request"
	Err error
}

func (c *CodecError) Error() string { return fmt.Sprintf("%s: %v", c.Op, c.Err) }

// Unwrap reports the underlying error of c.
func (c *CodecError) Unwrap() error { return c.Err }

func codecErrorf(op, msg string, args ...any) *CodecError {
	return &CodecError{Op: op, Err: fmt.Errorf(msg, args...)}
}

// MessageError is reported by a channel that received a complete message it
// could not decode. The message is consumed and the channel remains usable.
// Type and ID are recovered from the message when possible, so the exchange
// it belongs to can be settled.
type MessageError struct {
	Type MessageType // "" if unknown
	ID   string      // "" if unknown
	Err  error       // a *CodecError
}

func (m *MessageError) Error() string { return m.Err.Error() }

// Unwrap reports the underlying error of m.
func (m *MessageError) Unwrap() error { return m.Err }

// DispatchFault records a failure reported by (or a panic inside) a
// [Dispatcher] while handling a single request.
type DispatchFault struct {
	ID  string // the correlation ID of the failed request
	Err error
}

func (d *DispatchFault) Error() string {
	return fmt.Sprintf("dispatch request %q: %v", d.ID, d.Err)
}

// Unwrap reports the underlying error of d.
func (d *DispatchFault) Unwrap() error { return d.Err }

// treatErrorAsSuccess reports whether err means a channel closed cleanly.
func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
