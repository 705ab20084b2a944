// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"fmt"
	"net/http"

	"github.com/creachadair/mds/value"
)

// A Channel is a reliable ordered stream of messages shared by a controller
// and a resolver.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the message to the receiver.
	Send(*Message) error

	// Receive the next available message from the channel. If a message
	// arrives that cannot be decoded, Recv reports a *MessageError and the
	// channel remains usable. Any other error ends the channel.
	Recv() (*Message, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// InternalHeader is a request header that marks channel handshake traffic.
// Requests carrying it are never dispatched to handlers, so an interceptor
// that sees the handshake of its own channel does not wait on itself.
const InternalHeader = "X-Mockbridge-Internal"

// IsInternal reports whether req carries the [InternalHeader] marker.
func IsInternal(req *http.Request) bool {
	return req != nil && req.Header.Get(InternalHeader) != ""
}

// A MessageLogger logs a message exchanged over a channel.
type MessageLogger func(MessageInfo)

// A MessageInfo combines a message and a flag indicating whether the message
// was sent or received.
type MessageInfo struct {
	*Message      // the message being logged
	Sent     bool // whether the message was sent (true) or received (false)
}

func (m MessageInfo) String() string {
	return fmt.Sprintf("%v %v", value.Cond(m.Sent, "send", "recv"), m.Message)
}
