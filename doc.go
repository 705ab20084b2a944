// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package mockbridge implements a request/response bridge between a process
// that intercepts outbound HTTP requests and a controller that decides how to
// answer them.
//
// The intercepting side, typically a test run, holds a [Resolver]. For each
// request it intercepts, the resolver sends the request to the controller
// tagged with a correlation ID and waits for the response carrying the same
// ID. The controller answers with a mocked response, or with no response,
// meaning the request should proceed to the real network.
//
// # Resolvers
//
// To create a resolver that talks to a controller over a WebSocket:
//
//	r := mockbridge.NewResolver(mockbridge.ResolverOptions{
//	   Dial: channel.Dialer("ws://127.0.0.1:56957/mockbridge", nil),
//	})
//	defer r.Close()
//
// To ask the controller how to answer a request:
//
//	rsp, err := r.Resolve(ctx, req, "")
//	if err != nil {
//	   log.Fatalf("Resolve: %v", err)
//	} else if rsp == nil {
//	   // no response: perform req normally
//	}
//
// A resolver never fails because the controller is missing. If the channel
// cannot be opened, or is lost, or the controller does not answer within the
// resolver's timeout, the request resolves to no response.
//
// Use [Resolver.Send] to issue a request without waiting, and [Pending.Wait]
// to collect its response later. Responses are matched to requests by ID, so
// concurrent requests may be answered in any order.
//
// # Channels
//
// The [Channel] interface defines the ability to send and receive messages
// between a resolver and a controller. A Channel implementation must allow
// concurrent use by one sender and one receiver.
//
// The channel package provides some basic implementations of this interface.
//
// # Controllers
//
// The controller side of a channel is served by a [ConnHandler], which passes
// each request to a [Dispatcher] along with the current handler registry.
// Package controller manages the server that accepts channels, and package
// handler provides the default dispatcher.
//
// Handshake traffic of a channel carries the [InternalHeader] marker, and is
// never dispatched to handlers on either side.
//
// # Wire Format
//
// Each [Message] is a JSON object with a type ("request" or "response"), a
// correlation ID, and a serialized request or response:
//
//	{"type":"request","id":"1","request":{"method":"GET","url":"http://x/ping",
//	 "headers":{},"body":null}}
//	{"type":"response","id":"1","response":{"status":200,"headers":{},
//	 "body":"cG9uZw=="}}
//
// A response message with no response field means no response. Bodies are
// base64 encoded, and a null body is distinct from an empty one.
//
// On stream transports, each message is framed by an 8-byte header holding
// the magic "MB", a version byte, a reserved byte, and a 4-byte big-endian
// payload length.
package mockbridge
