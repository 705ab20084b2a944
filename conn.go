// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

// A ConnHandler serves the controller side of a channel. It receives request
// events, passes each to its Dispatcher, and sends the result back as a
// response event carrying the same correlation ID.
//
// Requests on one channel are dispatched concurrently, so responses may be
// sent in a different order than the requests were received. Resolvers match
// responses by ID, not by order.
//
// A ConnHandler may serve any number of channels concurrently. Its fields must
// not be modified once Serve has been called.
type ConnHandler struct {
	// Dispatcher decides how to answer each request (required).
	Dispatcher Dispatcher

	// Handlers returns the current handler registry. If nil, an empty
	// registry is passed to the dispatcher.
	Handlers func() []Handler

	// Options are passed through to the dispatcher.
	Options DispatchOptions

	// Events, if non-nil, receives lifecycle events.
	Events *Emitter

	// Logger, if non-nil, receives diagnostic logs.
	Logger *zap.Logger

	// LogMessages, if non-nil, is called for each message sent or received.
	LogMessages MessageLogger
}

// Serve services requests on ch until ch closes or ctx ends, then closes ch
// and waits for in-flight requests to finish. It reports nil if ch closed
// normally; otherwise the error that terminated the channel.
//
// A failure handling one request does not terminate the channel. This
// includes a message that cannot be decoded and a panic in the dispatcher.
// An undecodable request whose ID can be recovered is answered with no
// response.
func (h *ConnHandler) Serve(ctx context.Context, ch Channel) error {
	if h.Dispatcher == nil {
		ch.Close()
		return errors.New("no dispatcher")
	}
	stats.connections.Inc()
	defer stats.connections.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs := &connState{h: h, ch: ch, log: h.logger()}
	g := taskgroup.New(nil)

	// Close the channel when ctx ends, to unblock the receive loop.
	stop := context.AfterFunc(ctx, func() { cs.closeOut() })
	defer stop()

	var err error
	for {
		msg, rerr := ch.Recv()
		var merr *MessageError
		if errors.As(rerr, &merr) {
			stats.messagesRecv.Inc()
			if merr.Type == MessageRequest && merr.ID != "" {
				stats.requestsIn.Inc()
				stats.requestsActive.Inc()
				g.Go(func() error {
					defer stats.requestsActive.Dec()
					cs.reply(merr.ID, cs.invalid(merr))
					return nil
				})
			} else {
				cs.invalid(merr)
			}
			continue
		} else if rerr != nil {
			if ctx.Err() == nil && !treatErrorAsSuccess(rerr) {
				err = rerr
			}
			break
		}
		stats.messagesRecv.Inc()
		if h.LogMessages != nil {
			h.LogMessages(MessageInfo{Message: msg})
		}
		if msg.Type != MessageRequest {
			stats.messagesDropped.Inc()
			cs.log.Debug("dropped message", zap.Stringer("message", msg))
			continue
		}
		stats.requestsIn.Inc()
		stats.requestsActive.Inc()
		g.Go(func() error {
			defer stats.requestsActive.Dec()
			cs.reply(msg.ID, cs.handle(ctx, msg))
			return nil
		})
	}
	// No response can be delivered once the channel is gone, so abandon any
	// requests still being dispatched.
	cancel()
	cs.closeOut()
	g.Wait()
	return err
}

func (h *ConnHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *ConnHandler) handlers() []Handler {
	if h.Handlers == nil {
		return nil
	}
	return h.Handlers()
}

// connState is the state of one channel served by a ConnHandler.
type connState struct {
	h   *ConnHandler
	log *zap.Logger

	// Must hold the lock to send to or close ch.
	μ      sync.Mutex
	ch     Channel
	closed bool
}

// handle processes a single request message and returns the serialized
// response, or nil if there is none.
func (c *connState) handle(ctx context.Context, msg *Message) *SerializedResponse {
	log := c.log.With(zap.String("id", msg.ID))
	req, err := DeserializeRequest(ctx, msg.Request)
	if err != nil {
		stats.codecErrors.Inc()
		log.Warn("invalid request", zap.Error(err))
		return nil
	}
	if IsInternal(req) {
		log.Debug("bypass internal request", zap.String("url", msg.Request.URL))
		return nil
	}

	rsp, err := c.dispatch(ctx, req, msg.ID)
	if err != nil && ctx.Err() != nil {
		log.Debug("dispatch abandoned", zap.Error(err))
		return nil
	} else if err != nil {
		stats.dispatchFaults.Inc()
		fault := &DispatchFault{ID: msg.ID, Err: err}
		log.Error("dispatch failed", zap.Error(fault))
		c.h.Events.Emit(Event{
			Type:      EventUnhandledException,
			RequestID: msg.ID,
			Request:   req,
			Err:       fault,
		})
		return nil
	} else if rsp == nil {
		return nil
	}
	defer rsp.Body.Close()

	out, err := SerializeResponse(rsp)
	if err != nil {
		stats.codecErrors.Inc()
		log.Warn("invalid response", zap.Error(err))
		return nil
	}
	return out
}

// invalid reports a message that could not be decoded. A request is answered
// with no response, so invalid always returns nil.
func (c *connState) invalid(merr *MessageError) *SerializedResponse {
	stats.codecErrors.Inc()
	c.log.Warn("invalid message", zap.String("type", string(merr.Type)),
		zap.String("id", merr.ID), zap.Error(merr))
	c.h.Events.Emit(Event{
		Type:      EventUnhandledException,
		RequestID: merr.ID,
		Err:       merr,
	})
	return nil
}

// dispatch calls the dispatcher, converting a panic into an error.
func (c *connState) dispatch(ctx context.Context, req *http.Request, id string) (_ *http.Response, err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("dispatcher panicked (recovered): %v", x)
		}
	}()
	return c.h.Dispatcher.Dispatch(ctx, req, id, c.h.handlers(), c.h.Options, c.h.Events)
}

// reply sends a response message for id. A send failure closes the channel.
func (c *connState) reply(id string, rsp *SerializedResponse) {
	msg := &Message{Type: MessageResponse, ID: id, Response: rsp}

	c.μ.Lock()
	defer c.μ.Unlock()
	if c.closed {
		return
	}
	stats.messagesSent.Inc()
	if c.h.LogMessages != nil {
		c.h.LogMessages(MessageInfo{Message: msg, Sent: true})
	}
	if err := c.ch.Send(msg); err != nil {
		c.log.Warn("send response failed", zap.String("id", id), zap.Error(err))
		c.closeLocked()
	}
}

func (c *connState) closeOut() {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.closeLocked()
}

func (c *connState) closeLocked() {
	if !c.closed {
		c.closed = true
		c.ch.Close()
	}
}
