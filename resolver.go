// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout is the default time a resolver waits for a response before
// letting the request through unmocked.
const DefaultTimeout = 5 * time.Second

// ResolverOptions are settings for a [Resolver].
type ResolverOptions struct {
	// Dial acquires a channel connected to a controller (required).
	Dial func(context.Context) (Channel, error)

	// Timeout bounds how long Wait blocks for a response. If zero,
	// DefaultTimeout is used; if negative, Wait does not time out.
	Timeout time.Duration

	// Logger, if non-nil, receives diagnostic logs.
	Logger *zap.Logger

	// LogMessages, if non-nil, is called for each message sent or received.
	LogMessages MessageLogger
}

// A Resolver asks a remote controller how to answer outbound requests.
//
// Each request is sent with a correlation ID, and the response event carrying
// the same ID settles the [Pending] result for that request. If the controller
// cannot be reached, requests resolve to no response, meaning the caller
// should let them proceed unmocked.
//
// A Resolver dials its controller at most once. If the dial fails, or the
// channel is later lost, the resolver does not reconnect.
type Resolver struct {
	opts  ResolverOptions
	log   *zap.Logger
	start sync.Once
	ready chan struct{} // closed when acquisition is complete
	tasks *taskgroup.Group

	out struct {
		// Must hold the lock to send to or close ch.
		sync.Mutex
		ch Channel
	}

	μ      sync.Mutex
	err    error              // acquisition or channel failure
	closed bool               // Close was called
	ocall  map[string]pending // outbound requests pending responses
}

// NewResolver constructs a new resolver. The resolver does not dial its
// controller until Start or Send is called.
func NewResolver(opts ResolverOptions) *Resolver {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Resolver{
		opts:  opts,
		log:   log,
		ready: make(chan struct{}),
		tasks: taskgroup.New(nil),
		ocall: make(map[string]pending),
	}
}

// Start begins acquiring a channel to the controller in the background, and
// returns r to permit chaining. The dial is governed by ctx. Calling Start
// more than once has no further effect.
func (r *Resolver) Start(ctx context.Context) *Resolver {
	r.start.Do(func() {
		r.tasks.Go(func() error {
			defer close(r.ready)
			r.connect(ctx)
			return nil
		})
	})
	return r
}

func (r *Resolver) connect(ctx context.Context) {
	if r.opts.Dial == nil {
		r.setErr(errors.New("no dialer"))
		return
	}
	ch, err := r.opts.Dial(ctx)
	if err != nil {
		r.log.Warn("controller unavailable", zap.Error(err))
		r.setErr(fmt.Errorf("dial controller: %w", err))
		return
	}

	r.μ.Lock()
	if r.closed {
		r.μ.Unlock()
		ch.Close()
		return
	}
	r.out.Lock()
	r.out.ch = ch
	r.out.Unlock()
	r.μ.Unlock()

	r.tasks.Go(func() error {
		for {
			msg, err := ch.Recv()
			var merr *MessageError
			if errors.As(err, &merr) {
				stats.messagesRecv.Inc()
				r.invalidMessage(merr)
				continue
			} else if err != nil {
				r.fail(err)
				return nil
			}
			stats.messagesRecv.Inc()
			r.dispatchMessage(msg)
		}
	})
}

func (r *Resolver) setErr(err error) {
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Err reports the error that made the controller unavailable, if any. It
// returns nil while the resolver is usable.
func (r *Resolver) Err() error {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.err
}

// Resolve sends req to the controller with the given correlation ID and waits
// for the response. If id == "", a fresh ID is generated.
//
// A nil response with a nil error means the controller provided no response,
// either because no handler matched, because the controller could not be
// reached, or because the wait timed out. The caller should then perform the
// request normally.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, id string) (*http.Response, error) {
	p, err := r.Send(ctx, req, id)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Send sends req to the controller with the given correlation ID, and returns
// a pending result that settles when the matching response arrives. If id ==
// "", a fresh ID is generated. It is an error to reuse the ID of a request
// that is still pending.
//
// If the controller is unavailable, Send returns a result that is already
// settled with no response. Send reports an error only if ctx ends while
// waiting for the connection, the ID is a duplicate, or req cannot be
// serialized.
func (r *Resolver) Send(ctx context.Context, req *http.Request, id string) (*Pending, error) {
	// The dial is shared by all requests, so it must not be abandoned when the
	// first caller gives up.
	r.Start(context.WithoutCancel(ctx))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.ready:
	}
	if id == "" {
		id = uuid.NewString()
	}
	p := &Pending{r: r, id: id, req: req}

	if IsInternal(req) {
		return p.settle(), nil
	}
	sreq, err := SerializeRequest(req)
	if err != nil {
		stats.codecErrors.Inc()
		return nil, err
	}

	// Phase 1: Check for failure and register the pending result.
	r.μ.Lock()
	if r.err != nil || r.closed {
		r.μ.Unlock()
		return p.settle(), nil
	} else if _, ok := r.ocall[id]; ok {
		r.μ.Unlock()
		return nil, fmt.Errorf("request %q: %w", id, ErrDuplicateID)
	}
	p.pc = make(pending, 1)
	r.ocall[id] = p.pc
	stats.requestsPending.Inc()
	r.μ.Unlock()

	// Send the request to the controller. Note we MUST NOT hold the state lock
	// while doing this, as that will block the receiver from dispatching.
	err = r.sendOut(&Message{Type: MessageRequest, ID: id, Request: sreq})
	stats.requestsOut.Inc()

	// Phase 2: If the send failed, the controller is unavailable.
	if err != nil {
		r.log.Warn("send request failed", zap.String("id", id), zap.Error(err))
		r.releaseID(id)
		r.closeOut()
		return p.settle(), nil
	}
	return p, nil
}

// Close closes the channel to the controller and waits for the resolver to
// stop. Any results still pending settle with no response. Close reports the
// error that made the controller unavailable, unless the channel simply
// closed.
func (r *Resolver) Close() error {
	r.μ.Lock()
	r.closed = true
	r.μ.Unlock()
	r.closeOut()
	r.tasks.Wait()

	r.μ.Lock()
	defer r.μ.Unlock()
	if r.err != nil && !treatErrorAsSuccess(r.err) {
		return r.err
	}
	return nil
}

// dispatchMessage delivers a response message to the pending result with the
// same ID, or discards it if there is none.
func (r *Resolver) dispatchMessage(msg *Message) {
	if r.opts.LogMessages != nil {
		r.opts.LogMessages(MessageInfo{Message: msg})
	}
	if msg.Type != MessageResponse {
		stats.messagesDropped.Inc()
		return
	}

	r.μ.Lock()
	defer r.μ.Unlock()
	pc, ok := r.ocall[msg.ID]
	if !ok {
		// Silently discard response for unknown (or abandoned) request ID.
		stats.messagesDropped.Inc()
		r.log.Debug("dropped response for unknown request", zap.String("id", msg.ID))
		return
	}
	r.releaseIDLocked(msg.ID)
	pc.deliver(msg.Response) // does not block
}

// invalidMessage discards a message that could not be decoded. If it was a
// response to a pending request, that request settles with no response.
func (r *Resolver) invalidMessage(merr *MessageError) {
	stats.codecErrors.Inc()
	r.log.Warn("invalid message from controller", zap.String("id", merr.ID), zap.Error(merr))
	if merr.Type != MessageResponse || merr.ID == "" {
		stats.messagesDropped.Inc()
		return
	}

	r.μ.Lock()
	defer r.μ.Unlock()
	pc, ok := r.ocall[merr.ID]
	if !ok {
		stats.messagesDropped.Inc()
		return
	}
	r.releaseIDLocked(merr.ID)
	pc.deliver(nil)
}

// fail terminates all pending requests and records the failure.
func (r *Resolver) fail(err error) {
	r.closeOut()

	r.μ.Lock()
	defer r.μ.Unlock()
	for id, pc := range r.ocall {
		pc.close()
		delete(r.ocall, id)
		stats.requestsPending.Dec()
	}
	if r.err == nil {
		r.err = err
	}
	if !treatErrorAsSuccess(err) {
		r.log.Warn("controller channel failed", zap.Error(err))
	}
}

func (r *Resolver) releaseID(id string) {
	r.μ.Lock()
	defer r.μ.Unlock()
	r.releaseIDLocked(id)
}

func (r *Resolver) releaseIDLocked(id string) {
	if _, ok := r.ocall[id]; ok {
		delete(r.ocall, id)
		stats.requestsPending.Dec()
	}
}

func (r *Resolver) sendOut(msg *Message) error {
	r.out.Lock()
	defer r.out.Unlock()
	if r.out.ch == nil {
		return errors.New("channel is closed")
	}
	stats.messagesSent.Inc()
	if r.opts.LogMessages != nil {
		r.opts.LogMessages(MessageInfo{Message: msg, Sent: true})
	}
	return r.out.ch.Send(msg)
}

func (r *Resolver) closeOut() {
	r.out.Lock()
	defer r.out.Unlock()
	if r.out.ch != nil {
		r.out.ch.Close()
		r.out.ch = nil
	}
}

// A Pending is the deferred result of one request sent by a [Resolver]. It
// settles exactly once.
type Pending struct {
	r   *Resolver
	id  string
	req *http.Request
	pc  pending // nil if settled at creation
}

// ID returns the correlation ID of the request.
func (p *Pending) ID() string { return p.id }

// settle marks p as settled with no response.
func (p *Pending) settle() *Pending {
	stats.requestsFallback.Inc()
	return p
}

// Wait blocks until the response for p arrives, the resolver's timeout
// elapses, or ctx ends. It returns the response, or nil if there is none.
// If ctx ends first, Wait reports its error and abandons the request.
//
// After Wait returns, later calls report no response. Wait must not be
// called concurrently on the same Pending.
func (p *Pending) Wait(ctx context.Context) (*http.Response, error) {
	if p.pc == nil {
		return nil, nil
	}
	var expired <-chan time.Time
	if d := p.r.opts.Timeout; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-ctx.Done():
		p.r.releaseID(p.id)
		p.pc = nil
		return nil, ctx.Err()

	case <-expired:
		p.r.releaseID(p.id)
		p.pc = nil
		stats.requestsTimedOut.Inc()
		stats.requestsFallback.Inc()
		p.r.log.Warn("timed out waiting for response", zap.String("id", p.id))
		return nil, nil

	case srsp, ok := <-p.pc:
		p.pc = nil
		if !ok || srsp == nil {
			// Closed without a response means the channel was lost, and a
			// response with no payload means the controller had no answer.
			stats.requestsFallback.Inc()
			return nil, nil
		}
		rsp, err := DeserializeResponse(srsp)
		if err != nil {
			stats.codecErrors.Inc()
			return nil, err
		}
		rsp.Request = p.req
		return rsp, nil
	}
}

type pending chan *SerializedResponse

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(r *SerializedResponse) {
	if p != nil {
		p <- r
		close(p)
	}
}
