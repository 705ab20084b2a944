// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for connecting and testing resolvers
// and controllers without a controller host.
package peers

import (
	"context"
	"errors"
	"net"

	"github.com/creachadair/mockbridge"
	"github.com/creachadair/mockbridge/channel"
	"github.com/creachadair/taskgroup"
)

// Local is a resolver connected to a connection handler by an in-memory
// channel, suitable for testing.
type Local struct {
	Resolver *mockbridge.Resolver
	Handler  *mockbridge.ConnHandler

	tasks  *taskgroup.Group
	cancel context.CancelFunc
	err    error
}

// Stop shuts down both sides and blocks until both have exited. It reports
// the error from the connection handler, if any, or else from the resolver.
func (p *Local) Stop() error {
	rerr := p.Resolver.Close()
	p.cancel()
	p.tasks.Wait()
	if p.err != nil {
		return p.err
	}
	return rerr
}

// NewLocal starts h serving one end of a direct channel, and returns it with a
// resolver that uses the other end. If opts.Dial is set, it is ignored.
func NewLocal(h *mockbridge.ConnHandler, opts mockbridge.ResolverOptions) *Local {
	a2b, b2a := channel.Direct()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Local{Handler: h, tasks: taskgroup.New(nil), cancel: cancel}
	p.tasks.Go(func() error {
		p.err = h.Serve(ctx, a2b)
		return nil
	})

	opts.Dial = func(context.Context) (mockbridge.Channel, error) { return b2a, nil }
	p.Resolver = mockbridge.NewResolver(opts).Start(ctx)
	return p
}

// An Accepter accepts channels from resolvers.
type Accepter interface {
	Accept(context.Context) (mockbridge.Channel, error)
}

// Loop accepts channels from acc and serves each one with h in a goroutine.
// Loop continues until acc closes or ctx ends.
//
// When ctx terminates, all running channels are closed. When acc closes, the
// loop waits for running handlers to exit before returning.
func Loop(ctx context.Context, acc Accepter, h *mockbridge.ConnHandler) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}
		g.Go(func() error { return h.Serve(ctx, ch) })
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface. Each accepted
// connection carries framed messages.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (mockbridge.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}

// NetDialer returns a function that dials a framed-message channel to addr
// on the given network, suitable for use as the Dial field of
// [mockbridge.ResolverOptions].
func NetDialer(network, addr string) func(context.Context) (mockbridge.Channel, error) {
	return func(ctx context.Context) (mockbridge.Channel, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return channel.IO(conn, conn), nil
	}
}
