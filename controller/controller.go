// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package controller implements the controller side of a mock bridge.
//
// A [Host] owns the channel server for one address, and a [Controller] binds
// a handler registry to that server so that requests from resolvers are
// answered by its handlers:
//
//	host, err := controller.NewHost(controller.Config{})
//	...
//	c := controller.New(host, controller.Options{
//	   Handlers: []mockbridge.Handler{
//	      mockbridge.HTTP("GET", "/ping", handler.Text(200, "pong")),
//	   },
//	})
//	if _, err := c.Listen(ctx); err != nil {
//	   log.Fatalf("Listen: %v", err)
//	}
//	defer c.Close(ctx)
package controller

import (
	"context"
	"slices"
	"sync"

	"github.com/creachadair/mockbridge"
	"github.com/creachadair/mockbridge/handler"
	"go.uber.org/zap"
)

// Options are settings for a [Controller].
type Options struct {
	// Dispatcher decides how requests are answered. If nil, a handler.Default
	// dispatcher using Logger is used.
	Dispatcher mockbridge.Dispatcher

	// Handlers is the initial handler registry.
	Handlers []mockbridge.Handler

	// OnUnhandled selects how requests that match no handler are reported.
	OnUnhandled mockbridge.UnhandledPolicy

	// Logger, if non-nil, receives diagnostic logs.
	Logger *zap.Logger

	// LogMessages, if non-nil, is called for each message exchanged with a
	// resolver.
	LogMessages mockbridge.MessageLogger
}

// A Controller answers requests from resolvers with its handler registry.
type Controller struct {
	host   *Host
	log    *zap.Logger
	events mockbridge.Emitter
	conn   *mockbridge.ConnHandler

	μ        sync.Mutex
	handlers []mockbridge.Handler
}

// New constructs a controller that serves on host with the given options.
// The controller does not listen until Listen is called.
func New(host *Host, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	d := opts.Dispatcher
	if d == nil {
		d = handler.Default{Logger: log}
	}
	c := &Controller{
		host:     host,
		log:      log,
		handlers: slices.Clone(opts.Handlers),
	}
	c.conn = &mockbridge.ConnHandler{
		Dispatcher:  d,
		Handlers:    c.Handlers,
		Options:     mockbridge.DispatchOptions{OnUnhandled: opts.OnUnhandled},
		Events:      &c.events,
		Logger:      log,
		LogMessages: opts.LogMessages,
	}
	return c
}

// Listen starts the channel server of the host if it is not already running,
// and installs c as the handler for its connections. Calling Listen again
// while the server is running reuses it and does not bind a second time.
//
// A failure to bind the listener is reported as a *mockbridge.BindError.
func (c *Controller) Listen(ctx context.Context) (*Server, error) {
	srv, err := c.host.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	srv.SetConnHandler(c.conn.Serve)
	c.log.Debug("controller ready", zap.String("url", srv.URL()), zap.Int("handlers", len(c.Handlers())))
	return srv, nil
}

// Close stops the channel server of the host. If no server is running, Close
// reports mockbridge.ErrNotRunning.
func (c *Controller) Close(ctx context.Context) error {
	if c.host.Server() == nil {
		return mockbridge.ErrNotRunning
	}
	return c.host.Release(ctx)
}

// Use appends handlers to the registry of c. Requests already being
// dispatched are not affected.
func (c *Controller) Use(hs ...mockbridge.Handler) {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.handlers = append(c.handlers, hs...)
}

// Handlers returns a snapshot of the handler registry of c, in order.
func (c *Controller) Handlers() []mockbridge.Handler {
	c.μ.Lock()
	defer c.μ.Unlock()
	return slices.Clone(c.handlers)
}

// ListHandlers returns a description of each handler in the registry of c,
// in order.
func (c *Controller) ListHandlers() []mockbridge.HandlerInfo {
	hs := c.Handlers()
	out := make([]mockbridge.HandlerInfo, len(hs))
	for i, h := range hs {
		out[i] = h.Info()
	}
	return out
}

// Events returns the lifecycle event emitter of c.
func (c *Controller) Events() *mockbridge.Emitter { return &c.events }
