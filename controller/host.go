// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/creachadair/mockbridge"
	"go.uber.org/zap"
)

const (
	// DefaultAddr is the well-known address a controller listens on.
	DefaultAddr = "127.0.0.1:56957"

	// DefaultPath is the HTTP path at which channels are accepted.
	DefaultPath = "/mockbridge"

	// DefaultShutdownGrace is how long Release waits for connections to
	// drain before closing them forcibly, if the caller's context does not
	// end sooner.
	DefaultShutdownGrace = 5 * time.Second
)

// ErrHostExists is reported by [NewHost] when another host in the process has
// already claimed the requested address.
var ErrHostExists = errors.New("a host already exists for this address")

// Config carries settings for a [Host].
type Config struct {
	Addr          string        // listen address; default DefaultAddr
	Path          string        // channel path; default DefaultPath
	ShutdownGrace time.Duration // default DefaultShutdownGrace
	Logger        *zap.Logger   // default no logging
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// claims records the addresses held by live hosts in this process.
var claims struct {
	sync.Mutex
	addrs map[string]bool
}

// A Host owns the channel server for one address. It creates the server on
// first use and keeps it running across repeated setup (for example, when a
// test harness re-runs its setup), so that setup never binds the same port
// twice.
//
// At most one Host may exist for a given address in a process; NewHost
// enforces this. A host holds its claim until Shutdown. Addresses with port 0
// are not claimed, since the system assigns a distinct port at each bind.
type Host struct {
	cfg Config

	μ    sync.Mutex
	srv  *Server
	shut bool
}

// NewHost constructs a host for the address in cfg. It reports ErrHostExists
// if another host already holds that address.
func NewHost(cfg Config) (*Host, error) {
	cfg = cfg.withDefaults()

	if !isFixed(cfg.Addr) {
		return &Host{cfg: cfg}, nil // dynamic ports cannot collide
	}
	claims.Lock()
	defer claims.Unlock()
	if claims.addrs[cfg.Addr] {
		return nil, fmt.Errorf("host %s: %w", cfg.Addr, ErrHostExists)
	}
	if claims.addrs == nil {
		claims.addrs = make(map[string]bool)
	}
	claims.addrs[cfg.Addr] = true
	return &Host{cfg: cfg}, nil
}

// isFixed reports whether addr names a specific port rather than asking the
// system to choose one.
func isFixed(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err != nil || (port != "" && port != "0")
}

// Addr returns the configured listen address of h.
func (h *Host) Addr() string { return h.cfg.Addr }

// Server returns the running server of h, or nil if none is running.
func (h *Host) Server() *Server {
	h.μ.Lock()
	defer h.μ.Unlock()
	return h.srv
}

// Acquire returns the running server of h, starting one if necessary. If a
// server is already running it is returned unchanged. Otherwise Acquire binds
// the listener and returns once the server is accepting connections. A bind
// failure is reported as a *mockbridge.BindError.
func (h *Host) Acquire(ctx context.Context) (*Server, error) {
	h.μ.Lock()
	defer h.μ.Unlock()
	if h.shut {
		return nil, errors.New("host is shut down")
	} else if h.srv != nil {
		return h.srv, nil
	}
	srv, err := startServer(ctx, h.cfg)
	if err != nil {
		return nil, err
	}
	h.srv = srv
	h.cfg.Logger.Info("controller listening", zap.String("url", srv.URL()))
	return srv, nil
}

// Release stops the running server of h. It closes the listener and all
// connections, and waits for their handlers to finish. Handlers still running
// when ctx ends or the shutdown grace period elapses are abandoned after their
// channels are forcibly closed.
//
// If no server is running, Release reports mockbridge.ErrNotRunning.
func (h *Host) Release(ctx context.Context) error {
	h.μ.Lock()
	defer h.μ.Unlock()
	if h.srv == nil {
		return mockbridge.ErrNotRunning
	}
	srv := h.srv
	h.srv = nil

	ctx, cancel := context.WithTimeout(ctx, h.cfg.ShutdownGrace)
	defer cancel()
	err := srv.shutdown(ctx)
	h.cfg.Logger.Info("controller stopped", zap.String("addr", h.cfg.Addr), zap.Error(err))
	return err
}

// Shutdown releases the running server of h, if any, and drops the claim of h
// on its address. After Shutdown, h cannot acquire a server.
func (h *Host) Shutdown(ctx context.Context) error {
	err := h.Release(ctx)
	if errors.Is(err, mockbridge.ErrNotRunning) {
		err = nil
	}

	h.μ.Lock()
	defer h.μ.Unlock()
	if !h.shut {
		h.shut = true
		claims.Lock()
		delete(claims.addrs, h.cfg.Addr)
		claims.Unlock()
	}
	return err
}
