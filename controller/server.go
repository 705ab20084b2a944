// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package controller

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/creachadair/mockbridge"
	"github.com/creachadair/mockbridge/channel"
	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

// A ConnFunc serves one accepted channel until it closes or ctx ends.
type ConnFunc func(ctx context.Context, ch mockbridge.Channel) error

// A Server accepts channels from resolvers on a listener and passes each to
// its connection handler. Servers are created by [Host.Acquire].
type Server struct {
	cfg   Config
	lst   net.Listener
	hs    *http.Server
	tasks *taskgroup.Group
	log   *zap.Logger

	// ctx governs all connections; cancel ends them.
	ctx    context.Context
	cancel context.CancelFunc

	active sync.WaitGroup // connection handlers running

	μ      sync.Mutex
	serve  ConnFunc
	conns  map[mockbridge.Channel]struct{}
	closed bool
}

func startServer(ctx context.Context, cfg Config) (*Server, error) {
	var lc net.ListenConfig
	lst, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, &mockbridge.BindError{Addr: cfg.Addr, Err: err}
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		lst:    lst,
		tasks:  taskgroup.New(nil),
		log:    cfg.Logger,
		ctx:    sctx,
		cancel: cancel,
		conns:  make(map[mockbridge.Channel]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleUpgrade)
	s.hs = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return sctx },
	}
	s.tasks.Go(func() error {
		if err := s.hs.Serve(lst); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("controller server failed", zap.Error(err))
		}
		return nil
	})
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr { return s.lst.Addr() }

// URL returns the WebSocket URL at which resolvers reach s.
func (s *Server) URL() string { return "ws://" + s.Addr().String() + s.cfg.Path }

// SetConnHandler sets the handler for newly-accepted channels, replacing any
// previous handler. Channels already being served keep their handler. Until
// a handler is set, accepted channels are closed immediately.
func (s *Server) SetConnHandler(serve ConnFunc) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.serve = serve
}

// NumConns reports the number of channels currently being served.
func (s *Server) NumConns() int {
	s.μ.Lock()
	defer s.μ.Unlock()
	return len(s.conns)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.μ.Lock()
	serve, closed := s.serve, s.closed
	s.μ.Unlock()
	if closed {
		http.Error(w, "server is closing", http.StatusServiceUnavailable)
		return
	}

	ch, err := channel.Accept(w, r)
	if err != nil {
		s.log.Warn("channel upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if serve == nil {
		s.log.Warn("no connection handler; closing channel", zap.String("remote", r.RemoteAddr))
		ch.Close()
		return
	}
	if !s.track(ch) {
		ch.Close()
		return
	}
	defer s.untrack(ch)

	s.log.Debug("channel connected", zap.String("remote", r.RemoteAddr))
	if err := serve(s.ctx, ch); err != nil {
		s.log.Warn("channel failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
	}
	s.log.Debug("channel disconnected", zap.String("remote", r.RemoteAddr))
}

func (s *Server) track(ch mockbridge.Channel) bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closed {
		return false
	}
	s.conns[ch] = struct{}{}
	s.active.Add(1)
	return true
}

func (s *Server) untrack(ch mockbridge.Channel) {
	s.μ.Lock()
	defer s.μ.Unlock()
	delete(s.conns, ch)
	s.active.Done()
}

// shutdown closes the listener, ends all connections, and waits for their
// handlers to return. If ctx ends first, the remaining channels are closed
// forcibly and shutdown returns ctx's error.
//
// Channels are hijacked from the HTTP server, so the server's own Shutdown
// does not wait for them.
func (s *Server) shutdown(ctx context.Context) error {
	s.μ.Lock()
	s.closed = true
	s.μ.Unlock()

	// Ending the base context tells each connection handler to stop.
	s.cancel()
	err := s.hs.Shutdown(ctx)

	drained := make(chan struct{})
	go func() { s.active.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-ctx.Done():
		s.μ.Lock()
		for ch := range s.conns {
			ch.Close()
		}
		s.μ.Unlock()
		s.hs.Close()
		if err == nil {
			err = ctx.Err()
		}
	}
	s.tasks.Wait()
	return err
}
