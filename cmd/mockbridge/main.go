// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program mockbridge is a command-line utility for running and exercising
// mock bridge controllers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/mockbridge"
	"github.com/creachadair/mockbridge/channel"
	"github.com/creachadair/mockbridge/controller"
	"github.com/creachadair/mockbridge/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var serveFlags struct {
	Config      string `flag:"config,Path of TOML manifest (optional)"`
	Addr        string `flag:"addr,Listen address (overrides the manifest)"`
	OnUnhandled string `flag:"on-unhandled,Unhandled request policy: bypass, warn, or error"`
	LogLevel    string `flag:"log-level,Log level (overrides the manifest)"`
	Metrics     string `flag:"metrics,Serve Prometheus metrics at this address"`
	Verbose     bool   `flag:"v,Log each message exchanged with resolvers"`
}

var resolveFlags struct {
	URL     string        `flag:"url,Controller channel URL (default ws://127.0.0.1:56957/mockbridge)"`
	Data    string        `flag:"data,Request body"`
	Timeout time.Duration `flag:"timeout,default=5s,Time to wait for a response"`
	ID      string        `flag:"id,Correlation ID (default random)"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for running and exercising mock bridge controllers.",
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "[--config manifest.toml] [flags]",
				Help: `Run a controller that answers requests from resolvers.

Handlers are read from the TOML manifest given by --config. Flags override
the corresponding manifest settings. The controller runs until interrupted.`,
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:  "handlers",
				Usage: "<manifest.toml>",
				Help:  "Validate a manifest and list its handlers in matching order.",
				Run:   runHandlers,
			},
			{
				Name:  "resolve",
				Usage: "<method> <url> [Header:Value ...]",
				Help: `Ask a running controller how it would answer a request.

The request is sent over the controller channel exactly as an interceptor
would send it. If the controller answers, the response is printed. Otherwise
"no response" is printed, meaning the request would proceed unmocked.`,
				SetFlags: command.Flags(flax.MustBind, &resolveFlags),
				Run:      runResolve,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runServe(env *command.Env) error {
	var m handler.Manifest
	if serveFlags.Config != "" {
		mp, err := handler.LoadManifest(serveFlags.Config)
		if err != nil {
			return err
		}
		m = *mp
	}
	if serveFlags.Addr != "" {
		m.Addr = serveFlags.Addr
	}
	if serveFlags.OnUnhandled != "" {
		m.OnUnhandled = mockbridge.UnhandledPolicy(serveFlags.OnUnhandled)
	}
	if serveFlags.LogLevel != "" {
		m.LogLevel = serveFlags.LogLevel
	}
	if err := m.Validate(); err != nil {
		return err
	}

	log, err := newLogger(m.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	host, err := controller.NewHost(controller.Config{Addr: m.Addr, Path: m.Path, Logger: log})
	if err != nil {
		return err
	}
	defer host.Shutdown(context.Background())

	opts := controller.Options{
		Handlers:    m.HandlerList(),
		OnUnhandled: m.OnUnhandled,
		Logger:      log,
	}
	if serveFlags.Verbose {
		opts.LogMessages = func(mi mockbridge.MessageInfo) { log.Info("message", zap.Stringer("msg", mi)) }
	}
	ctrl := controller.New(host, opts)
	ctrl.Events().On(mockbridge.EventUnhandledException, func(ev mockbridge.Event) {
		log.Error("handler failed", zap.String("id", ev.RequestID), zap.Error(ev.Err))
	})
	srv, err := ctrl.Listen(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "listening at %s (%d handlers)\n", srv.URL(), len(ctrl.ListHandlers()))

	if serveFlags.Metrics != "" {
		lst, err := net.Listen("tcp", serveFlags.Metrics)
		if err != nil {
			ctrl.Close(context.Background())
			return fmt.Errorf("metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(mockbridge.Metrics(), promhttp.HandlerOpts{}))
		ms := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go ms.Serve(lst)
		defer ms.Close()
		log.Info("serving metrics", zap.String("addr", lst.Addr().String()))
	}

	<-ctx.Done()
	log.Info("shutting down")
	return ctrl.Close(context.Background())
}

func runHandlers(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("expected exactly one manifest path")
	}
	m, err := handler.LoadManifest(env.Args[0])
	if err != nil {
		return err
	}
	for i, h := range m.HandlerList() {
		info := h.Info()
		fmt.Fprintf(os.Stdout, "%d\t%s\t%s\n", i+1, info.Kind, info.Header)
	}
	return nil
}

func runResolve(env *command.Env) error {
	if len(env.Args) < 2 {
		return env.Usagef("missing method and URL")
	}
	var body io.Reader
	if resolveFlags.Data != "" {
		body = strings.NewReader(resolveFlags.Data)
	}
	req, err := http.NewRequestWithContext(env.Context(), strings.ToUpper(env.Args[0]), env.Args[1], body)
	if err != nil {
		return err
	}
	for _, arg := range env.Args[2:] {
		name, value, ok := strings.Cut(arg, ":")
		if !ok {
			return env.Usagef("invalid header %q", arg)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	url := resolveFlags.URL
	if url == "" {
		url = "ws://" + controller.DefaultAddr + controller.DefaultPath
	}
	r := mockbridge.NewResolver(mockbridge.ResolverOptions{
		Dial:    channel.Dialer(url, nil),
		Timeout: resolveFlags.Timeout,
	})
	defer r.Close()

	rsp, err := r.Resolve(env.Context(), req, resolveFlags.ID)
	if err != nil {
		return err
	} else if rsp == nil {
		if err := r.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
			fmt.Fprintf(os.Stdout, "no response (controller unavailable: %v)\n", err)
		} else {
			fmt.Fprintln(os.Stdout, "no response")
		}
		return nil
	}
	defer rsp.Body.Close()
	fmt.Fprintf(os.Stdout, "%s %s\n", rsp.Proto, rsp.Status)
	rsp.Header.Write(os.Stdout)
	fmt.Fprintln(os.Stdout)
	_, err = io.Copy(os.Stdout, rsp.Body)
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}
