// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/creachadair/mockbridge"
	"go.uber.org/zap"
)

// Dispatcher is the default dispatcher, which does not log.
var Dispatcher mockbridge.Dispatcher = Default{}

// Default is a [mockbridge.Dispatcher] that answers each request with the
// first handler in the registry that matches it.
//
// An HTTP handler matches when its method is empty or equal to the request
// method, and its path pattern matches the request path. A GraphQL handler
// matches when the request carries a GraphQL operation whose type and name
// agree with the handler.
//
// The resolve function of the first matching handler decides the outcome. If
// it returns a response, that response is the answer. If it returns nil, the
// request passes through unmocked. If no handler matches, the request is
// reported according to the unhandled policy and passes through.
type Default struct {
	// Logger, if non-nil, receives reports of unhandled requests.
	Logger *zap.Logger
}

// Dispatch implements the [mockbridge.Dispatcher] interface.
func (d Default) Dispatch(ctx context.Context, req *http.Request, id string, hs []mockbridge.Handler, opts mockbridge.DispatchOptions, events *mockbridge.Emitter) (*http.Response, error) {
	events.Emit(mockbridge.Event{Type: mockbridge.EventRequestStart, RequestID: id, Request: req})
	defer events.Emit(mockbridge.Event{Type: mockbridge.EventRequestEnd, RequestID: id, Request: req})

	m := &matcher{req: req}
	for _, h := range hs {
		if !m.match(h) {
			continue
		}
		events.Emit(mockbridge.Event{Type: mockbridge.EventRequestMatch, RequestID: id, Request: req})
		if h.Resolve == nil {
			return nil, nil
		}
		rsp, err := h.Resolve(context.WithValue(ctx, idContextKey{}, id), req)
		if err != nil {
			return nil, err
		} else if rsp != nil {
			if rsp.Request == nil {
				rsp.Request = req
			}
			events.Emit(mockbridge.Event{
				Type:      mockbridge.EventResponseMocked,
				RequestID: id,
				Request:   req,
				Response:  rsp,
			})
		}
		return rsp, nil
	}

	events.Emit(mockbridge.Event{Type: mockbridge.EventRequestUnhandled, RequestID: id, Request: req})
	d.reportUnhandled(req, id, opts.OnUnhandled)
	return nil, nil
}

func (d Default) reportUnhandled(req *http.Request, id string, policy mockbridge.UnhandledPolicy) {
	if d.Logger == nil || policy == mockbridge.UnhandledBypass {
		return
	}
	fields := []zap.Field{
		zap.String("id", id),
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
	}
	if policy == mockbridge.UnhandledError {
		d.Logger.Error("request has no matching handler", fields...)
	} else {
		d.Logger.Warn("request has no matching handler", fields...)
	}
}

// A matcher tests handlers against one request. The GraphQL operation of the
// request is parsed at most once, the first time a GraphQL handler is tried.
type matcher struct {
	req    *http.Request
	parsed bool
	op     *operation // nil if the request is not a GraphQL operation
}

func (m *matcher) match(h mockbridge.Handler) bool {
	switch h.Kind {
	case mockbridge.KindHTTP:
		return h.HTTP != nil && matchRoute(h.HTTP, m.req)
	case mockbridge.KindGraphQL:
		if h.GraphQL == nil {
			return false
		}
		if !m.parsed {
			m.op = parseOperation(m.req)
			m.parsed = true
		}
		return m.op != nil && matchOperation(h.GraphQL, m.op)
	}
	return false
}

func matchRoute(r *mockbridge.HTTPRoute, req *http.Request) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, req.Method) {
		return false
	}
	pattern, target := r.Path, req.URL.Path
	if strings.Contains(pattern, "://") {
		// Absolute patterns match the whole URL without its query.
		u := *req.URL
		u.RawQuery, u.Fragment = "", ""
		target = u.String()
	}
	ok, err := doublestar.Match(PathPattern(pattern), target)
	return err == nil && ok
}

func matchOperation(g *mockbridge.GraphQLOperation, op *operation) bool {
	return (g.Type == "" || g.Type == op.Type) && (g.Name == "" || g.Name == op.Name)
}

// PathPattern converts a route pattern into a doublestar pattern. Path
// segments of the form ":name" match any single segment, so "/users/:id" is
// equivalent to "/users/*".
func PathPattern(p string) string {
	if !strings.Contains(p, "/:") {
		return p
	}
	parts := strings.Split(p, "/")
	for i, s := range parts {
		if len(s) > 1 && s[0] == ':' {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, "/")
}
