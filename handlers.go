// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// A ResolveFunc produces the mocked response for a request that matched a
// handler. Returning a nil response with a nil error passes the request
// through unmocked.
type ResolveFunc func(context.Context, *http.Request) (*http.Response, error)

// HandlerKind discriminates the variants of a [Handler].
type HandlerKind int

const (
	KindHTTP    HandlerKind = iota + 1 // matches by method and URL path
	KindGraphQL                        // matches by GraphQL operation
)

func (k HandlerKind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindGraphQL:
		return "graphql"
	default:
		return fmt.Sprintf("kind:%d", int(k))
	}
}

// HTTPRoute is the matching criteria for a [KindHTTP] handler.
type HTTPRoute struct {
	Method string // an HTTP method, or "" for any method
	Path   string // a path pattern; "*" and "**" match path segments
}

// GraphQLOperation is the matching criteria for a [KindGraphQL] handler.
type GraphQLOperation struct {
	Type string // "query", "mutation", or "" for either
	Name string // the operation name, or "" for any operation
}

// A Handler is one entry of a controller's handler registry. Its Kind is
// fixed at construction, and exactly the matching field (HTTP or GraphQL) is
// populated. Use the [HTTP] and [GraphQL] constructors.
type Handler struct {
	Kind    HandlerKind
	HTTP    *HTTPRoute
	GraphQL *GraphQLOperation
	Resolve ResolveFunc
}

// HTTP constructs a handler matching requests with the given method and path
// pattern. An empty method matches any method.
func HTTP(method, pattern string, fn ResolveFunc) Handler {
	return Handler{
		Kind:    KindHTTP,
		HTTP:    &HTTPRoute{Method: strings.ToUpper(method), Path: pattern},
		Resolve: fn,
	}
}

// GraphQL constructs a handler matching GraphQL operations of the given type
// ("query" or "mutation") and name. Empty values match anything.
func GraphQL(opType, name string, fn ResolveFunc) Handler {
	return Handler{
		Kind:    KindGraphQL,
		GraphQL: &GraphQLOperation{Type: strings.ToLower(opType), Name: name},
		Resolve: fn,
	}
}

// HandlerInfo is a read-only description of a [Handler].
type HandlerInfo struct {
	Kind   HandlerKind
	Header string // e.g., "GET /users/*" or "query GetUser"
}

// Info returns a description of h.
func (h Handler) Info() HandlerInfo {
	return HandlerInfo{Kind: h.Kind, Header: h.String()}
}

// String returns a human-friendly rendering of the handler criteria.
func (h Handler) String() string {
	switch h.Kind {
	case KindHTTP:
		if h.HTTP == nil {
			break
		}
		m := h.HTTP.Method
		if m == "" {
			m = "all"
		}
		return m + " " + h.HTTP.Path
	case KindGraphQL:
		if h.GraphQL == nil {
			break
		}
		t, n := h.GraphQL.Type, h.GraphQL.Name
		if t == "" {
			t = "operation"
		}
		if n == "" {
			n = "(all)"
		}
		return t + " " + n
	}
	return fmt.Sprintf("invalid handler (%v)", h.Kind)
}
