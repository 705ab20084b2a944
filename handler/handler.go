// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler provides the default dispatcher for a mock bridge
// controller, and helpers to construct the resolve functions of handlers.
//
// Results produced by the helpers may be []byte or string, or any type that
// supports the encoding.BinaryMarshaler or encoding.TextMarshaler interfaces.
// The JSON helpers accept any value that encoding/json can marshal.
package handler

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/creachadair/mockbridge"
)

// idContextKey is a context key for the correlation ID of a request.
type idContextKey struct{}

// ContextID returns the correlation ID of the request being resolved, or ""
// if ctx has no associated request. The context passed to a resolve function
// by the dispatcher in this package has this value.
func ContextID(ctx context.Context) string {
	if v := ctx.Value(idContextKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// Response constructs a response with the given status, headers, and body.
// A nil body yields a response with no body. The result has a Content-Length
// header matching the body.
func Response(status int, header http.Header, body []byte) *http.Response {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	rsp := &http.Response{
		Status:     strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     h,
		Body:       http.NoBody,
	}
	if body != nil {
		rsp.Body = io.NopCloser(bytes.NewReader(body))
		rsp.ContentLength = int64(len(body))
		h.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return rsp
}

// Static returns a resolve function that answers every request with a copy of
// the given status, headers, and body.
func Static(status int, header http.Header, body []byte) mockbridge.ResolveFunc {
	return func(context.Context, *http.Request) (*http.Response, error) {
		return Response(status, header, bytes.Clone(body)), nil
	}
}

// Text returns a resolve function that answers every request with the given
// status and a plain-text body.
func Text(status int, body string) mockbridge.ResolveFunc {
	return Static(status, http.Header{"Content-Type": {"text/plain; charset=utf-8"}}, []byte(body))
}

// JSON returns a resolve function that answers every request with the given
// status and the JSON encoding of v. It panics if v cannot be encoded.
func JSON(status int, v any) mockbridge.ResolveFunc {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("handler.JSON: %v", err))
	}
	return Static(status, http.Header{"Content-Type": {"application/json"}}, data)
}

// Result adapts a function f that computes a result of type R from a request,
// to a resolve function that answers with status 200 and the encoding of the
// result. If f reports an error, the resolve function reports that error.
func Result[R any](f func(context.Context, *http.Request) (R, error)) mockbridge.ResolveFunc {
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		r, err := f(ctx, req)
		if err != nil {
			return nil, err
		}
		data, err := marshal(r)
		if err != nil {
			return nil, err
		}
		return Response(http.StatusOK, nil, data), nil
	}
}

// JSONResult adapts a function f that computes a result of type R from a
// request, to a resolve function that answers with status 200 and the JSON
// encoding of the result.
func JSONResult[R any](f func(context.Context, *http.Request) (R, error)) mockbridge.ResolveFunc {
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		r, err := f(ctx, req)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		return Response(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, data), nil
	}
}

// Passthrough is a resolve function that never answers, so that matching
// requests proceed unmocked without being reported as unhandled.
func Passthrough(context.Context, *http.Request) (*http.Response, error) { return nil, nil }

// marshal encodes v into data. The concrete type of v must be a []byte or
// string (or a pointer to these); otherwise it must implement either the
// encoding.BinaryMarshaler interface or the encoding.TextMarshaler
// interface. If v implements both, BinaryMarshaler is preferred.
//
// As a special case if v is a nil pointer to a string or []byte, the result is
// nil without error.
func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case *[]byte:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case string:
		return []byte(t), nil
	case *string:
		if t == nil {
			return nil, nil
		}
		return []byte(*t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}
