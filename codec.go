// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// SerializedRequest is the flat wire form of an HTTP request.
//
// A nil Body means the request had no body; a non-nil empty Body means the
// request had a body with no content. The distinction survives encoding.
type SerializedRequest struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// SerializedResponse is the flat wire form of an HTTP response. The Body
// field follows the same rules as for a [SerializedRequest].
type SerializedResponse struct {
	Status     int         `json:"status"`
	StatusText string      `json:"statusText,omitempty"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
}

// SerializeRequest converts req into its wire form. The URL of req must be
// absolute. If req has a body, it is read in full and replaced by an
// equivalent reader so that the caller may still send req. A nil body is
// absent; http.NoBody is an empty body.
func SerializeRequest(req *http.Request) (*SerializedRequest, error) {
	const op = "serialize request"
	if req == nil {
		return nil, codecErrorf(op, "nil request")
	} else if req.Method == "" {
		return nil, codecErrorf(op, "missing method")
	} else if req.URL == nil {
		return nil, codecErrorf(op, "missing URL")
	}
	u := req.URL.String()
	if err := checkAbsolute(u); err != nil {
		return nil, &CodecError{Op: op, Err: err}
	}
	body, err := readBody(&req.Body)
	if err != nil {
		return nil, &CodecError{Op: op, Err: err}
	} else if req.Body == http.NoBody {
		body = []byte{}
	}
	return &SerializedRequest{
		Method:  req.Method,
		URL:     u,
		Headers: cloneHeader(req.Header),
		Body:    body,
	}, nil
}

// DeserializeRequest constructs a new request from its wire form, governed by
// ctx.
func DeserializeRequest(ctx context.Context, s *SerializedRequest) (*http.Request, error) {
	const op = "deserialize request"
	if s == nil {
		return nil, codecErrorf(op, "nil request")
	} else if s.Method == "" {
		return nil, codecErrorf(op, "missing method")
	}
	if err := checkAbsolute(s.URL); err != nil {
		return nil, &CodecError{Op: op, Err: err}
	}

	// N.B. Do not pass the body to NewRequest, which cannot express an
	// absent body distinctly from an empty one.
	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, nil)
	if err != nil {
		return nil, &CodecError{Op: op, Err: err}
	}
	req.Header = cloneHeader(s.Headers)
	if s.Body != nil && len(s.Body) == 0 {
		req.Body = http.NoBody
		req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
	} else if s.Body != nil {
		req.Body = io.NopCloser(bytes.NewReader(s.Body))
		req.ContentLength = int64(len(s.Body))
		req.GetBody = bodyFunc(s.Body)
	}
	return req, nil
}

// SerializeResponse converts rsp into its wire form. The body of rsp is read
// in full and replaced by an equivalent reader.
func SerializeResponse(rsp *http.Response) (*SerializedResponse, error) {
	const op = "serialize response"
	if rsp == nil {
		return nil, codecErrorf(op, "nil response")
	} else if err := checkStatus(rsp.StatusCode); err != nil {
		return nil, &CodecError{Op: op, Err: err}
	}
	body, err := readBody(&rsp.Body)
	if err != nil {
		return nil, &CodecError{Op: op, Err: err}
	}
	return &SerializedResponse{
		Status:     rsp.StatusCode,
		StatusText: statusText(rsp),
		Headers:    cloneHeader(rsp.Header),
		Body:       body,
	}, nil
}

// DeserializeResponse constructs a new response from its wire form. The
// Request field of the result is not populated.
func DeserializeResponse(s *SerializedResponse) (*http.Response, error) {
	const op = "deserialize response"
	if s == nil {
		return nil, codecErrorf(op, "nil response")
	} else if err := checkStatus(s.Status); err != nil {
		return nil, &CodecError{Op: op, Err: err}
	}
	text := s.StatusText
	if text == "" {
		text = http.StatusText(s.Status)
	}
	rsp := &http.Response{
		Status:     strconv.Itoa(s.Status) + " " + text,
		StatusCode: s.Status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     cloneHeader(s.Headers),
		Body:       http.NoBody,
	}
	if s.Body != nil {
		rsp.Body = io.NopCloser(bytes.NewReader(s.Body))
		rsp.ContentLength = int64(len(s.Body))
	}
	return rsp, nil
}

func checkAbsolute(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	} else if !u.IsAbs() || u.Host == "" {
		return errors.New("URL " + strconv.Quote(s) + " is not absolute")
	}
	return nil
}

func checkStatus(code int) error {
	if code < 100 || code > 999 {
		return errors.New("invalid status code " + strconv.Itoa(code))
	}
	return nil
}

// statusText returns the reason phrase of rsp, without the leading code.
func statusText(rsp *http.Response) string {
	code := strconv.Itoa(rsp.StatusCode)
	if len(rsp.Status) > len(code) && rsp.Status[:len(code)] == code {
		return rsp.Status[len(code)+1:]
	}
	return ""
}

// readBody reads all of *rc and replaces it with a reader over the same
// bytes. It returns nil if *rc is nil or http.NoBody, and a non-nil slice
// otherwise. Callers decide what NoBody means for their message.
func readBody(rc *io.ReadCloser) ([]byte, error) {
	if *rc == nil || *rc == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(*rc)
	(*rc).Close()
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	*rc = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func bodyFunc(data []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return make(http.Header)
	}
	return h.Clone()
}
