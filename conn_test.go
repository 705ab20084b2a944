// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/creachadair/mockbridge"
	"github.com/creachadair/mockbridge/channel"
	"github.com/creachadair/mockbridge/handler"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"go.uber.org/zap/zaptest"
)

// serveDirect runs h on one end of a direct channel and returns the other
// end. The returned function closes the channel and reports the result of
// Serve.
func serveDirect(t *testing.T, h *mockbridge.ConnHandler) (mockbridge.Channel, func() error) {
	t.Helper()
	cli, srv := channel.Direct()
	var err error
	g := taskgroup.New(nil)
	g.Go(func() error {
		err = h.Serve(context.Background(), srv)
		return nil
	})
	return cli, func() error { cli.Close(); g.Wait(); return err }
}

func recvResponse(t *testing.T, ch mockbridge.Channel) *mockbridge.Message {
	t.Helper()
	msg, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.Type != mockbridge.MessageResponse {
		t.Fatalf("Recv: got %v, want response", msg)
	}
	return msg
}

func TestConnHandler(t *testing.T) {
	defer leaktest.Check(t)()

	var calls atomic.Int32
	h := &mockbridge.ConnHandler{
		Dispatcher: mockbridge.DispatchFunc(func(ctx context.Context, req *http.Request, id string, hs []mockbridge.Handler, opts mockbridge.DispatchOptions, ev *mockbridge.Emitter) (*http.Response, error) {
			calls.Add(1)
			return handler.Dispatcher.Dispatch(ctx, req, id, hs, opts, ev)
		}),
		Handlers: func() []mockbridge.Handler {
			return []mockbridge.Handler{mockbridge.HTTP("GET", "/ping", handler.Text(http.StatusOK, "pong"))}
		},
		Logger: zaptest.NewLogger(t),
	}
	ch, stop := serveDirect(t, h)
	defer func() {
		if err := stop(); err != nil {
			t.Errorf("Serve: unexpected error: %v", err)
		}
	}()

	send := func(msg *mockbridge.Message) {
		t.Helper()
		if err := ch.Send(msg); err != nil {
			t.Fatalf("Send %v: %v", msg, err)
		}
	}

	t.Run("Match", func(t *testing.T) {
		send(&mockbridge.Message{Type: mockbridge.MessageRequest, ID: "m1", Request: &mockbridge.SerializedRequest{
			Method: "GET", URL: "http://api.test/ping",
		}})
		msg := recvResponse(t, ch)
		if msg.ID != "m1" || msg.Response == nil || string(msg.Response.Body) != "pong" {
			t.Errorf("Response: got %v", msg)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		send(&mockbridge.Message{Type: mockbridge.MessageRequest, ID: "m2", Request: &mockbridge.SerializedRequest{
			Method: "GET", URL: "http://api.test/missing",
		}})
		if msg := recvResponse(t, ch); msg.ID != "m2" || msg.Response != nil {
			t.Errorf("Response: got %v, want no response", msg)
		}
	})

	t.Run("CodecError", func(t *testing.T) {
		// A relative URL cannot be decoded; the request is answered with no
		// response and the channel remains usable.
		send(&mockbridge.Message{Type: mockbridge.MessageRequest, ID: "m3", Request: &mockbridge.SerializedRequest{
			Method: "GET", URL: "/relative",
		}})
		if msg := recvResponse(t, ch); msg.ID != "m3" || msg.Response != nil {
			t.Errorf("Response: got %v, want no response", msg)
		}
	})

	t.Run("DropNonRequest", func(t *testing.T) {
		// A stray response is discarded without reply, so the next message
		// received answers the following request.
		send(&mockbridge.Message{Type: mockbridge.MessageResponse, ID: "stray"})
		send(&mockbridge.Message{Type: mockbridge.MessageRequest, ID: "m4", Request: &mockbridge.SerializedRequest{
			Method: "GET", URL: "http://api.test/ping",
		}})
		if msg := recvResponse(t, ch); msg.ID != "m4" {
			t.Errorf("Response: got %v, want ID m4", msg)
		}
	})

	t.Run("InternalBypass", func(t *testing.T) {
		before := calls.Load()
		send(&mockbridge.Message{Type: mockbridge.MessageRequest, ID: "m5", Request: &mockbridge.SerializedRequest{
			Method:  "GET",
			URL:     "http://api.test/ping",
			Headers: http.Header{mockbridge.InternalHeader: {"handshake"}},
		}})
		if msg := recvResponse(t, ch); msg.ID != "m5" || msg.Response != nil {
			t.Errorf("Response: got %v, want no response", msg)
		}
		if n := calls.Load() - before; n != 0 {
			t.Errorf("Dispatcher called %d times for an internal request", n)
		}
	})
}

func TestConnHandlerBadMessage(t *testing.T) {
	defer leaktest.Check(t)()

	events := make(chan mockbridge.Event, 4)
	var emitter mockbridge.Emitter
	emitter.On(mockbridge.EventUnhandledException, func(ev mockbridge.Event) { events <- ev })

	h := &mockbridge.ConnHandler{
		Dispatcher: handler.Dispatcher,
		Handlers: func() []mockbridge.Handler {
			return []mockbridge.Handler{mockbridge.HTTP("GET", "/ping", handler.Text(http.StatusOK, "pong"))}
		},
		Events: &emitter,
		Logger: zaptest.NewLogger(t),
	}
	cli, srv := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), channel.IO(srv, srv)) }()

	// A request with a malformed field, a message of unknown type, then a
	// valid request. The channel survives the first two.
	writeFrame(t, cli, `{"type":"request","id":"bad","request":{"method":"GET","url":"http://api.test/ping","body":5}}`)
	writeFrame(t, cli, `{"type":"ping","id":"what"}`)
	writeFrame(t, cli, `{"type":"request","id":"good","request":{"method":"GET","url":"http://api.test/ping"}}`)

	// Replies are concurrent, so they may arrive in either order.
	rc := channel.IO(cli, cli)
	got := make(map[string]*mockbridge.Message)
	for range 2 {
		msg := recvResponse(t, rc)
		got[msg.ID] = msg
	}
	if msg, ok := got["bad"]; !ok || msg.Response != nil {
		t.Errorf("Reply to bad request: got %v, want no response", msg)
	}
	if msg, ok := got["good"]; !ok || msg.Response == nil || string(msg.Response.Body) != "pong" {
		t.Errorf("Reply to good request: got %v, want pong", msg)
	}

	cli.Close()
	if err := <-done; err != nil {
		t.Errorf("Serve: got %v, want nil", err)
	}

	close(events)
	var ids []string
	for ev := range events {
		var merr *mockbridge.MessageError
		if !errors.As(ev.Err, &merr) {
			t.Errorf("Event error: got %v, want *MessageError", ev.Err)
		}
		ids = append(ids, ev.RequestID)
	}
	if len(ids) != 2 {
		t.Errorf("Exception events: got IDs %q, want bad and what", ids)
	}
}

func TestConnHandlerNoDispatcher(t *testing.T) {
	cli, srv := channel.Direct()
	if err := new(mockbridge.ConnHandler).Serve(context.Background(), srv); err == nil {
		t.Error("Serve with no dispatcher: got nil error")
	}

	// The channel is closed, so the peer is not left waiting.
	if _, err := cli.Recv(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Recv from peer: got %v, want %v", err, net.ErrClosed)
	}
}

func TestConnHandlerContext(t *testing.T) {
	defer leaktest.Check(t)()

	cli, srv := channel.Direct()
	ctx, cancel := context.WithCancel(context.Background())
	h := &mockbridge.ConnHandler{Dispatcher: handler.Dispatcher}

	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, srv) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve: got %v, want nil after cancellation", err)
	}

	// Serve closes the channel on exit.
	if err := cli.Send(&mockbridge.Message{Type: mockbridge.MessageRequest}); err == nil {
		t.Error("Send after Serve exited: got nil error")
	}
}
