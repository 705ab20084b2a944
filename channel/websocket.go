// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/creachadair/mockbridge"
)

// ReadLimit is the largest message, in bytes, a WebSocket channel accepts.
const ReadLimit = 64 << 20

// WebSocket constructs a channel that exchanges messages as JSON text frames
// on conn. The channel takes ownership of conn.
func WebSocket(conn *websocket.Conn) *WSChannel {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(ReadLimit)
	return &WSChannel{conn: conn, ctx: ctx, cancel: cancel}
}

// A WSChannel sends and receives messages on a WebSocket connection.
type WSChannel struct {
	conn   *websocket.Conn
	ctx    context.Context // governs reads and writes; ends at Close
	cancel context.CancelFunc
	closed atomic.Bool
}

// Send implements a method of the [mockbridge.Channel] interface.
func (c *WSChannel) Send(msg *mockbridge.Message) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.fixErr(c.conn.Write(c.ctx, websocket.MessageText, data))
}

// Recv implements a method of the [mockbridge.Channel] interface.
func (c *WSChannel) Recv() (*mockbridge.Message, error) {
	typ, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return nil, c.fixErr(err)
	} else if typ != websocket.MessageText {
		return nil, mockbridge.DecodeError(nil, fmt.Errorf("unexpected %v frame", typ))
	}
	msg := new(mockbridge.Message)
	if err := msg.Decode(data); err != nil {
		return nil, err
	}
	return msg, nil
}

// Close implements a method of the [mockbridge.Channel] interface.
func (c *WSChannel) Close() error {
	if c.closed.Swap(true) {
		return net.ErrClosed
	}
	defer c.cancel()
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil && !isNormalClose(err) {
		c.conn.CloseNow()
	}
	return nil
}

// fixErr maps an orderly shutdown of the connection, by either end, to
// net.ErrClosed.
func (c *WSChannel) fixErr(err error) error {
	if err == nil {
		return nil
	} else if c.closed.Load() || isNormalClose(err) {
		return net.ErrClosed
	}
	return err
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

// DialOptions are optional settings for [Dial].
type DialOptions struct {
	// HTTPClient, if non-nil, is used for the handshake request.
	HTTPClient *http.Client

	// Header is added to the handshake request.
	Header http.Header
}

// Dial opens a WebSocket channel to the controller at url. The handshake
// request carries the [mockbridge.InternalHeader] marker so that it is never
// treated as user traffic.
func Dial(ctx context.Context, url string, opts *DialOptions) (*WSChannel, error) {
	if opts == nil {
		opts = new(DialOptions)
	}
	hdr := opts.Header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	hdr.Set(mockbridge.InternalHeader, "handshake")

	conn, rsp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: hdr,
	})
	if rsp != nil && rsp.Body != nil {
		defer rsp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return WebSocket(conn), nil
}

// Dialer returns a function that dials url with the given options, suitable
// for use as the Dial field of [mockbridge.ResolverOptions].
func Dialer(url string, opts *DialOptions) func(context.Context) (mockbridge.Channel, error) {
	return func(ctx context.Context) (mockbridge.Channel, error) {
		ch, err := Dial(ctx, url, opts)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// Accept upgrades an HTTP request to a WebSocket channel. Origin checks are
// disabled, since a controller only listens on a local address.
func Accept(w http.ResponseWriter, r *http.Request) (*WSChannel, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, err
	}
	return WebSocket(conn), nil
}
