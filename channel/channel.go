// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the mockbridge.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/creachadair/mockbridge"
)

// Direct constructs a connected pair of in-memory channels that pass messages
// directly without encoding. Messages sent to A are received by B and vice
// versa.
func Direct() (A, B mockbridge.Channel) {
	a2b := make(chan *mockbridge.Message)
	b2a := make(chan *mockbridge.Message)
	done := make(chan struct{})
	var once sync.Once
	shut := func() { once.Do(func() { close(done) }) }
	A = direct{a2b: a2b, b2a: b2a, done: done, shut: shut}
	B = direct{a2b: b2a, b2a: a2b, done: done, shut: shut}
	return
}

// A direct channel is closed as a pair: closing either end unblocks both.
type direct struct {
	a2b  chan<- *mockbridge.Message
	b2a  <-chan *mockbridge.Message
	done chan struct{}
	shut func()
}

// Send implements a method of the [mockbridge.Channel] interface.
func (d direct) Send(msg *mockbridge.Message) error {
	select {
	case <-d.done:
		return net.ErrClosed
	default:
	}
	select {
	case <-d.done:
		return net.ErrClosed
	case d.a2b <- msg:
		return nil
	}
}

// Recv implements a method of the [mockbridge.Channel] interface.
func (d direct) Recv() (*mockbridge.Message, error) {
	select {
	case <-d.done:
		return nil, net.ErrClosed
	case msg := <-d.b2a:
		return msg, nil
	}
}

// Close implements a method of the [mockbridge.Channel] interface.
func (d direct) Close() error { d.shut(); return nil }

// IO constructs a channel that receives framed messages from r and sends
// them to wc.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives framed messages on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [mockbridge.Channel] interface.
func (c IOChannel) Send(msg *mockbridge.Message) error {
	if _, err := msg.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [mockbridge.Channel] interface.
func (c IOChannel) Recv() (*mockbridge.Message, error) {
	var msg mockbridge.Message
	if _, err := msg.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Close implements a method of the [mockbridge.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }
