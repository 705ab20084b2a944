// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MessageType describes the event carried by a [Message].
type MessageType string

const (
	MessageRequest  MessageType = "request"  // controller-bound request event
	MessageResponse MessageType = "response" // resolver-bound response event
)

// maxMessageSize bounds the payload length accepted by ReadFrom.
const maxMessageSize = 64 << 20

// Message is a single event exchanged over a [Channel].
//
// A request message carries a Request. A response message carries the ID of
// the request it answers and, if the controller produced one, a Response.
// A response message with a nil Response means "no response".
type Message struct {
	Type     MessageType         `json:"type"`
	ID       string              `json:"id"`
	Request  *SerializedRequest  `json:"request,omitempty"`
	Response *SerializedResponse `json:"response,omitempty"`
}

// Encode encodes m as JSON.
func (m *Message) Encode() ([]byte, error) { return json.Marshal(m) }

// Decode decodes a JSON message from data into m. If data is not a valid
// message, Decode reports a *MessageError and m is unchanged.
func (m *Message) Decode(data []byte) error {
	var tmp Message
	if err := json.Unmarshal(data, &tmp); err != nil {
		return DecodeError(data, fmt.Errorf("invalid message: %w", err))
	}
	switch tmp.Type {
	case MessageRequest, MessageResponse:
	default:
		return DecodeError(data, fmt.Errorf("invalid message type %q", tmp.Type))
	}
	*m = tmp
	return nil
}

// DecodeError returns a *MessageError reporting err for the undecodable
// message data. The type and ID of the message are recovered from data if
// they are present and well-formed.
func DecodeError(data []byte, err error) *MessageError {
	var hdr struct {
		Type MessageType `json:"type"`
		ID   string      `json:"id"`
	}
	json.Unmarshal(data, &hdr) // best effort; other fields are ignored
	return &MessageError{
		Type: hdr.Type,
		ID:   hdr.ID,
		Err:  &CodecError{Op: "decode message", Err: err},
	}
}

// WriteTo writes m to w as a framed message. It satisfies io.WriterTo.
//
// A frame is the magic "MB", a version byte, a reserved byte, a 4-byte
// big-endian payload length, and the JSON encoding of the message.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	payload, err := m.Encode()
	if err != nil {
		return 0, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(payload)))
	hdr := [8]byte{'M', 'B', 0, 0}
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload)))
	buf.Write(hdr[:])
	buf.Write(payload)
	nw, err := w.Write(buf.Bytes())
	return int64(nw), err
}

// ReadFrom reads a framed message from r into m. It satisfies io.ReaderFrom.
// If the frame is intact but its payload cannot be decoded, ReadFrom consumes
// the frame and reports a *MessageError, and r is positioned at the next
// frame. Any other error leaves the stream unusable.
func (m *Message) ReadFrom(r io.Reader) (int64, error) {
	var hdr [8]byte
	nr, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if err == io.EOF {
			return int64(nr), err // clean end of stream
		}
		return int64(nr), fmt.Errorf("short message header: %w", err)
	}
	if p := string(hdr[:3]); p != "MB\x00" {
		return int64(nr), fmt.Errorf("invalid protocol version %q", p)
	}
	psize := binary.BigEndian.Uint32(hdr[4:])
	if psize > maxMessageSize {
		return int64(nr), fmt.Errorf("message too large (%d bytes)", psize)
	}
	payload := make([]byte, int(psize))
	np, err := io.ReadFull(r, payload)
	nr += np
	if err != nil {
		return int64(nr), fmt.Errorf("short payload: %w", err)
	}
	return int64(nr), m.Decode(payload)
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	switch {
	case m.Request != nil:
		return fmt.Sprintf("Message(%s, ID=%q, %s %s)", m.Type, m.ID, m.Request.Method, m.Request.URL)
	case m.Response != nil:
		return fmt.Sprintf("Message(%s, ID=%q, status=%d, %d bytes)", m.Type, m.ID, m.Response.Status, len(m.Response.Body))
	default:
		return fmt.Sprintf("Message(%s, ID=%q)", m.Type, m.ID)
	}
}
