// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/creachadair/mockbridge"
	"github.com/google/go-cmp/cmp"
)

// writeFrame writes payload to w as a framed message without checking that
// it is a valid message.
func writeFrame(t *testing.T, w io.Writer, payload string) {
	t.Helper()
	hdr := [8]byte{'M', 'B', 0, 0}
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload)))
	if _, err := w.Write(append(hdr[:], payload...)); err != nil {
		t.Fatalf("Write frame: %v", err)
	}
}

func TestMessageFraming(t *testing.T) {
	msgs := []*mockbridge.Message{
		{Type: mockbridge.MessageRequest, ID: "1", Request: &mockbridge.SerializedRequest{
			Method: "GET", URL: "http://localhost/ping", Headers: map[string][]string{},
		}},
		{Type: mockbridge.MessageResponse, ID: "1", Response: &mockbridge.SerializedResponse{
			Status: 200, Headers: map[string][]string{}, Body: []byte("pong"),
		}},
		{Type: mockbridge.MessageResponse, ID: "2"}, // no response
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		if _, err := m.WriteTo(&buf); err != nil {
			t.Fatalf("WriteTo %v: %v", m, err)
		}
	}

	var got []*mockbridge.Message
	for {
		m := new(mockbridge.Message)
		if _, err := m.ReadFrom(&buf); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("ReadFrom: %v", err)
		}
		got = append(got, m)
	}
	if diff := cmp.Diff(msgs, got); diff != "" {
		t.Errorf("Messages (-want, +got):\n%s", diff)
	}
}

func TestMessageErrors(t *testing.T) {
	frame := func(hdr string, payload string) io.Reader {
		return strings.NewReader(hdr + payload)
	}
	tests := []struct {
		name  string
		input io.Reader
		want  string
	}{
		{"BadMagic", frame("MX\x00\x00\x00\x00\x00\x02", "{}"), "invalid protocol version"},
		{"ShortHeader", frame("MB\x00\x00\x00", ""), "short message header"},
		{"ShortPayload", frame("MB\x00\x00\x00\x00\x00\x0a", "abcd"), "short payload"},
		{"TooLarge", frame("MB\x00\x00\xff\xff\xff\xff", ""), "message too large"},
		{"NotJSON", frame("MB\x00\x00\x00\x00\x00\x03", "abc"), "invalid message"},
		{"BadType", frame("MB\x00\x00\x00\x00\x00\x0e", `{"type":"foo"}`), "invalid message type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var m mockbridge.Message
			_, err := m.ReadFrom(tc.input)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("ReadFrom: got error %v, want %q", err, tc.want)
			}
			if errors.Is(err, io.EOF) {
				t.Errorf("ReadFrom: got %v, should not be a clean EOF", err)
			}
		})
	}
}

func TestUndecodableMessage(t *testing.T) {
	tests := []struct {
		name, payload string
		wantType      mockbridge.MessageType
		wantID        string
	}{
		{"NotJSON", `abc`, "", ""},
		{"BadField", `{"type":"request","id":"q1","request":{"body":5}}`, mockbridge.MessageRequest, "q1"},
		{"BadStatus", `{"type":"response","id":"s1","response":{"status":"ok"}}`, mockbridge.MessageResponse, "s1"},
		{"UnknownType", `{"type":"ping","id":"p1"}`, "ping", "p1"},
		{"BadID", `{"type":"request","id":7}`, mockbridge.MessageRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			writeFrame(t, &buf, tc.payload)
			good := &mockbridge.Message{Type: mockbridge.MessageResponse, ID: "next"}
			if _, err := good.WriteTo(&buf); err != nil {
				t.Fatalf("WriteTo: %v", err)
			}

			var m mockbridge.Message
			_, err := m.ReadFrom(&buf)
			var merr *mockbridge.MessageError
			if !errors.As(err, &merr) {
				t.Fatalf("ReadFrom: got %v, want *MessageError", err)
			}
			if merr.Type != tc.wantType || merr.ID != tc.wantID {
				t.Errorf("MessageError: got type %q ID %q, want %q %q", merr.Type, merr.ID, tc.wantType, tc.wantID)
			}
			var cerr *mockbridge.CodecError
			if !errors.As(err, &cerr) {
				t.Errorf("ReadFrom: got %v, want a *CodecError", err)
			}

			// The bad frame is consumed, and the next one is readable.
			var next mockbridge.Message
			if _, err := next.ReadFrom(&buf); err != nil {
				t.Fatalf("ReadFrom after bad frame: %v", err)
			}
			if diff := cmp.Diff(good, &next); diff != "" {
				t.Errorf("Next message (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestMessageString(t *testing.T) {
	m := &mockbridge.Message{Type: mockbridge.MessageRequest, ID: "7", Request: &mockbridge.SerializedRequest{
		Method: "GET", URL: "http://x/",
	}}
	if got, want := m.String(), `Message(request, ID="7", GET http://x/)`; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
	mi := mockbridge.MessageInfo{Message: m, Sent: true}
	if got := mi.String(); !strings.HasPrefix(got, "send ") {
		t.Errorf("MessageInfo: got %q, want send prefix", got)
	}
}
