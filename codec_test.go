// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/creachadair/mockbridge"
	"github.com/google/go-cmp/cmp"
)

func mustRequest(t *testing.T, method, url string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

// wireTrip encodes and decodes a message carrying s, so that tests observe
// what the other end of a channel would see.
func wireTrip[T any](t *testing.T, s *T, set func(*mockbridge.Message, *T), get func(*mockbridge.Message) *T) *T {
	t.Helper()
	var msg mockbridge.Message
	msg.Type, msg.ID = mockbridge.MessageRequest, "test"
	set(&msg, s)
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out mockbridge.Message
	if err := out.Decode(data); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return get(&out)
}

func reqTrip(t *testing.T, s *mockbridge.SerializedRequest) *mockbridge.SerializedRequest {
	return wireTrip(t, s,
		func(m *mockbridge.Message, s *mockbridge.SerializedRequest) { m.Request = s },
		func(m *mockbridge.Message) *mockbridge.SerializedRequest { return m.Request })
}

func rspTrip(t *testing.T, s *mockbridge.SerializedResponse) *mockbridge.SerializedResponse {
	return wireTrip(t, s,
		func(m *mockbridge.Message, s *mockbridge.SerializedResponse) { m.Response = s },
		func(m *mockbridge.Message) *mockbridge.SerializedResponse { return m.Response })
}

func TestRequestCodec(t *testing.T) {
	tests := []struct {
		name string
		body io.Reader
		want []byte // nil means absent
	}{
		{"Absent", nil, nil},
		{"Empty", bytes.NewReader(nil), []byte{}}, // NewRequest sets http.NoBody
		{"EmptyStream", io.MultiReader(), []byte{}},
		{"Body", strings.NewReader(`{"a":1}`), []byte(`{"a":1}`)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := mustRequest(t, "POST", "https://api.example.com/users?x=1", tc.body)
			req.Header.Add("X-Multi", "a")
			req.Header.Add("X-Multi", "b")

			s, err := mockbridge.SerializeRequest(req)
			if err != nil {
				t.Fatalf("SerializeRequest: %v", err)
			}
			if got, want := s.Body == nil, tc.want == nil; got != want {
				t.Errorf("Serialized body absent: got %v, want %v", got, want)
			}

			// The caller can still read the original body.
			if req.Body != nil {
				if data, _ := io.ReadAll(req.Body); string(data) != string(tc.want) {
					t.Errorf("Original body: got %q, want %q", data, tc.want)
				}
			}

			s2 := reqTrip(t, s)
			if diff := cmp.Diff(s, s2); diff != "" {
				t.Errorf("Wire round trip (-want, +got):\n%s", diff)
			}

			out, err := mockbridge.DeserializeRequest(context.Background(), s2)
			if err != nil {
				t.Fatalf("DeserializeRequest: %v", err)
			}
			if out.Method != "POST" || out.URL.String() != "https://api.example.com/users?x=1" {
				t.Errorf("Request: got %s %s", out.Method, out.URL)
			}
			if diff := cmp.Diff([]string{"a", "b"}, out.Header.Values("x-multi")); diff != "" {
				t.Errorf("Header values (-want, +got):\n%s", diff)
			}
			if tc.want == nil {
				if out.Body != nil {
					t.Errorf("Body: got %v, want nil", out.Body)
				}
				return
			}
			if out.Body == nil {
				t.Fatal("Body: got nil, want present")
			} else if len(tc.want) == 0 && out.Body != http.NoBody {
				t.Errorf("Empty body: got %T, want http.NoBody", out.Body)
			}
			data, err := io.ReadAll(out.Body)
			if err != nil {
				t.Fatalf("Read body: %v", err)
			}
			if got := string(data); got != string(tc.want) {
				t.Errorf("Body: got %q, want %q", got, tc.want)
			}

			// An empty body stays empty through a second round trip.
			again, err := mockbridge.SerializeRequest(out)
			if err != nil {
				t.Fatalf("SerializeRequest again: %v", err)
			}
			if again.Body == nil {
				t.Error("Body after second round trip: got absent, want present")
			}
		})
	}
}

func TestResponseCodec(t *testing.T) {
	t.Run("Body", func(t *testing.T) {
		rsp := &http.Response{
			StatusCode: 201,
			Status:     "201 Created",
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"id":"1"}`)),
		}
		s, err := mockbridge.SerializeResponse(rsp)
		if err != nil {
			t.Fatalf("SerializeResponse: %v", err)
		}
		want := &mockbridge.SerializedResponse{
			Status:     201,
			StatusText: "Created",
			Headers:    http.Header{"Content-Type": {"application/json"}},
			Body:       []byte(`{"id":"1"}`),
		}
		if diff := cmp.Diff(want, rspTrip(t, s)); diff != "" {
			t.Errorf("Serialized (-want, +got):\n%s", diff)
		}

		out, err := mockbridge.DeserializeResponse(s)
		if err != nil {
			t.Fatalf("DeserializeResponse: %v", err)
		}
		if out.StatusCode != 201 || out.Status != "201 Created" {
			t.Errorf("Status: got %d %q", out.StatusCode, out.Status)
		}
		data, _ := io.ReadAll(out.Body)
		if got := string(data); got != `{"id":"1"}` {
			t.Errorf("Body: got %q", got)
		}
	})

	t.Run("EmptyVersusAbsent", func(t *testing.T) {
		for _, body := range [][]byte{nil, {}} {
			s := rspTrip(t, &mockbridge.SerializedResponse{Status: 204, Body: body})
			if got, want := s.Body == nil, body == nil; got != want {
				t.Errorf("Body %q: absent is %v, want %v", body, got, want)
			}
			out, err := mockbridge.DeserializeResponse(s)
			if err != nil {
				t.Fatalf("DeserializeResponse: %v", err)
			}
			if got := out.Body == http.NoBody; got != (body == nil) {
				t.Errorf("Body %q: NoBody is %v", body, got)
			}
		}
	})

	t.Run("CustomStatusText", func(t *testing.T) {
		s := &mockbridge.SerializedResponse{Status: 299, StatusText: "Fine Enough"}
		out, err := mockbridge.DeserializeResponse(s)
		if err != nil {
			t.Fatalf("DeserializeResponse: %v", err)
		}
		if got, want := out.Status, "299 Fine Enough"; got != want {
			t.Errorf("Status: got %q, want %q", got, want)
		}
	})
}

func TestCodecErrors(t *testing.T) {
	ctx := context.Background()
	relative := mustRequest(t, "GET", "/relative/path", nil)

	tests := []struct {
		name string
		run  func() error
	}{
		{"RelativeURL", func() error {
			_, err := mockbridge.SerializeRequest(relative)
			return err
		}},
		{"NilRequest", func() error {
			_, err := mockbridge.SerializeRequest(nil)
			return err
		}},
		{"DeserializeRelative", func() error {
			_, err := mockbridge.DeserializeRequest(ctx, &mockbridge.SerializedRequest{Method: "GET", URL: "/x"})
			return err
		}},
		{"DeserializeNoMethod", func() error {
			_, err := mockbridge.DeserializeRequest(ctx, &mockbridge.SerializedRequest{URL: "http://x/"})
			return err
		}},
		{"BadStatus", func() error {
			_, err := mockbridge.SerializeResponse(&http.Response{StatusCode: 42})
			return err
		}},
		{"DeserializeBadStatus", func() error {
			_, err := mockbridge.DeserializeResponse(&mockbridge.SerializedResponse{Status: 1000})
			return err
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			var cerr *mockbridge.CodecError
			if !errors.As(err, &cerr) {
				t.Fatalf("Got error %v, want *CodecError", err)
			}
			t.Logf("CodecError OK: %v", cerr)
		})
	}
}
