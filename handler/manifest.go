// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/creachadair/mockbridge"
	toml "github.com/pelletier/go-toml/v2"
)

// A Manifest is a static description of a controller and its handlers, as
// stored in a TOML file:
//
//	addr = "127.0.0.1:56957"
//	on_unhandled = "warn"
//	log_level = "info"
//
//	[[handler]]
//	method = "GET"
//	path = "/ping"
//	status = 200
//	body = "pong"
//
//	[[handler]]
//	kind = "graphql"
//	operation = "query"
//	name = "GetUser"
//	json = '{"data":{"user":{"id":"1"}}}'
type Manifest struct {
	Addr        string                     `toml:"addr"`
	Path        string                     `toml:"path"`
	OnUnhandled mockbridge.UnhandledPolicy `toml:"on_unhandled"`
	LogLevel    string                     `toml:"log_level"`
	Handlers    []Entry                    `toml:"handler"`
}

// An Entry describes one handler of a [Manifest] and the fixed response it
// answers with.
type Entry struct {
	Kind string `toml:"kind"` // "http" (default) or "graphql"

	// Matching criteria for HTTP handlers.
	Method string `toml:"method"`
	Path   string `toml:"path"`

	// Matching criteria for GraphQL handlers.
	Operation string `toml:"operation"`
	Name      string `toml:"name"`

	// The response. If Passthrough is set, matching requests are not mocked
	// and the other response fields must be empty.
	Status      int               `toml:"status"` // default 200
	Headers     map[string]string `toml:"headers"`
	Body        string            `toml:"body"`
	JSON        string            `toml:"json"` // sets a JSON content type
	Passthrough bool              `toml:"passthrough"`
}

// LoadManifest reads and validates a manifest from the TOML file at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates a manifest from TOML text.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports an error if m is not a usable manifest.
func (m *Manifest) Validate() error {
	var errs []error
	if !m.OnUnhandled.Valid() {
		errs = append(errs, fmt.Errorf("invalid on_unhandled policy %q", m.OnUnhandled))
	}
	if m.Path != "" && !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must begin with /", m.Path))
	}
	for i, e := range m.Handlers {
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("handler %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

// Validate reports an error if e does not describe a usable handler.
func (e Entry) Validate() error {
	switch strings.ToLower(e.Kind) {
	case "", "http":
		if e.Path == "" {
			return errors.New("missing path")
		} else if !doublestar.ValidatePattern(PathPattern(e.Path)) {
			return fmt.Errorf("invalid path pattern %q", e.Path)
		} else if e.Operation != "" || e.Name != "" {
			return errors.New("operation and name apply only to graphql handlers")
		}
	case "graphql":
		switch strings.ToLower(e.Operation) {
		case "", "query", "mutation", "subscription":
		default:
			return fmt.Errorf("invalid operation type %q", e.Operation)
		}
		if e.Method != "" || e.Path != "" {
			return errors.New("method and path apply only to http handlers")
		}
	default:
		return fmt.Errorf("unknown handler kind %q", e.Kind)
	}

	if e.Status != 0 && (e.Status < 100 || e.Status > 999) {
		return fmt.Errorf("invalid status %d", e.Status)
	} else if e.Body != "" && e.JSON != "" {
		return errors.New("body and json are mutually exclusive")
	} else if e.Passthrough && (e.Status != 0 || e.Body != "" || e.JSON != "" || len(e.Headers) != 0) {
		return errors.New("a passthrough handler has no response")
	}
	return nil
}

// Handler constructs the handler described by e. The entry should be valid.
func (e Entry) Handler() mockbridge.Handler {
	fn := e.resolve()
	if strings.EqualFold(e.Kind, "graphql") {
		return mockbridge.GraphQL(e.Operation, e.Name, fn)
	}
	return mockbridge.HTTP(e.Method, e.Path, fn)
}

func (e Entry) resolve() mockbridge.ResolveFunc {
	if e.Passthrough {
		return Passthrough
	}
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	h := make(http.Header)
	body := []byte(e.Body)
	if e.JSON != "" {
		h.Set("Content-Type", "application/json")
		body = []byte(e.JSON)
	}
	for k, v := range e.Headers {
		h.Set(k, v)
	}
	return Static(status, h, body)
}

// HandlerList constructs the handlers described by m, in order.
func (m *Manifest) HandlerList() []mockbridge.Handler {
	out := make([]mockbridge.Handler, len(m.Handlers))
	for i, e := range m.Handlers {
		out[i] = e.Handler()
	}
	return out
}
