// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// maxGraphQLBody bounds the size of a request body inspected for a GraphQL
// operation.
const maxGraphQLBody = 4 << 20

// An operation is the GraphQL operation selected by a request.
type operation struct {
	Type string // "query", "mutation", or "subscription"
	Name string // "" for an anonymous operation
}

// graphQLRequest is the JSON body of a GraphQL-over-HTTP request.
type graphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

// parseOperation reports the GraphQL operation selected by req, or nil if req
// does not carry a well-formed GraphQL document.
//
// A GET request carries the document in its query parameters. A POST request
// carries it in a JSON body, or as the whole body if the content type is
// application/graphql. The body of req is restored after it is read.
func parseOperation(req *http.Request) *operation {
	var greq graphQLRequest
	switch req.Method {
	case http.MethodGet:
		q := req.URL.Query()
		greq.Query = q.Get("query")
		greq.OperationName = q.Get("operationName")

	case http.MethodPost:
		body := peekBody(req)
		if len(body) == 0 {
			return nil
		}
		ct, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
		if ct == "application/graphql" {
			greq.Query = string(body)
		} else if err := json.Unmarshal(body, &greq); err != nil {
			return nil
		}

	default:
		return nil
	}
	if greq.Query == "" {
		return nil
	}
	return selectOperation(greq.Query, greq.OperationName)
}

// selectOperation parses query and returns the operation named by name. If
// name == "", the document must contain exactly one operation.
func selectOperation(query, name string) *operation {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil
	}
	var op *ast.OperationDefinition
	if name == "" {
		if len(doc.Operations) != 1 {
			return nil
		}
		op = doc.Operations[0]
	} else if op = doc.Operations.ForName(name); op == nil {
		return nil
	}
	return &operation{Type: string(op.Operation), Name: op.Name}
}

// peekBody reads the body of req, up to maxGraphQLBody bytes, and replaces it
// with a reader that yields the same content.
func peekBody(req *http.Request) []byte {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxGraphQLBody))
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), req.Body), req.Body}
	if err != nil {
		return nil
	}
	return data
}
