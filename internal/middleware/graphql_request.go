package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

type graphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

// extractGraphQLRequest reads the operation source and requested operation
// name without consuming the request: the body is restored for the
// downstream handler.
func extractGraphQLRequest(r *http.Request) (string, string) {
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName")
	}

	if r.Method != http.MethodPost {
		return "", ""
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", ""
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/graphql") {
		return string(body), ""
	}

	var payload graphQLRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}

	return payload.Query, payload.OperationName
}

// requestOperationType parses query and reports the requested operation's
// type ("query" or "mutation"), or "" when it cannot be determined. With no
// operation name the document's first operation decides, matching executor
// behavior.
func requestOperationType(query, operationName string) string {
	if strings.TrimSpace(query) == "" {
		return ""
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(query),
			Name: "graphql",
		}),
	})
	if err != nil {
		return ""
	}

	var first *ast.OperationDefinition
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if first == nil {
			first = op
		}
		if operationName != "" && op.Name != nil && op.Name.Value == operationName {
			return string(op.Operation)
		}
	}

	if operationName == "" && first != nil {
		return string(first.Operation)
	}
	return ""
}
