package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-shopify-app/core"
)

// Operation is a single GraphQL document posted as JSON.
type Operation struct {
	Endpoint  string
	Query     string
	Name      string
	Variables map[string]any
	Header    http.Header
	Timeout   time.Duration
}

type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

type Result struct {
	Status int
	Header http.Header
	Data   json.RawMessage
	Errors []GraphQLError
}

// Decode unmarshals the data member into out.
func (r Result) Decode(out any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return core.UpstreamError(nil, "transport: graphql reply has no data")
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return core.UpstreamError(err, "transport: decode graphql data")
	}
	return nil
}

type GraphQL struct {
	client *Client
}

func NewGraphQL(doer HTTPDoer, opts ...Option) *GraphQL {
	opts = append([]Option{
		WithHeader("Content-Type", "application/json"),
		WithHeader("Accept", "application/json"),
	}, opts...)
	return &GraphQL{client: NewClient(doer, opts...)}
}

// Execute posts op. A non-2xx status or a non-empty errors member is an
// error; the Result still carries the status so callers can feed limiters.
func (g *GraphQL) Execute(ctx context.Context, op Operation) (Result, error) {
	if strings.TrimSpace(op.Endpoint) == "" {
		return Result{}, core.BadInputError("transport: graphql endpoint is required")
	}
	document := strings.TrimSpace(op.Query)
	if document == "" {
		return Result{}, core.BadInputError("transport: graphql query is required")
	}

	payload := struct {
		Query         string         `json:"query"`
		OperationName string         `json:"operationName,omitempty"`
		Variables     map[string]any `json:"variables,omitempty"`
	}{Query: document, OperationName: strings.TrimSpace(op.Name), Variables: op.Variables}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, core.BadInputError("transport: encode graphql variables: " + err.Error())
	}

	reply, err := g.client.Send(ctx, Call{
		Method:  http.MethodPost,
		URL:     op.Endpoint,
		Header:  op.Header,
		Body:    body,
		Timeout: op.Timeout,
	})
	if err != nil {
		return Result{}, err
	}
	if err := StatusError(reply, fmt.Sprintf("transport: graphql endpoint returned %d", reply.Status)); err != nil {
		return Result{Status: reply.Status, Header: reply.Header}, err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []GraphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(reply.Body, &envelope); err != nil {
		return Result{Status: reply.Status, Header: reply.Header}, core.UpstreamError(err, "transport: decode graphql reply")
	}
	result := Result{Status: reply.Status, Header: reply.Header, Data: envelope.Data, Errors: envelope.Errors}
	if len(result.Errors) > 0 {
		messages := make([]string, len(result.Errors))
		for i, item := range result.Errors {
			messages[i] = strings.TrimSpace(item.Message)
		}
		return result, core.UpstreamError(nil, "transport: graphql errors: "+strings.Join(messages, "; ")).
			WithMetadata(map[string]any{"errors": len(messages)})
	}
	return result, nil
}
