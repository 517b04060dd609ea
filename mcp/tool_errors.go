package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/megamem/vaultd/api"
)

// toolErrorEnvelope is the structured error payload surfaced to MCP clients.
// Kind mirrors the wire taxonomy so agents can implement retry policy.
type toolErrorEnvelope struct {
	Kind              string `json:"kind"`
	Detail            string `json:"detail,omitempty"`
	Operation         string `json:"operation,omitempty"`
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

func withStructuredToolErrors[In, Out any](h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input In) (*mcpsdk.CallToolResult, Out, error) {
		res, out, err := h(ctx, req, input)
		if err == nil {
			return res, out, nil
		}
		var zero Out
		return nil, zero, toolError{Envelope: classifyToolError(err)}
	}
}

type toolError struct {
	Envelope toolErrorEnvelope
}

func (e toolError) Error() string {
	envelope := map[string]any{"error": e.Envelope}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return `{"error":{"kind":"operation","detail":"failed to encode error envelope"}}`
	}
	return string(encoded)
}

func classifyToolError(err error) toolErrorEnvelope {
	env := toolErrorEnvelope{Kind: string(api.KindOperation), Detail: strings.TrimSpace(err.Error())}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		env.Kind = string(apiErr.Kind)
		env.Detail = strings.TrimSpace(apiErr.Message)
		env.Operation = apiErr.Op
		env.Retryable = apiErr.Retryable()
		env.RetryAfterSeconds = apiErr.RetryAfterSeconds
		return env
	}
	if errors.Is(err, context.DeadlineExceeded) {
		env.Kind = string(api.KindConnectivity)
		env.Retryable = true
		env.RetryAfterSeconds = 1
	}
	return env
}
