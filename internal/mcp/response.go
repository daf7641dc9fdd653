package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// createJSONResponse marshals data as the single text content block of
// a tool result, matching every operation's response shape (§6).
func createJSONResponse(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(content)}},
	}, nil
}

// createErrorResponse reports a tool-level failure as an IsError
// result carrying the error taxonomy kind when err is one of ours
// (§7), so a client can branch on it without string matching.
func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	payload := map[string]interface{}{
		"success":   false,
		"operation": operation,
		"error":     err.Error(),
	}
	if kind, ok := errorKind(err); ok {
		payload["error_kind"] = kind
		payload["recoverable"] = errorRecoverable(err)
	}

	result, marshalErr := createJSONResponse(payload)
	if marshalErr != nil {
		return nil, marshalErr
	}
	result.IsError = true
	return result, nil
}
