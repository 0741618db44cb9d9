// Package dispatcher routes tool calls from every transport through the
// operation registry to the variable access layer.
package dispatcher

import "encoding/json"

// Envelope methods.
const (
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"
	MethodHealth    = "health"
)

// ToolCallRequest is the JSON envelope for requests arriving over COMMS.
type ToolCallRequest struct {
	ID     string             `json:"id"`
	Type   string             `json:"type,omitempty"`
	Cap    string             `json:"cap,omitempty"`
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params,omitempty"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// ToolCallResponse is the JSON envelope for COMMS responses. A call that
// reached an operation is always Ok, even when the Result is a failure.
type ToolCallResponse struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	UserID        string `json:"userId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// CallParams are the params of a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDescription is one entry of a tools/list result.
type ToolDescription struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// correlationID picks the caller supplied ID that ties this call to its workflow.
func (r *ToolCallRequest) correlationID() string {
	if r.Ctx == nil {
		return ""
	}
	if r.Ctx.CorrelationID != "" {
		return r.Ctx.CorrelationID
	}
	return r.Ctx.RequestID
}
