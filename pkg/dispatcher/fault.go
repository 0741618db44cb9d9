package dispatcher

import (
	"errors"

	"github.com/morezero/epics-mcp-bridge/pkg/registry"
)

// Fault codes.
const (
	CodeToolNotFound    = registry.CodeToolNotFound
	CodeInvalidArgument = registry.CodeInvalidArgument
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeMethodNotFound  = "METHOD_NOT_FOUND"
	CodeVersionMismatch = "VERSION_MISMATCH"
	CodeInternal        = "INTERNAL_ERROR"
)

// Fault is a structural error: the call never reached a PV. Execution
// problems are reported as failure results instead.
type Fault struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (f *Fault) Error() string {
	return f.Message
}

// asFault converts err into a *Fault, keeping validation codes.
func asFault(err error) *Fault {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault
	}
	var verr *registry.ValidationError
	if errors.As(err, &verr) {
		return &Fault{Code: verr.Code, Message: verr.Message, Details: verr.Details}
	}
	return &Fault{Code: CodeInternal, Message: err.Error()}
}

func errorResponse(id string, fault *Fault) *ToolCallResponse {
	return &ToolCallResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      fault.Code,
			Message:   fault.Message,
			Details:   fault.Details,
			Retryable: fault.Code == CodeInternal,
		},
	}
}
