// Package registry holds the immutable table of operations the bridge exposes,
// with their parameter schemas, handlers and argument validation.
package registry

import (
	"context"

	"github.com/morezero/epics-mcp-bridge/pkg/pvaccess"
)

// ParamType is the JSON schema primitive type of a parameter.
type ParamType string

// TypeString is the only primitive type in the PV domain.
const TypeString ParamType = "string"

// Param describes one named argument of an operation.
type Param struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	// Label names the parameter in value guard messages ("PV name").
	Label string `json:"-"`
}

// Arguments is the loosely typed argument mapping supplied with a call.
type Arguments map[string]any

// String returns the argument as a string. ok is false when the key is absent
// or the value is not a string.
func (a Arguments) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Has reports whether key is present, whatever its value.
func (a Arguments) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// VariableAccess is the set of PV operations handlers dispatch to.
// *pvaccess.Adapter implements it.
type VariableAccess interface {
	ReadValue(ctx context.Context, name string) *pvaccess.Result
	WriteValue(ctx context.Context, name, value string) *pvaccess.Result
	Describe(ctx context.Context, name string) *pvaccess.Result
}

// Handler executes a validated call against the variable access layer.
type Handler func(ctx context.Context, access VariableAccess, args Arguments) *pvaccess.Result

// Operation is one entry of the registry.
type Operation struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Required returns the names of the required parameters, in declaration order.
func (o Operation) Required() []string {
	out := make([]string, 0, len(o.Params))
	for _, p := range o.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// InputSchema returns the JSON schema object describing the operation's arguments.
func (o Operation) InputSchema() map[string]any {
	props := make(map[string]any, len(o.Params))
	for _, p := range o.Params {
		props[p.Name] = map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   o.Required(),
	}
}

// Validation error codes.
const (
	CodeToolNotFound    = "TOOL_NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
)

// ValidationError is a structural error found before any PV access is attempted.
type ValidationError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}
