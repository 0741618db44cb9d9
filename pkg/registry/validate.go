package registry

import (
	"fmt"

	"github.com/morezero/epics-mcp-bridge/pkg/pvaccess"
)

// ValidateCall resolves name in reg and checks that every required argument is
// present. Presence only: a key mapped to null counts as present. Returned
// errors are always *ValidationError.
func ValidateCall(reg *Registry, name string, args Arguments) (Operation, error) {
	op, ok := reg.Lookup(name)
	if !ok {
		return Operation{}, NewValidationError(CodeToolNotFound, fmt.Sprintf("Unknown tool: %s", name))
	}

	required := op.Required()
	for _, key := range required {
		if args.Has(key) {
			continue
		}
		if len(required) == 1 {
			return op, NewValidationError(CodeInvalidArgument, fmt.Sprintf("Missing required argument: %s", key))
		}
		return op, &ValidationError{
			Code:    CodeInvalidArgument,
			Message: "Missing required arguments",
			Details: map[string]any{"missing": missing(required, args)},
		}
	}
	return op, nil
}

// CheckValues rejects empty or non-string values for the operation's string
// parameters with a Failure envelope, or returns nil when all are usable.
// The adapter repeats the emptiness guard for names and values; both are kept
// so either layer can be used on its own.
func CheckValues(op Operation, args Arguments) *pvaccess.Result {
	for _, p := range op.Params {
		if p.Type != TypeString || !args.Has(p.Name) {
			continue
		}
		if s, ok := args.String(p.Name); !ok || s == "" {
			return pvaccess.Failure(guardMessage(p))
		}
	}
	return nil
}

func guardMessage(p Param) string {
	label := p.Label
	if label == "" {
		label = p.Name
	}
	return fmt.Sprintf("%s cannot be empty and must be a string.", label)
}

func missing(required []string, args Arguments) []string {
	var out []string
	for _, key := range required {
		if !args.Has(key) {
			out = append(out, key)
		}
	}
	return out
}
