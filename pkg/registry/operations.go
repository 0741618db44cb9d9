package registry

import (
	"context"

	"github.com/morezero/epics-mcp-bridge/pkg/pvaccess"
)

// Operation names.
const (
	OpReadValue  = "read-value"
	OpWriteValue = "write-value"
	OpDescribe   = "describe"
)

// Parameter names.
const (
	ParamPVName  = "pv_name"
	ParamPVValue = "pv_value"
)

var (
	pvNameParam = Param{
		Name:        ParamPVName,
		Description: "The name of the PV variable provided by the user.",
		Type:        TypeString,
		Required:    true,
		Label:       "PV name",
	}
	pvValueParam = Param{
		Name:        ParamPVValue,
		Description: "The new PV value provided by the user.",
		Type:        TypeString,
		Required:    true,
		Label:       "PV value",
	}
)

// Operations returns the PV operation table.
func Operations() []Operation {
	return []Operation{
		{
			Name:        OpReadValue,
			Description: "Get the value of a specific PV.",
			Params:      []Param{pvNameParam},
			Handler:     readValue,
		},
		{
			Name:        OpWriteValue,
			Description: "Set the value of a specific PV.",
			Params:      []Param{pvNameParam, pvValueParam},
			Handler:     writeValue,
		},
		{
			Name:        OpDescribe,
			Description: "Get information about a specific PV.",
			Params:      []Param{pvNameParam},
			Handler:     describe,
		},
	}
}

// Handlers pass non-string values on as "", which the adapter rejects.

func readValue(ctx context.Context, access VariableAccess, args Arguments) *pvaccess.Result {
	name, _ := args.String(ParamPVName)
	return access.ReadValue(ctx, name)
}

func writeValue(ctx context.Context, access VariableAccess, args Arguments) *pvaccess.Result {
	name, _ := args.String(ParamPVName)
	value, _ := args.String(ParamPVValue)
	return access.WriteValue(ctx, name, value)
}

func describe(ctx context.Context, access VariableAccess, args Arguments) *pvaccess.Result {
	name, _ := args.String(ParamPVName)
	return access.Describe(ctx, name)
}
