package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/epics-mcp-bridge/pkg/db"
	"github.com/morezero/epics-mcp-bridge/pkg/metrics"
	"github.com/morezero/epics-mcp-bridge/pkg/pvaccess"
	"github.com/morezero/epics-mcp-bridge/pkg/registry"
	"github.com/morezero/epics-mcp-bridge/pkg/semver"
)

const logPrefix = "dispatcher:dispatch"

// Capability is the name callers use in versioned capability references.
const Capability = "epics.bridge"

// DefaultVersion is reported when no version is configured.
const DefaultVersion = "0.1.0"

// Transport labels.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportNATS  = "nats"
	TransportCLI   = "cli"
)

const defaultJournalTimeout = 2 * time.Second

// Journal records every dispatched call. *db.Repository implements it.
type Journal interface {
	RecordInvocation(ctx context.Context, inv *db.Invocation) error
}

// HealthCheck probes one dependency for the health method.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Params holds the dependencies for NewDispatcher.
type Params struct {
	Registry       *registry.Registry
	Access         registry.VariableAccess
	Journal        Journal
	Version        string
	HealthChecks   []HealthCheck
	JournalTimeout time.Duration
}

// Dispatcher validates tool calls and runs them against the variable access
// layer. It is shared by all transports and safe for concurrent use.
type Dispatcher struct {
	registry       *registry.Registry
	access         registry.VariableAccess
	journal        Journal
	version        string
	checks         []HealthCheck
	journalTimeout time.Duration
}

// NewDispatcher creates a new Dispatcher. A nil Registry means the default
// PV operation table.
func NewDispatcher(p Params) *Dispatcher {
	reg := p.Registry
	if reg == nil {
		reg = registry.Default()
	}
	version := p.Version
	if version == "" {
		version = DefaultVersion
	}
	jt := p.JournalTimeout
	if jt <= 0 {
		jt = defaultJournalTimeout
	}
	return &Dispatcher{
		registry:       reg,
		access:         p.Access,
		journal:        p.Journal,
		version:        version,
		checks:         p.HealthChecks,
		journalTimeout: jt,
	}
}

// Version returns the bridge version used for capability checks.
func (d *Dispatcher) Version() string {
	return d.version
}

// Invocation is a single tool call.
type Invocation struct {
	// ID is unique per call and keys the journal row
	ID string
	// CorrelationID is caller supplied and may repeat across a workflow; it
	// tags logs, write events and journal rows. Defaults to ID.
	CorrelationID string
	Tool          string
	Arguments     registry.Arguments
	Transport     string
}

// NewInvocation creates an Invocation with a generated ID.
func NewInvocation(tool string, args map[string]any, transport string) *Invocation {
	return &Invocation{
		ID:        uuid.NewString(),
		Tool:      tool,
		Arguments: registry.Arguments(args),
		Transport: transport,
	}
}

// ListOperations describes every registered operation in registry order.
func (d *Dispatcher) ListOperations() []ToolDescription {
	ops := d.registry.DescribeAll()
	out := make([]ToolDescription, 0, len(ops))
	for _, op := range ops {
		out = append(out, ToolDescription{
			Name:        op.Name,
			Description: op.Description,
			InputSchema: op.InputSchema(),
		})
	}
	return out
}

// Call runs one tool call. A returned error is always a *Fault; any problem
// past validation is reported as a failure Result.
func (d *Dispatcher) Call(ctx context.Context, inv *Invocation) (*pvaccess.Result, error) {
	start := time.Now()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CorrelationID == "" {
		inv.CorrelationID = inv.ID
	}
	pv, _ := inv.Arguments.String(registry.ParamPVName)
	slog.Debug(fmt.Sprintf("%s - tool=%s id=%s correlation=%s transport=%s",
		logPrefix, inv.Tool, inv.ID, inv.CorrelationID, inv.Transport))

	op, err := registry.ValidateCall(d.registry, inv.Tool, inv.Arguments)
	if err != nil {
		fault := asFault(err)
		slog.Error(fmt.Sprintf("%s - Rejected call to %s: %s", logPrefix, inv.Tool, fault.Message),
			"tool", inv.Tool, "pv", pv, "code", fault.Code)
		d.record(ctx, inv, start, nil, fault)
		return nil, fault
	}

	result := registry.CheckValues(op, inv.Arguments)
	if result != nil {
		slog.Error(fmt.Sprintf("%s - Invalid argument for %s: %s", logPrefix, op.Name, result.Message),
			"tool", op.Name, "pv", pv)
	} else {
		result = op.Handler(pvaccess.WithCorrelationID(ctx, inv.CorrelationID), d.access, inv.Arguments)
		if result == nil {
			result = pvaccess.Failure("An unknown error occurred: operation returned no result")
		}
	}

	d.record(ctx, inv, start, result, nil)
	return result, nil
}

// Handle is the envelope level entry used by the COMMS transport.
func (d *Dispatcher) Handle(ctx context.Context, req *ToolCallRequest) *ToolCallResponse {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	if req.Cap != "" {
		if err := semver.CheckCapability(req.Cap, Capability, d.version); err != nil {
			slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
			return errorResponse(req.ID, &Fault{Code: CodeVersionMismatch, Message: err.Error()})
		}
	}

	switch req.Method {
	case MethodListTools:
		return &ToolCallResponse{ID: req.ID, Ok: true, Result: map[string]any{"tools": d.ListOperations()}}
	case MethodCallTool:
		return d.handleCall(ctx, req)
	case MethodHealth:
		return &ToolCallResponse{ID: req.ID, Ok: true, Result: d.Health(ctx)}
	default:
		return errorResponse(req.ID, &Fault{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("Unknown method: %s", req.Method),
		})
	}
}

func (d *Dispatcher) handleCall(ctx context.Context, req *ToolCallRequest) *ToolCallResponse {
	var params CallParams
	if len(req.Params) == 0 {
		return errorResponse(req.ID, &Fault{Code: CodeInvalidRequest, Message: "Missing tools/call params"})
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, &Fault{Code: CodeInvalidRequest, Message: "Failed to parse tools/call params"})
	}
	if params.Name == "" {
		return errorResponse(req.ID, &Fault{Code: CodeInvalidRequest, Message: "Missing tool name"})
	}

	inv := &Invocation{
		CorrelationID: req.correlationID(),
		Tool:          params.Name,
		Arguments:     registry.Arguments(params.Arguments),
		Transport:     TransportNATS,
	}
	result, err := d.Call(ctx, inv)
	if err != nil {
		return errorResponse(req.ID, asFault(err))
	}
	return &ToolCallResponse{ID: req.ID, Ok: true, Result: result}
}

// HealthOutput is the result of the health method.
type HealthOutput struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Tools     int               `json:"tools"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health runs every configured check. Status is "degraded" when any fails.
func (d *Dispatcher) Health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{
		Status:    "ok",
		Version:   d.version,
		Tools:     d.registry.Len(),
		Checks:    make(map[string]string, len(d.checks)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, hc := range d.checks {
		if err := hc.Check(ctx); err != nil {
			out.Status = "degraded"
			out.Checks[hc.Name] = err.Error()
			continue
		}
		out.Checks[hc.Name] = "ok"
	}
	return out
}

// record updates metrics and writes the journal row. Journal failures are
// logged and never reach the caller.
func (d *Dispatcher) record(ctx context.Context, inv *Invocation, start time.Time, result *pvaccess.Result, fault *Fault) {
	elapsed := time.Since(start)

	outcome := metrics.OutcomeSuccess
	switch {
	case fault != nil:
		outcome = metrics.OutcomeFault
	case !result.OK():
		outcome = metrics.OutcomeFailure
	}
	tool := inv.Tool
	if fault != nil && fault.Code == CodeToolNotFound {
		tool = "unknown"
	}
	metrics.RecordToolCall(tool, inv.Transport, outcome, elapsed)

	if d.journal == nil {
		return
	}

	row := &db.Invocation{
		ID:         inv.ID,
		Tool:       inv.Tool,
		Transport:  inv.Transport,
		Outcome:    outcome,
		DurationMs: int(elapsed.Milliseconds()),
		Created:    start.UTC(),
	}
	if inv.CorrelationID != "" {
		corr := inv.CorrelationID
		row.CorrelationID = &corr
	}
	if pv, ok := inv.Arguments.String(registry.ParamPVName); ok && pv != "" {
		row.PVName = &pv
	}
	if len(inv.Arguments) > 0 {
		if data, err := json.Marshal(inv.Arguments); err == nil {
			row.Arguments = data
		}
	}
	if fault != nil {
		row.ErrorCode = &fault.Code
		row.ErrorMessage = &fault.Message
	} else {
		row.Status = &result.Status
		if data, err := result.MarshalJSON(); err == nil {
			row.Result = data
		}
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.journalTimeout)
	defer cancel()
	if err := d.journal.RecordInvocation(jctx, row); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to journal invocation %s: %v", logPrefix, inv.ID, err), "tool", inv.Tool)
	}
}
