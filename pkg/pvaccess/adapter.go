package pvaccess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/epics-mcp-bridge/pkg/ca"
	"github.com/morezero/epics-mcp-bridge/pkg/events"
	"github.com/morezero/epics-mcp-bridge/pkg/metrics"
)

const logPrefix = "pvaccess:adapter"

// DefaultTimeout bounds every Channel Access call when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// errSetFailed reports a put the server did not confirm.
var errSetFailed = errors.New("Set operation failed")

// Params holds the dependencies for NewAdapter.
type Params struct {
	Client    ca.Client
	Timeout   time.Duration
	Publisher events.EventPublisher
}

// Adapter performs PV reads, writes and descriptions against a Channel Access
// client. Every call is attempted once and bounded by the adapter timeout.
type Adapter struct {
	client    ca.Client
	timeout   time.Duration
	publisher events.EventPublisher
}

// NewAdapter creates a new Adapter.
func NewAdapter(p Params) *Adapter {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	return &Adapter{client: p.Client, timeout: timeout, publisher: publisher}
}

// Timeout returns the per-call Channel Access timeout.
func (a *Adapter) Timeout() time.Duration {
	return a.timeout
}

// ReadValue returns the current value of a PV.
func (a *Adapter) ReadValue(ctx context.Context, name string) *Result {
	if name == "" {
		return Failure(MsgEmptyName)
	}

	slog.Info(fmt.Sprintf("%s - Attempting to get PV value: %s", logPrefix, name), "pv", name, "op", "get")
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	value, err := a.client.Get(ctx, name, a.timeout)
	if err == nil && value == nil {
		err = ca.ErrTimeout
	}
	if err != nil {
		return a.fail("get", name, fmt.Sprintf("getting PV '%s' value", name), err)
	}

	metrics.RecordCAOperation("get", metrics.CAResultOK)
	slog.Info(fmt.Sprintf("%s - Successfully retrieved PV value: %v", logPrefix, value), "pv", name, "op", "get")
	return Success(value)
}

// WriteValue writes value to a PV and waits for the put confirmation.
func (a *Adapter) WriteValue(ctx context.Context, name, value string) *Result {
	if name == "" {
		return Failure(MsgEmptyName)
	}
	if value == "" {
		return Failure(MsgEmptyValue)
	}

	slog.Info(fmt.Sprintf("%s - Attempting to set PV value: %s -> %s", logPrefix, name, value), "pv", name, "op", "put")
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ok, err := a.client.Put(callCtx, name, value, a.timeout)
	if err == nil && !ok {
		err = errSetFailed
	}
	if err != nil {
		return a.fail("put", name, fmt.Sprintf("setting PV '%s' value", name), err)
	}

	metrics.RecordCAOperation("put", metrics.CAResultOK)
	slog.Info(fmt.Sprintf("%s - Successfully set PV value: %s -> %s", logPrefix, name, value), "pv", name, "op", "put")
	a.publishWritten(ctx, name, value)
	return Confirmation(fmt.Sprintf("Successfully set PV '%s' value to: %s", name, value))
}

// Describe returns connection and type metadata for a PV.
func (a *Adapter) Describe(ctx context.Context, name string) *Result {
	if name == "" {
		return Failure(MsgEmptyName)
	}

	slog.Info(fmt.Sprintf("%s - Attempting to get PV info: %s", logPrefix, name), "pv", name, "op", "info")
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	info, err := a.client.Info(ctx, name, a.timeout)
	if err == nil && info == nil {
		err = ca.ErrTimeout
	}
	if err != nil {
		return a.fail("info", name, fmt.Sprintf("getting PV '%s' info", name), err)
	}

	metrics.RecordCAOperation("info", metrics.CAResultOK)
	slog.Info(fmt.Sprintf("%s - Successfully retrieved PV info: %v", logPrefix, info), "pv", name, "op", "info")
	return Description(info)
}

// fail logs err and converts it into a Failure envelope. what completes the
// sentence "Timeout while <what>".
func (a *Adapter) fail(op, name, what string, err error) *Result {
	if IsTimeout(err) {
		metrics.RecordCAOperation(op, metrics.CAResultTimeout)
		slog.Error(fmt.Sprintf("%s - Timeout while %s", logPrefix, what), "pv", name, "op", op)
		return Failure(fmt.Sprintf("Timeout while %s. Please check the network connection.", what))
	}

	metrics.RecordCAOperation(op, metrics.CAResultError)
	slog.Error(fmt.Sprintf("%s - Error occurred while %s: %v", logPrefix, what, err), "pv", name, "op", op)
	return Failure(fmt.Sprintf("An unknown error occurred: %v", err))
}

func (a *Adapter) publishWritten(ctx context.Context, name, value string) {
	event := &events.PVWrittenEvent{
		PV:            name,
		Value:         value,
		CorrelationID: CorrelationID(ctx),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := a.publisher.PublishWritten(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to publish write event for %s: %v", logPrefix, name, err), "pv", name)
	}
}

// IsTimeout reports whether err means the PV could not be reached in time.
func IsTimeout(err error) bool {
	return errors.Is(err, ca.ErrTimeout) ||
		errors.Is(err, ca.ErrNotConnected) ||
		errors.Is(err, context.DeadlineExceeded)
}

type correlationKey struct{}

// WithCorrelationID attaches the invocation correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation ID attached by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
