package events

import "context"

// EventPublisher is the interface for publishing PV write events.
type EventPublisher interface {
	PublishWritten(ctx context.Context, event *PVWrittenEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishWritten is a no-op.
func (p *NoOpPublisher) PublishWritten(_ context.Context, _ *PVWrittenEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *PVWrittenEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *PVWrittenEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishWritten calls the callback.
func (p *CallbackPublisher) PublishWritten(ctx context.Context, event *PVWrittenEvent) error {
	return p.callback(ctx, event)
}
