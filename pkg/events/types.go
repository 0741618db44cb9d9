// Package events defines event types and publisher interfaces for PV write events.
package events

// PVWrittenEvent is emitted after a put to a PV has been confirmed.
type PVWrittenEvent struct {
	PV            string `json:"pv"`
	Value         string `json:"value"`
	CorrelationID string `json:"correlationId,omitempty"`
	Timestamp     string `json:"timestamp"`
}
