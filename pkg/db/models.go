package db

import (
	"encoding/json"
	"time"
)

// Invocation outcomes stored in tool_invocations.outcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeFault   = "fault"
)

// Invocation represents a row in the tool_invocations table.
type Invocation struct {
	ID            string          `json:"id"`
	CorrelationID *string         `json:"correlation_id,omitempty"`
	Tool          string          `json:"tool"`
	Transport     string          `json:"transport"`
	PVName        *string         `json:"pv_name,omitempty"`
	Arguments     json.RawMessage `json:"arguments"`
	Outcome       string          `json:"outcome"`
	Status        *string         `json:"status,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorCode     *string         `json:"error_code,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	DurationMs    int             `json:"duration_ms"`
	Created       time.Time       `json:"created"`
}

// ListInvocationsParams holds filters for ListInvocations.
type ListInvocationsParams struct {
	Tool          string
	PVName        string
	Outcome       string
	CorrelationID string
	Limit         int
}
