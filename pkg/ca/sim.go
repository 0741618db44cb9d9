package ca

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Failure modes a simulated PV can be configured with.
const (
	FailTimeout      = "timeout"
	FailDisconnected = "disconnected"
	FailError        = "error"
	FailRejectPut    = "reject-put"
	FailReadOnly     = "read-only"
)

// Native field types understood by the simulator when converting put values.
const (
	TypeDouble = "DBF_DOUBLE"
	TypeLong   = "DBF_LONG"
	TypeString = "DBF_STRING"
	TypeEnum   = "DBF_ENUM"
)

// SimPV is one process variable served by SimClient.
type SimPV struct {
	Value   any    `yaml:"value" json:"value"`
	Type    string `yaml:"type,omitempty" json:"type,omitempty"`
	Units   string `yaml:"units,omitempty" json:"units,omitempty"`
	Fail    string `yaml:"fail,omitempty" json:"fail,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
	DelayMs int    `yaml:"delayMs,omitempty" json:"delayMs,omitempty"`
}

// SimClient is an in-memory Channel Access server. Unknown PVs behave like a
// channel search that never answers.
type SimClient struct {
	mu   sync.RWMutex
	pvs  map[string]SimPV
	host string
}

// NewSimClient creates a SimClient serving the given PVs.
func NewSimClient(pvs map[string]SimPV) *SimClient {
	s := &SimClient{pvs: make(map[string]SimPV, len(pvs)), host: "sim-ioc:5064"}
	for name, pv := range pvs {
		s.pvs[name] = pv
	}
	return s
}

// Set adds or replaces a PV.
func (s *SimClient) Set(name string, pv SimPV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pvs[name] = pv
}

// Lookup returns the stored PV.
func (s *SimClient) Lookup(name string) (SimPV, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pv, ok := s.pvs[name]
	return pv, ok
}

// Get returns the stored value.
func (s *SimClient) Get(ctx context.Context, name string, timeout time.Duration) (any, error) {
	pv, err := s.connect(ctx, name, timeout)
	if err != nil {
		return nil, err
	}
	return pv.Value, nil
}

// Put converts value to the PV's native type and stores it.
func (s *SimClient) Put(ctx context.Context, name, value string, timeout time.Duration) (bool, error) {
	pv, err := s.connect(ctx, name, timeout)
	if err != nil {
		return false, err
	}
	switch pv.Fail {
	case FailRejectPut:
		return false, nil
	case FailReadOnly:
		return false, errors.New("Write access denied")
	}

	converted, err := convert(value, pv.Type)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pv.Value = converted
	s.pvs[name] = pv
	return true, nil
}

// Info reports a cainfo-like description of the PV.
func (s *SimClient) Info(ctx context.Context, name string, timeout time.Duration) (map[string]any, error) {
	pv, err := s.connect(ctx, name, timeout)
	if err != nil {
		return nil, err
	}
	access := "read, write"
	if pv.Fail == FailReadOnly {
		access = "read, no write"
	}
	nativeType := pv.Type
	if nativeType == "" {
		nativeType = inferType(pv.Value)
	}
	count := 1
	if arr, ok := pv.Value.([]any); ok {
		count = len(arr)
	}
	info := map[string]any{
		"pv_name":          name,
		"state":            "connected",
		"host":             s.host,
		"access":           access,
		"native_data_type": nativeType,
		"request_type":     "DBR_" + trimDBF(nativeType),
		"element_count":    count,
	}
	if pv.Units != "" {
		info["units"] = pv.Units
	}
	return info, nil
}

// Check always succeeds.
func (s *SimClient) Check(_ context.Context) error {
	return nil
}

// connect resolves a PV, applying its configured delay and failure mode.
func (s *SimClient) connect(ctx context.Context, name string, timeout time.Duration) (SimPV, error) {
	pv, ok := s.Lookup(name)
	if !ok {
		return SimPV{}, wait(ctx, timeout, ErrTimeout)
	}

	delay := time.Duration(pv.DelayMs) * time.Millisecond
	if delay > 0 {
		if delay >= timeout {
			return SimPV{}, wait(ctx, timeout, ErrTimeout)
		}
		if err := wait(ctx, delay, nil); err != nil {
			return SimPV{}, err
		}
	}

	switch pv.Fail {
	case FailTimeout:
		return SimPV{}, ErrTimeout
	case FailDisconnected:
		return SimPV{}, ErrNotConnected
	case FailError:
		msg := pv.Message
		if msg == "" {
			msg = "simulated channel access fault"
		}
		return SimPV{}, errors.New(msg)
	}
	return pv, nil
}

// wait sleeps for d, returning result, or returns early with ErrTimeout when ctx expires.
func wait(ctx context.Context, d time.Duration, result error) error {
	if d <= 0 {
		return result
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return result
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

func convert(value, nativeType string) (any, error) {
	switch nativeType {
	case TypeDouble:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to %s", value, nativeType)
		}
		return f, nil
	case TypeLong:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to %s", value, nativeType)
		}
		return i, nil
	case "":
		return parseScalar(value), nil
	default:
		return value, nil
	}
}

// inferType picks a native type for a seed value without an explicit type.
// A waveform takes the widest type of its elements.
func inferType(v any) string {
	switch val := v.(type) {
	case float64, float32, []float64, []float32:
		return TypeDouble
	case int, int64, int32, []int, []int64, []int32:
		return TypeLong
	case []any:
		return inferElementType(val)
	default:
		return TypeString
	}
}

func inferElementType(elems []any) string {
	if len(elems) == 0 {
		return TypeString
	}
	out := TypeLong
	for _, e := range elems {
		switch inferType(e) {
		case TypeDouble:
			out = TypeDouble
		case TypeLong:
		default:
			return TypeString
		}
	}
	return out
}

func trimDBF(t string) string {
	if len(t) > 4 && t[:4] == "DBF_" {
		return t[4:]
	}
	return t
}
