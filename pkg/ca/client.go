// Package ca provides Channel Access clients for reading, writing and describing
// EPICS process variables (PVs).
package ca

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors shared by all clients. Callers match them with errors.Is.
var (
	// ErrTimeout reports that the channel could not be found or did not answer in time.
	ErrTimeout = errors.New("channel connect timed out")
	// ErrNotConnected reports that the channel was found but the circuit is down.
	ErrNotConnected = errors.New("channel not connected")
)

// Client is a blocking Channel Access client. Every call must return, successfully
// or not, within the supplied timeout.
type Client interface {
	// Get reads the current value of a PV. A nil value with a nil error is treated
	// by callers as a timeout.
	Get(ctx context.Context, name string, timeout time.Duration) (any, error)
	// Put writes value to a PV and waits for the put callback. It reports false
	// when the server did not confirm the write.
	Put(ctx context.Context, name, value string, timeout time.Duration) (bool, error)
	// Info returns connection and type metadata for a PV.
	Info(ctx context.Context, name string, timeout time.Duration) (map[string]any, error)
	// Check reports whether the client can reach its backend at all.
	Check(ctx context.Context) error
}

// UnknownCount tells ParseValue the channel's element count was not looked up.
const UnknownCount = -1

// ParseValue converts terse caget output into a scalar or waveform.
//
// Scalars become int64, float64 or string. caget prints arrays with the element
// count first ("3 1 2 3") and those become []any. count is the channel's element
// count; at most one means a scalar, so a string value such as "2 a b" is kept
// whole. With UnknownCount the shape of text decides.
func ParseValue(text string, count int) any {
	text = strings.TrimSpace(text)
	if count == 0 || count == 1 {
		return parseScalar(text)
	}
	if elems, ok := arrayFields(text); ok {
		out := make([]any, 0, len(elems))
		for _, f := range elems {
			out = append(out, parseScalar(f))
		}
		return out
	}
	return parseScalar(text)
}

// arrayFields splits caget array output into its elements when the leading
// count matches the number of values that follow.
func arrayFields(text string) ([]string, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return nil, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n != len(fields)-1 {
		return nil, false
	}
	return fields[1:], true
}

func parseScalar(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// timeoutSeconds renders a timeout for the -w flag of the EPICS command line tools.
func timeoutSeconds(timeout time.Duration) string {
	return strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
}
