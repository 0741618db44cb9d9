// Package pvaccess wraps a Channel Access client with uniform timeouts and
// normalizes every outcome into a Result envelope.
package pvaccess

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Guard messages shared with the argument validator.
const (
	MsgEmptyName  = "PV name cannot be empty and must be a string."
	MsgEmptyValue = "PV value cannot be empty and must be a string."
)

type payloadKind int

const (
	kindFailure payloadKind = iota
	kindValue
	kindMessage
	kindInfo
)

// Result is the uniform envelope returned by every operation. A success carries
// exactly one of value, message or info; a failure carries a message.
type Result struct {
	Status  string
	Value   any
	Message string
	Info    map[string]any

	kind payloadKind
}

// Success wraps a read value.
func Success(value any) *Result {
	return &Result{Status: StatusSuccess, Value: value, kind: kindValue}
}

// Confirmation wraps a write confirmation message.
func Confirmation(message string) *Result {
	return &Result{Status: StatusSuccess, Message: message, kind: kindMessage}
}

// Description wraps a PV description mapping.
func Description(info map[string]any) *Result {
	return &Result{Status: StatusSuccess, Info: info, kind: kindInfo}
}

// Failure wraps an execution error message.
func Failure(message string) *Result {
	return &Result{Status: StatusError, Message: message, kind: kindFailure}
}

// OK reports whether the envelope is a success.
func (r *Result) OK() bool {
	return r.Status == StatusSuccess
}

// Text returns the envelope as compact JSON.
func (r *Result) Text() string {
	data, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"message":%q}`, StatusError, "An unknown error occurred: "+err.Error())
	}
	return string(data)
}

// MarshalJSON writes status first, then the single payload field. Floats always
// carry a decimal point or exponent so 42.0 stays 42.0 on the wire.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"status":`)
	if err := writeJSON(&buf, r.Status); err != nil {
		return nil, err
	}

	var key string
	var payload any
	switch r.kind {
	case kindValue:
		key, payload = "value", r.Value
	case kindInfo:
		key, payload = "info", r.Info
	default:
		key, payload = "message", r.Message
	}

	buf.WriteString(`,"` + key + `":`)
	if err := writeJSON(&buf, payload); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores an envelope written by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = Result{}
	if raw, ok := fields["status"]; ok {
		if err := json.Unmarshal(raw, &r.Status); err != nil {
			return fmt.Errorf("status: %w", err)
		}
	}
	if r.Status != StatusSuccess && r.Status != StatusError {
		return fmt.Errorf("invalid envelope status %q", r.Status)
	}

	switch {
	case fields["value"] != nil:
		v, err := decodeNumbers(fields["value"])
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		r.Value, r.kind = v, kindValue
	case fields["info"] != nil:
		v, err := decodeNumbers(fields["info"])
		if err != nil {
			return fmt.Errorf("info: %w", err)
		}
		info, _ := v.(map[string]any)
		r.Info, r.kind = info, kindInfo
	default:
		if raw, ok := fields["message"]; ok {
			if err := json.Unmarshal(raw, &r.Message); err != nil {
				return fmt.Errorf("message: %w", err)
			}
		}
		r.kind = kindMessage
		if r.Status == StatusError {
			r.kind = kindFailure
		}
	}
	return nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case float64:
		buf.WriteString(formatFloat(t))
	case float32:
		buf.WriteString(formatFloat(float64(t)))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeJSON(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []float64:
		buf.WriteByte('[')
		for i, f := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(formatFloat(f))
		}
		buf.WriteByte(']')
	default:
		var tmp bytes.Buffer
		enc := json.NewEncoder(&tmp)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return err
		}
		buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	}
	return nil
}

// formatFloat renders f the way a float repr does: shortest round-trip digits,
// always with a '.' or exponent, exponent form outside [1e-4, 1e16).
// Non-finite values have no JSON form and are written as strings.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return `"NaN"`
	case math.IsInf(f, 1):
		return `"Infinity"`
	case math.IsInf(f, -1):
		return `"-Infinity"`
	}

	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// decodeNumbers decodes raw JSON keeping integers as int64 and everything else
// numeric as float64.
func decodeNumbers(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}
