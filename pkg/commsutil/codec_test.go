package commsutil

import (
	"testing"
)

const codecTestPrefix = "commsutil:codec_test"

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    string
		wantErr bool
	}{
		{
			name:  "tool call",
			input: map[string]interface{}{"method": "tools/call", "params": map[string]string{"name": "read-value"}},
			want:  `{"method":"tools/call","params":{"name":"read-value"}}`,
		},
		{
			name:  "html characters are not escaped",
			input: map[string]string{"pv_value": "<on> & <off>"},
			want:  `{"pv_value":"<on> & <off>"}`,
		},
		{
			name:  "nil",
			input: nil,
			want:  "null",
		},
		{
			name:    "channel is not serializable",
			input:   make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePayload(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error but got nil", codecTestPrefix)
				}
				return
			}

			if err != nil {
				t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
			}

			if got := string(data); got != tt.want {
				t.Errorf("%s - EncodePayload() = %q, want %q", codecTestPrefix, got, tt.want)
			}
		})
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	for _, data := range []string{`{invalid}`, ""} {
		var target map[string]interface{}
		if err := DecodePayload([]byte(data), &target); err == nil {
			t.Errorf("%s - expected error for %q", codecTestPrefix, data)
		}
	}
}

func TestDecodePayload_Arguments(t *testing.T) {
	var target struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	err := DecodePayload([]byte(`{"name":"write-value","arguments":{"pv_name":"valve:cmd","pv_value":null}}`), &target)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if target.Name != "write-value" {
		t.Errorf("%s - Name = %q, want write-value", codecTestPrefix, target.Name)
	}
	if _, ok := target.Arguments["pv_value"]; !ok {
		t.Errorf("%s - expected null pv_value to be present", codecTestPrefix)
	}
}
