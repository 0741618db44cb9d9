package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
)

const mainTestPrefix = "cmd/epics-bridge:main_test"

func TestRootCmd_HasCommands(t *testing.T) {
	root := newRootCmd(strings.NewReader(""), &bytes.Buffer{})
	want := []string{"serve", "tools", "call", "migrate", "ensure-db", "clear", "prune", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("%s - command %q not registered", mainTestPrefix, name)
		}
	}
	for _, sub := range []string{"up", "status"} {
		cmd, _, err := root.Find([]string{"migrate", sub})
		if err != nil || cmd.Name() != sub {
			t.Errorf("%s - migrate %s not registered", mainTestPrefix, sub)
		}
	}
}

func TestParseArguments_Pairs(t *testing.T) {
	args, err := parseArguments([]string{"pv_name=temperature:water", "pv_value=a=b", "empty="}, "")
	if err != nil {
		t.Fatalf("%s - parseArguments: %v", mainTestPrefix, err)
	}
	if args["pv_name"] != "temperature:water" {
		t.Errorf("%s - pv_name = %v", mainTestPrefix, args["pv_name"])
	}
	if args["pv_value"] != "a=b" {
		t.Errorf("%s - value should keep everything after the first '=': %v", mainTestPrefix, args["pv_value"])
	}
	if v, ok := args["empty"]; !ok || v != "" {
		t.Errorf("%s - empty value should be present as \"\": %v", mainTestPrefix, v)
	}
}

func TestParseArguments_JSONMergedWithPairs(t *testing.T) {
	args, err := parseArguments([]string{"pv_value=7"}, `{"pv_name":"pump:speed:rpm","pv_value":null}`)
	if err != nil {
		t.Fatalf("%s - parseArguments: %v", mainTestPrefix, err)
	}
	if args["pv_name"] != "pump:speed:rpm" || args["pv_value"] != "7" {
		t.Errorf("%s - args = %v", mainTestPrefix, args)
	}

	args, err = parseArguments(nil, "null")
	if err != nil || args == nil {
		t.Errorf("%s - null JSON should yield an empty map, got %v, %v", mainTestPrefix, args, err)
	}
}

func TestParseArguments_Errors(t *testing.T) {
	if _, err := parseArguments([]string{"pv_name"}, ""); err == nil {
		t.Errorf("%s - expected error for missing '='", mainTestPrefix)
	}
	if _, err := parseArguments([]string{"=x"}, ""); err == nil {
		t.Errorf("%s - expected error for empty key", mainTestPrefix)
	}
	if _, err := parseArguments(nil, "[1,2]"); err == nil {
		t.Errorf("%s - expected error for non-object JSON", mainTestPrefix)
	}
}

func TestPrintTools_Table(t *testing.T) {
	var buf bytes.Buffer
	tools := dispatcher.NewDispatcher(dispatcher.Params{}).ListOperations()
	if err := printTools(&buf, tools, false); err != nil {
		t.Fatalf("%s - printTools: %v", mainTestPrefix, err)
	}
	out := buf.String()
	for _, want := range []string{"TOOL", "read-value", "write-value", "describe", "pv_name,pv_value"} {
		if !strings.Contains(out, want) {
			t.Errorf("%s - table missing %q:\n%s", mainTestPrefix, want, out)
		}
	}
}

func TestPrintTools_JSON(t *testing.T) {
	var buf bytes.Buffer
	tools := dispatcher.NewDispatcher(dispatcher.Params{}).ListOperations()
	if err := printTools(&buf, tools, true); err != nil {
		t.Fatalf("%s - printTools: %v", mainTestPrefix, err)
	}
	var out struct {
		Tools []dispatcher.ToolDescription `json:"tools"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("%s - decode: %v", mainTestPrefix, err)
	}
	if len(out.Tools) != 3 || out.Tools[0].InputSchema == nil {
		t.Errorf("%s - tools = %+v", mainTestPrefix, out.Tools)
	}
}

func TestToolsCommand(t *testing.T) {
	var buf bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &buf)
	root.SetArgs([]string{"tools"})
	if err := root.Execute(); err != nil {
		t.Fatalf("%s - tools: %v", mainTestPrefix, err)
	}
	if !strings.Contains(buf.String(), "read-value") {
		t.Errorf("%s - tools output = %q", mainTestPrefix, buf.String())
	}
}

func TestCallCommand_SimBackend(t *testing.T) {
	t.Setenv("BRIDGE_ENV_FILE", "")
	t.Setenv("EPICS_CA_BACKEND", "sim")
	t.Setenv("EPICS_SIM_SEED_FILE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("COMMS_ENABLED", "false")

	var buf bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &buf)
	root.SetArgs([]string{"call", "read-value", "pv_name=temperature:water"})
	if err := root.Execute(); err != nil {
		t.Fatalf("%s - call: %v", mainTestPrefix, err)
	}
	if got := strings.TrimSpace(buf.String()); got != `{"status":"success","value":42.0}` {
		t.Errorf("%s - call output = %q", mainTestPrefix, got)
	}
}

func TestCallCommand_FailureExitsNonZero(t *testing.T) {
	t.Setenv("BRIDGE_ENV_FILE", "")
	t.Setenv("EPICS_CA_BACKEND", "sim")
	t.Setenv("EPICS_SIM_SEED_FILE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("COMMS_ENABLED", "false")

	var buf bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &buf)
	root.SetArgs([]string{"call", "write-value", "pv_name=sim:readonly", "pv_value=x"})
	if err := root.Execute(); err == nil {
		t.Errorf("%s - expected error for failed write", mainTestPrefix)
	}
	if !strings.Contains(buf.String(), `"status":"error"`) {
		t.Errorf("%s - failure envelope should still be printed: %q", mainTestPrefix, buf.String())
	}
}
