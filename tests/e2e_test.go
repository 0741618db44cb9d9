// Package tests contains end-to-end tests for epics-mcp-bridge.
// These tests start an embedded NATS server and a simulated Channel Access
// backend and drive the full request/response flow through the transports.
package tests

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/epics-mcp-bridge/internal/config"
	"github.com/morezero/epics-mcp-bridge/internal/server"
	"github.com/morezero/epics-mcp-bridge/pkg/commsutil"
	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
	"github.com/morezero/epics-mcp-bridge/pkg/events"
)

const (
	e2eTestPrefix = "tests:e2e_test"
	testPort      = 14240
	testHTTPAddr  = "127.0.0.1:18480"
)

// testEnv holds the test environment for E2E tests.
type testEnv struct {
	nc      *comms.Conn
	ns      *commsserver.Server
	srv     *server.Server
	subject string

	mu       sync.Mutex
	captured []*events.PVWrittenEvent
}

func baseConfig() *config.Config {
	return &config.Config{
		Transport:          config.TransportNATS,
		ServerName:         "mcp_epics_server",
		Version:            "0.1.0",
		HTTPAddr:           testHTTPAddr,
		SSEPath:            "/sse",
		MessagePath:        "/messages/",
		CABackend:          config.BackendSim,
		CATimeout:          time.Second,
		COMMSName:          "epics-mcp-bridge",
		HealthCheckTimeout: 5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// setupE2E starts an embedded NATS server and a bridge serving tool calls on it.
// The audit journal stays disabled so no database is needed. tweaks adjust the
// bridge config before the server is built.
func setupE2E(t *testing.T, tweaks ...func(*config.Config)) *testEnv {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   testPort,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create NATS server: %v", e2eTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - NATS server failed to start", e2eTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", e2eTestPrefix, err)
	}

	cfg := baseConfig()
	cfg.COMMSEnabled = true
	cfg.COMMSURL = ns.ClientURL()
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := server.New(ctx, cfg)
	if err != nil {
		cancel()
		nc.Close()
		ns.Shutdown()
		t.Fatalf("%s - failed to build server: %v", e2eTestPrefix, err)
	}

	env := &testEnv{nc: nc, ns: ns, srv: srv, subject: srv.ToolSubject()}

	// Capture write events the way a downstream consumer would
	if _, err := nc.Subscribe(commsutil.SubjectPVWritten, func(msg *comms.Msg) {
		var event events.PVWrittenEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		env.mu.Lock()
		env.captured = append(env.captured, &event)
		env.mu.Unlock()
	}); err != nil {
		t.Fatalf("%s - failed to subscribe to events: %v", e2eTestPrefix, err)
	}

	sub, err := srv.SubscribeTools(ctx)
	if err != nil {
		t.Fatalf("%s - failed to subscribe tools: %v", e2eTestPrefix, err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("%s - flush: %v", e2eTestPrefix, err)
	}

	t.Cleanup(func() {
		_ = sub.Unsubscribe()
		cancel()
		srv.Close()
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return env
}

func (e *testEnv) events() []*events.PVWrittenEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*events.PVWrittenEvent(nil), e.captured...)
}

// sendRequest sends a tool call envelope over NATS and returns the response.
func sendRequest(t *testing.T, env *testEnv, req *dispatcher.ToolCallRequest) *dispatcher.ToolCallResponse {
	t.Helper()

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("%s - failed to marshal request: %v", e2eTestPrefix, err)
	}
	msg, err := env.nc.Request(env.subject, data, 10*time.Second)
	if err != nil {
		t.Fatalf("%s - request failed: %v", e2eTestPrefix, err)
	}
	var resp dispatcher.ToolCallResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("%s - failed to unmarshal response: %v", e2eTestPrefix, err)
	}
	return &resp
}

func callRequest(id, tool string, args map[string]any) *dispatcher.ToolCallRequest {
	params, _ := json.Marshal(dispatcher.CallParams{Name: tool, Arguments: args})
	return &dispatcher.ToolCallRequest{
		ID:     id,
		Type:   "invoke",
		Method: dispatcher.MethodCallTool,
		Params: params,
	}
}

func resultMap(t *testing.T, resp *dispatcher.ToolCallResponse) map[string]any {
	t.Helper()
	if !resp.Ok {
		t.Fatalf("%s - expected Ok=true, got error: %+v", e2eTestPrefix, resp.Error)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("%s - result is %T, want object", e2eTestPrefix, resp.Result)
	}
	return m
}

func TestE2E_ListTools(t *testing.T) {
	env := setupE2E(t)

	resp := sendRequest(t, env, &dispatcher.ToolCallRequest{ID: "e2e-list", Method: dispatcher.MethodListTools})
	result := resultMap(t, resp)
	tools, _ := result["tools"].([]any)
	if len(tools) != 3 {
		t.Fatalf("%s - expected 3 tools, got %d", e2eTestPrefix, len(tools))
	}
	names := make([]string, 0, len(tools))
	for _, raw := range tools {
		tool, _ := raw.(map[string]any)
		names = append(names, fmt.Sprint(tool["name"]))
		if _, ok := tool["inputSchema"]; !ok {
			t.Errorf("%s - %v missing inputSchema", e2eTestPrefix, tool["name"])
		}
	}
	if strings.Join(names, ",") != "read-value,write-value,describe" {
		t.Errorf("%s - tool order = %v", e2eTestPrefix, names)
	}
}

func TestE2E_ReadValue(t *testing.T) {
	env := setupE2E(t)

	result := resultMap(t, sendRequest(t, env, callRequest("e2e-read", "read-value", map[string]any{"pv_name": "temperature:water"})))
	if result["status"] != "success" || result["value"] != 42.0 {
		t.Errorf("%s - result = %v", e2eTestPrefix, result)
	}
}

func TestE2E_ReadTimeoutIsFailureEnvelope(t *testing.T) {
	env := setupE2E(t)

	resp := sendRequest(t, env, callRequest("e2e-timeout", "read-value", map[string]any{"pv_name": "sim:unreachable"}))
	result := resultMap(t, resp)
	if result["status"] != "error" {
		t.Fatalf("%s - expected error status, got %v", e2eTestPrefix, result)
	}
	want := "Timeout while getting PV 'sim:unreachable' value. Please check the network connection."
	if result["message"] != want {
		t.Errorf("%s - message = %q, want %q", e2eTestPrefix, result["message"], want)
	}
}

func TestE2E_WriteThenRead(t *testing.T) {
	env := setupE2E(t)

	req := callRequest("e2e-write", "write-value", map[string]any{"pv_name": "pressure:vessel", "pv_value": "2.5"})
	req.Ctx = &dispatcher.InvocationContext{CorrelationID: "corr-e2e-write"}
	result := resultMap(t, sendRequest(t, env, req))
	if result["message"] != "Successfully set PV 'pressure:vessel' value to: 2.5" {
		t.Errorf("%s - write result = %v", e2eTestPrefix, result)
	}

	result = resultMap(t, sendRequest(t, env, callRequest("e2e-read-back", "read-value", map[string]any{"pv_name": "pressure:vessel"})))
	if result["value"] != 2.5 {
		t.Errorf("%s - read back = %v, want 2.5", e2eTestPrefix, result["value"])
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(env.events()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	captured := env.events()
	if len(captured) != 1 {
		t.Fatalf("%s - expected 1 write event, got %d", e2eTestPrefix, len(captured))
	}
	if captured[0].PV != "pressure:vessel" || captured[0].Value != "2.5" || captured[0].CorrelationID != "corr-e2e-write" {
		t.Errorf("%s - event = %+v", e2eTestPrefix, captured[0])
	}
}

func TestE2E_Describe(t *testing.T) {
	env := setupE2E(t)

	result := resultMap(t, sendRequest(t, env, callRequest("e2e-describe", "describe", map[string]any{"pv_name": "pump:speed:rpm"})))
	info, ok := result["info"].(map[string]any)
	if !ok {
		t.Fatalf("%s - expected info object, got %v", e2eTestPrefix, result)
	}
	if info["pv_name"] != "pump:speed:rpm" || info["units"] != "rpm" {
		t.Errorf("%s - info = %v", e2eTestPrefix, info)
	}
}

func TestE2E_Faults(t *testing.T) {
	env := setupE2E(t)

	tests := []struct {
		name    string
		req     *dispatcher.ToolCallRequest
		code    string
		message string
	}{
		{
			name:    "unknown tool",
			req:     callRequest("f1", "reboot", map[string]any{}),
			code:    dispatcher.CodeToolNotFound,
			message: "Unknown tool: reboot",
		},
		{
			name:    "missing pv_name",
			req:     callRequest("f2", "read-value", map[string]any{}),
			code:    dispatcher.CodeInvalidArgument,
			message: "Missing required argument: pv_name",
		},
		{
			name:    "unknown method",
			req:     &dispatcher.ToolCallRequest{ID: "f3", Method: "resources/list"},
			code:    dispatcher.CodeMethodNotFound,
			message: "Unknown method: resources/list",
		},
		{
			name: "version mismatch",
			req: &dispatcher.ToolCallRequest{
				ID: "f4", Cap: "epics.bridge@^2", Method: dispatcher.MethodListTools,
			},
			code: dispatcher.CodeVersionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := sendRequest(t, env, tt.req)
			if resp.Ok {
				t.Fatalf("%s - expected Ok=false", e2eTestPrefix)
			}
			if resp.ID != tt.req.ID {
				t.Errorf("%s - ID = %q, want %q", e2eTestPrefix, resp.ID, tt.req.ID)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Fatalf("%s - error = %+v, want code %s", e2eTestPrefix, resp.Error, tt.code)
			}
			if tt.message != "" && resp.Error.Message != tt.message {
				t.Errorf("%s - message = %q, want %q", e2eTestPrefix, resp.Error.Message, tt.message)
			}
			if resp.Error.Retryable {
				t.Errorf("%s - %s should not be retryable", e2eTestPrefix, tt.code)
			}
		})
	}
}

func TestE2E_EmptyValueIsFailureEnvelope(t *testing.T) {
	env := setupE2E(t)

	result := resultMap(t, sendRequest(t, env, callRequest("e2e-empty", "write-value", map[string]any{"pv_name": "pressure:vessel", "pv_value": ""})))
	if result["status"] != "error" || result["message"] != "PV value cannot be empty and must be a string." {
		t.Errorf("%s - result = %v", e2eTestPrefix, result)
	}
	if n := len(env.events()); n != 0 {
		t.Errorf("%s - rejected write must not publish events, got %d", e2eTestPrefix, n)
	}
}

func TestE2E_InvalidJSON(t *testing.T) {
	env := setupE2E(t)

	msg, err := env.nc.Request(env.subject, []byte("{not json"), 10*time.Second)
	if err != nil {
		t.Fatalf("%s - request failed: %v", e2eTestPrefix, err)
	}
	var resp dispatcher.ToolCallResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("%s - failed to unmarshal response: %v", e2eTestPrefix, err)
	}
	if resp.Ok || resp.Error == nil || resp.Error.Code != dispatcher.CodeInvalidRequest {
		t.Errorf("%s - response = %+v", e2eTestPrefix, resp)
	}
}

func TestE2E_Health(t *testing.T) {
	env := setupE2E(t)

	result := resultMap(t, sendRequest(t, env, &dispatcher.ToolCallRequest{ID: "e2e-health", Method: dispatcher.MethodHealth}))
	if result["status"] != "ok" {
		t.Errorf("%s - health = %v", e2eTestPrefix, result)
	}
	checks, _ := result["checks"].(map[string]any)
	if checks["channel_access"] != "ok" || checks["comms"] != "ok" {
		t.Errorf("%s - checks = %v", e2eTestPrefix, checks)
	}
}

func TestE2E_ConcurrentRequests(t *testing.T) {
	env := setupE2E(t)

	const numRequests = 20
	results := make(chan *dispatcher.ToolCallResponse, numRequests)
	for i := 0; i < numRequests; i++ {
		go func(idx int) {
			req := callRequest(fmt.Sprintf("concurrent-%d", idx), "read-value", map[string]any{"pv_name": "temperature:water"})
			results <- sendRequest(t, env, req)
		}(i)
	}

	for i := 0; i < numRequests; i++ {
		select {
		case resp := <-results:
			if !resp.Ok {
				t.Errorf("%s - concurrent request failed: %v", e2eTestPrefix, resp.Error)
			}
		case <-time.After(30 * time.Second):
			t.Fatalf("%s - timeout waiting for concurrent request %d", e2eTestPrefix, i)
		}
	}
}

// A PV that answers slowly must not delay calls to other PVs on the same subject.
func TestE2E_SlowPVDoesNotBlockOtherCalls(t *testing.T) {
	const slowDelay = 1500 * time.Millisecond

	seed := filepath.Join(t.TempDir(), "slow-ioc.yaml")
	doc := "pvs:\n" +
		"  sim:slow:\n    value: 7.5\n    delayMs: 1500\n" +
		"  temperature:water:\n    value: 42.0\n    type: DBF_DOUBLE\n"
	if err := os.WriteFile(seed, []byte(doc), 0o600); err != nil {
		t.Fatalf("%s - write seed: %v", e2eTestPrefix, err)
	}
	env := setupE2E(t, func(cfg *config.Config) {
		cfg.SimSeedFile = seed
		cfg.CATimeout = 5 * time.Second
	})

	slowDone := make(chan *dispatcher.ToolCallResponse, 1)
	go func() {
		slowDone <- sendRequest(t, env, callRequest("slow-1", "read-value", map[string]any{"pv_name": "sim:slow"}))
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	fast := sendRequest(t, env, callRequest("fast-1", "read-value", map[string]any{"pv_name": "temperature:water"}))
	elapsed := time.Since(start)

	if got := resultMap(t, fast)["value"]; got != 42.0 {
		t.Errorf("%s - fast value = %v, want 42.0", e2eTestPrefix, got)
	}
	if elapsed >= slowDelay/2 {
		t.Errorf("%s - fast PV answered after %v, queued behind the %v slow PV", e2eTestPrefix, elapsed, slowDelay)
	}

	select {
	case slow := <-slowDone:
		if got := resultMap(t, slow)["value"]; got != 7.5 {
			t.Errorf("%s - slow value = %v, want 7.5", e2eTestPrefix, got)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("%s - slow PV never answered", e2eTestPrefix)
	}
}

// TestE2E_SSE drives an MCP session over the SSE transport: open the stream,
// read the endpoint event, post a tools/call and read the reply from the stream.
func TestE2E_SSE(t *testing.T) {
	cfg := baseConfig()
	cfg.Transport = config.TransportSSE

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		t.Fatalf("%s - failed to build server: %v", e2eTestPrefix, err)
	}
	defer srv.Close()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, nil, nil) }()

	base := "http://" + testHTTPAddr
	waitReady(t, base+"/ready")

	streamReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/sse", nil)
	stream, err := http.DefaultClient.Do(streamReq)
	if err != nil {
		t.Fatalf("%s - open SSE stream: %v", e2eTestPrefix, err)
	}
	defer stream.Body.Close()

	frames := make(chan [2]string, 8)
	go readSSE(stream.Body, frames)

	endpoint := nextFrame(t, frames, "endpoint")
	if !strings.Contains(endpoint, "/messages/") || !strings.Contains(endpoint, "sessionId=") {
		t.Fatalf("%s - endpoint = %q", e2eTestPrefix, endpoint)
	}
	if strings.HasPrefix(endpoint, "/") {
		endpoint = base + endpoint
	}

	body := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"read-value","arguments":{"pv_name":"temperature:water"}}}`
	post, err := http.Post(endpoint, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("%s - post message: %v", e2eTestPrefix, err)
	}
	post.Body.Close()
	if post.StatusCode >= 300 {
		t.Fatalf("%s - post status = %d", e2eTestPrefix, post.StatusCode)
	}

	var msg struct {
		ID     int `json:"id"`
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(nextFrame(t, frames, "message")), &msg); err != nil {
		t.Fatalf("%s - decode message: %v", e2eTestPrefix, err)
	}
	if msg.ID != 7 || len(msg.Result.Content) != 1 || msg.Result.Content[0].Text != `{"status":"success","value":42.0}` {
		t.Errorf("%s - message = %+v", e2eTestPrefix, msg)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("%s - Serve returned %v", e2eTestPrefix, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("%s - Serve did not return after cancel", e2eTestPrefix)
	}
}

func waitReady(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("%s - %s never became ready", e2eTestPrefix, url)
}

// readSSE sends each event as [event, data] until the stream closes.
func readSSE(r io.Reader, out chan<- [2]string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && event != "":
			out <- [2]string{event, data}
			event, data = "", ""
		}
	}
}

func nextFrame(t *testing.T, frames <-chan [2]string, event string) string {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatalf("%s - stream closed waiting for %q", e2eTestPrefix, event)
			}
			if f[0] == event {
				return f[1]
			}
		case <-timeout:
			t.Fatalf("%s - timeout waiting for %q event", e2eTestPrefix, event)
		}
	}
}
