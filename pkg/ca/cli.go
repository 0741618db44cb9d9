package ca

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const cliLogPrefix = "ca:cli"

// runFunc executes a command and returns its stdout and stderr.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// CLIClient drives the EPICS base command line tools (caget, caput, cainfo).
type CLIClient struct {
	binDir string
	run    runFunc
}

// NewCLIClient creates a CLIClient. binDir may be empty, in which case the tools
// are looked up on PATH.
func NewCLIClient(binDir string) *CLIClient {
	return &CLIClient{binDir: binDir, run: execRun}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (c *CLIClient) tool(name string) string {
	if c.binDir == "" {
		return name
	}
	return filepath.Join(c.binDir, name)
}

// Get runs `caget -t -w <timeout> <name>`. Output shaped like an array is
// confirmed against the element count reported by cainfo, since a string
// scalar can read the same way.
func (c *CLIClient) Get(ctx context.Context, name string, timeout time.Duration) (any, error) {
	stdout, stderr, err := c.run(ctx, c.tool("caget"), "-t", "-w", timeoutSeconds(timeout), name)
	if err != nil {
		return nil, classify(ctx, "caget", stdout, stderr, err)
	}
	text := string(stdout)
	if _, ok := arrayFields(strings.TrimSpace(text)); !ok {
		return ParseValue(text, 1), nil
	}
	return ParseValue(text, c.elementCount(ctx, name, timeout)), nil
}

// elementCount asks cainfo for the channel's element count. It returns
// UnknownCount when cainfo fails or omits the count.
func (c *CLIClient) elementCount(ctx context.Context, name string, timeout time.Duration) int {
	info, err := c.Info(ctx, name, timeout)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - cainfo %s for element count failed: %v", cliLogPrefix, name, err))
		return UnknownCount
	}
	if n, ok := info["element_count"].(int); ok {
		return n
	}
	return UnknownCount
}

// Put runs `caput -c -t -w <timeout> <name> <value>` and waits for the put callback.
func (c *CLIClient) Put(ctx context.Context, name, value string, timeout time.Duration) (bool, error) {
	stdout, stderr, err := c.run(ctx, c.tool("caput"), "-c", "-t", "-w", timeoutSeconds(timeout), name, value)
	if err != nil {
		return false, classify(ctx, "caput", stdout, stderr, err)
	}
	slog.Debug(fmt.Sprintf("%s - caput %s confirmed: %s", cliLogPrefix, name, strings.TrimSpace(string(stdout))))
	return true, nil
}

// Info runs `cainfo -w <timeout> <name>` and parses its report.
func (c *CLIClient) Info(ctx context.Context, name string, timeout time.Duration) (map[string]any, error) {
	stdout, stderr, err := c.run(ctx, c.tool("cainfo"), "-w", timeoutSeconds(timeout), name)
	if err != nil {
		return nil, classify(ctx, "cainfo", stdout, stderr, err)
	}
	info := ParseInfo(string(stdout))
	if len(info) == 0 {
		return nil, nil
	}
	if state, _ := info["state"].(string); strings.Contains(state, "not connected") {
		return nil, ErrNotConnected
	}
	return info, nil
}

// Check verifies that caget can be found.
func (c *CLIClient) Check(_ context.Context) error {
	if _, err := exec.LookPath(c.tool("caget")); err != nil {
		return fmt.Errorf("%s - caget not available: %w", cliLogPrefix, err)
	}
	return nil
}

// classify maps a failed tool run onto the package sentinel errors where possible.
func classify(ctx context.Context, tool string, stdout, stderr []byte, runErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w", tool, runErr)
	}

	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		msg = strings.TrimSpace(string(stdout))
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "not found"):
		return fmt.Errorf("%w: %s", ErrTimeout, msg)
	case strings.Contains(lower, "not connected"), strings.Contains(lower, "disconnect"):
		return fmt.Errorf("%w: %s", ErrNotConnected, msg)
	case msg == "":
		return fmt.Errorf("%s: %v", tool, runErr)
	default:
		return errors.New(msg)
	}
}

// ParseInfo turns a cainfo report into a mapping. The first line is the PV name;
// the remaining "Key: value" lines become snake_case keys. Element count is an int.
func ParseInfo(text string) map[string]any {
	info := map[string]any{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if !strings.Contains(line, ": ") {
				info["pv_name"] = line
				continue
			}
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.Join(strings.Fields(key), "_"))
		value = strings.TrimSpace(value)
		if key == "element_count" {
			if n, err := strconv.Atoi(value); err == nil {
				info[key] = n
				continue
			}
		}
		info[key] = value
	}
	return info
}
