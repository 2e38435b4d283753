package files

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/cascadehq/engine/internal/agent"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxBashTimeout     = 600 * time.Second
)

// blockedCommandSubstrings mirrors the original executor's deny list: shell
// snippets that are almost never legitimate within an agentic coding
// session and are rejected outright rather than executed.
var blockedCommandSubstrings = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"rm -rf ~/",
	"> /dev/sda",
	"dd if=/dev/zero",
	"mkfs.",
	":(){ :|:& };:",
	"chmod -R 777 /",
	"chown -R",
}

// BashTool runs a shell command within the workspace.
type BashTool struct {
	resolver       Resolver
	defaultTimeout time.Duration
}

// NewBashTool creates a bash tool scoped to the workspace.
func NewBashTool(cfg Config) *BashTool {
	return &BashTool{
		resolver:       Resolver{Root: cfg.Workspace},
		defaultTimeout: defaultBashTimeout,
	}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Run a shell command in the workspace directory with a timeout and an output cap."
}

func (t *BashTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in milliseconds (default 120000, max 600000).",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func isBlockedCommand(command string) (string, bool) {
	for _, blocked := range blockedCommandSubstrings {
		if strings.Contains(command, blocked) {
			return blocked, true
		}
	}
	return "", false
}

func (t *BashTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command   string `json:"command"`
		TimeoutMS int    `json:"timeout_ms"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}
	if blocked, ok := isBlockedCommand(command); ok {
		return toolError(fmt.Sprintf("command rejected: matches blocked pattern %q", blocked)), nil
	}

	timeout := t.defaultTimeout
	if input.TimeoutMS > 0 {
		timeout = time.Duration(input.TimeoutMS) * time.Millisecond
	}
	if timeout > maxBashTimeout {
		timeout = maxBashTimeout
	}

	workdir, err := t.resolver.Resolve(".")
	if err != nil {
		return toolError(err.Error()), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(runCtx, "sh", "-c", command)
	}
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	combined := stdout.String()
	if stderr.Len() > 0 {
		combined += "\n--- stderr ---\n" + stderr.String()
	}

	timedOut := runCtx.Err() == context.DeadlineExceeded

	result := map[string]interface{}{
		"command":   command,
		"output":    combined,
		"timed_out": timedOut,
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result["exit_code"] = exitErr.ExitCode()
		} else if !timedOut {
			result["error"] = runErr.Error()
		}
	} else {
		result["exit_code"] = 0
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	isError := runErr != nil && !timedOut
	if timedOut {
		isError = true
	}
	return &agent.ToolResult{Content: string(payload), IsError: isError}, nil
}
