package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cascadehq/engine/internal/agent"
	"github.com/cascadehq/engine/internal/changes"
)

// EditTool implements a single find/replace edit on a file, rejecting
// ambiguous replacements the way a human editor would refuse to guess.
type EditTool struct {
	resolver Resolver
	tracker  *changes.Tracker
}

// NewEditTool creates an edit tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}, tracker: cfg.Tracker}
}

// Name returns the tool name.
func (t *EditTool) Name() string {
	return "edit"
}

// Description returns the tool description.
func (t *EditTool) Description() string {
	return "Replace an exact string in a file. Ambiguous matches are rejected unless replace_all is set."
}

// Schema returns the JSON schema for the tool parameters.
func (t *EditTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to edit (relative to workspace or absolute).",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace. Must occur in the file.",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text.",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring a unique one (default: false).",
			},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute applies the edit to the file.
func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.FilePath) == "" {
		return toolError("file_path is required"), nil
	}
	if input.OldString == "" {
		return toolError("old_string is required"), nil
	}
	if input.OldString == input.NewString {
		return toolError("old_string and new_string are identical"), nil
	}

	resolved, err := t.resolver.Resolve(input.FilePath)
	if err != nil {
		return toolError(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return toolError(fmt.Sprintf("file not found: %s", input.FilePath)), nil
		}
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	content := string(data)
	occurrences := strings.Count(content, input.OldString)
	if occurrences == 0 {
		return toolError("old_string not found in file"), nil
	}
	if !input.ReplaceAll && occurrences > 1 {
		return toolError(fmt.Sprintf("the old_string appears %d times in the file; pass replace_all=true or narrow old_string to a unique occurrence", occurrences)), nil
	}

	var beforeHash *string
	if t.tracker != nil {
		hash, err := t.tracker.StoreContent(data)
		if err != nil {
			return toolError(fmt.Sprintf("capture before state: %v", err)), nil
		}
		beforeHash = &hash
	}

	var replaced string
	var count int
	if input.ReplaceAll {
		replaced = strings.ReplaceAll(content, input.OldString, input.NewString)
		count = occurrences
	} else {
		replaced = strings.Replace(content, input.OldString, input.NewString, 1)
		count = 1
	}

	info, err := os.Stat(resolved)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(resolved, []byte(replaced), mode); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	if t.tracker != nil {
		afterHash, err := t.tracker.StoreContent([]byte(replaced))
		if err != nil {
			return toolError(fmt.Sprintf("store file content: %v", err)), nil
		}
		toolCallID, _ := agent.ToolCallIDFromContext(ctx)
		t.tracker.RecordChange(ctx, toolCallID, t.Name(), input.FilePath, beforeHash, afterHash,
			fmt.Sprintf("Replaced %d occurrence(s)", count))
	}

	result := map[string]interface{}{
		"file_path":    input.FilePath,
		"replacements": count,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}
