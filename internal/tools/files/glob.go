package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cascadehq/engine/internal/agent"
)

// GlobTool lists workspace files matching a glob pattern, newest first.
type GlobTool struct {
	resolver Resolver
}

// NewGlobTool creates a glob tool scoped to the workspace.
func NewGlobTool(cfg Config) *GlobTool {
	return &GlobTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files in the workspace matching a glob pattern, sorted by modification time (newest first)."
}

func (t *GlobTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern, e.g. \"**/*.go\" or \"src/*.ts\".",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search from (default: workspace root).",
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type globMatch struct {
	path    string
	modTime int64
}

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}

	searchRoot := input.Path
	if searchRoot == "" {
		searchRoot = "."
	}
	resolvedRoot, err := t.resolver.Resolve(searchRoot)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var matches []globMatch
	err = filepath.WalkDir(resolvedRoot, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(resolvedRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		ok, err := filepath.Match(input.Pattern, rel)
		if err != nil {
			return err
		}
		if !ok {
			ok, _ = filepath.Match(input.Pattern, filepath.Base(path))
		}
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, globMatch{path: rel, modTime: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return toolError(fmt.Sprintf("glob: %v", err)), nil
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].modTime > matches[j].modTime
	})

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"pattern": input.Pattern,
		"matches": paths,
		"count":   len(paths),
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
