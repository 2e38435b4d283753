package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cascadehq/engine/internal/agent"
)

const (
	grepMaxFiles     = 1000
	grepMaxOutputLen = 50000
)

// GrepTool searches workspace files for a regular expression.
type GrepTool struct {
	resolver Resolver
}

// NewGrepTool creates a grep tool scoped to the workspace.
func NewGrepTool(cfg Config) *GrepTool {
	return &GrepTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search workspace files for a regular expression, bounded to 1000 files and 50000 characters of output."
}

func (t *GrepTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search from (default: workspace root).",
			},
			"case_insensitive": map[string]interface{}{
				"type":        "boolean",
				"description": "Match case-insensitively (default: false).",
			},
			"context_lines": map[string]interface{}{
				"type":        "integer",
				"description": "Lines of context to include before/after each match (default: 0).",
				"minimum":     0,
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

func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Pattern         string `json:"pattern"`
		Path            string `json:"path"`
		CaseInsensitive bool   `json:"case_insensitive"`
		ContextLines    int    `json:"context_lines"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}

	exprSrc := input.Pattern
	if input.CaseInsensitive {
		exprSrc = "(?i)" + exprSrc
	}
	re, err := regexp.Compile(exprSrc)
	if err != nil {
		return toolError(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	searchRoot := input.Path
	if searchRoot == "" {
		searchRoot = "."
	}
	resolvedRoot, err := t.resolver.Resolve(searchRoot)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var sb strings.Builder
	filesScanned := 0
	totalMatches := 0
	truncated := false

	walkErr := filepath.WalkDir(resolvedRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if filesScanned >= grepMaxFiles {
			return filepath.SkipAll
		}
		filesScanned++

		matches := grepFile(path, re, input.ContextLines)
		if len(matches) == 0 {
			return nil
		}
		rel, relErr := filepath.Rel(resolvedRoot, path)
		if relErr != nil {
			rel = path
		}
		for _, m := range matches {
			totalMatches++
			if sb.Len() < grepMaxOutputLen {
				fmt.Fprintf(&sb, "%s:%d:%s\n", filepath.ToSlash(rel), m.line, m.text)
			}
		}
		return nil
	})
	if walkErr != nil {
		return toolError(fmt.Sprintf("grep: %v", walkErr)), nil
	}

	output := sb.String()
	if len(output) > grepMaxOutputLen {
		output = output[:grepMaxOutputLen]
		truncated = true
	}
	if truncated {
		output += fmt.Sprintf("\n... (output truncated, %d total matches)", totalMatches)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"pattern":       input.Pattern,
		"output":        output,
		"matches":       totalMatches,
		"files_scanned": filesScanned,
		"truncated":     truncated,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

type grepMatch struct {
	line int
	text string
}

func grepFile(path string, re *regexp.Regexp, contextLines int) []grepMatch {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		if isBinaryLine(scanner.Bytes()) {
			return nil
		}
		lines = append(lines, scanner.Text())
	}

	var matches []grepMatch
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		if contextLines <= 0 {
			matches = append(matches, grepMatch{line: i + 1, text: line})
			continue
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		end := i + contextLines
		if end >= len(lines) {
			end = len(lines) - 1
		}
		for j := start; j <= end; j++ {
			matches = append(matches, grepMatch{line: j + 1, text: lines[j]})
		}
	}
	return matches
}

func isBinaryLine(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return true
		}
	}
	return false
}
