package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cascadehq/engine/internal/agent"
	"github.com/cascadehq/engine/internal/changes"
)

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	_, err := resolver.Resolve("../outside.txt")
	if err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestReadWriteEdit(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root, MaxReadBytes: 10}

	writeTool := NewWriteTool(cfg)
	readTool := NewReadTool(cfg)
	editTool := NewEditTool(cfg)

	writeParams, _ := json.Marshal(map[string]interface{}{
		"path":    "notes.txt",
		"content": "hello world",
	})
	if _, err := writeTool.Execute(context.Background(), writeParams); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readParams, _ := json.Marshal(map[string]interface{}{
		"path": "notes.txt",
	})
	result, err := readTool.Execute(context.Background(), readParams)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Fatalf("expected content, got %s", result.Content)
	}

	editParams, _ := json.Marshal(map[string]interface{}{
		"file_path":  "notes.txt",
		"old_string": "world",
		"new_string": "cascade",
	})
	if _, err := editTool.Execute(context.Background(), editParams); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "hello cascade" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}

func TestEditRejectsAmbiguousOccurrence(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "dup.txt")
	if err := os.WriteFile(path, []byte("foo bar foo"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	editTool := NewEditTool(cfg)
	params, _ := json.Marshal(map[string]interface{}{
		"file_path":  "dup.txt",
		"old_string": "foo",
		"new_string": "baz",
	})
	result, err := editTool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for ambiguous occurrence")
	}
	if !strings.Contains(result.Content, "2 times") {
		t.Fatalf("expected occurrence count in error, got %s", result.Content)
	}
}

func TestEditReplaceAll(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "dup.txt")
	if err := os.WriteFile(path, []byte("foo bar foo"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	editTool := NewEditTool(cfg)
	params, _ := json.Marshal(map[string]interface{}{
		"file_path":   "dup.txt",
		"old_string":  "foo",
		"new_string":  "baz",
		"replace_all": true,
	})
	if _, err := editTool.Execute(context.Background(), params); err != nil {
		t.Fatalf("execute: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "baz bar baz" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}

func TestWriteAndEditRecordChangesWhenTrackerConfigured(t *testing.T) {
	root := t.TempDir()
	dataDir := t.TempDir()
	tracker, err := changes.NewWithDataDir("test-session", root, dataDir, nil, nil)
	if err != nil {
		t.Fatalf("NewWithDataDir: %v", err)
	}
	cfg := Config{Workspace: root, Tracker: tracker}

	writeTool := NewWriteTool(cfg)
	editTool := NewEditTool(cfg)

	writeParams, _ := json.Marshal(map[string]interface{}{
		"path":    "tracked.txt",
		"content": "hello world",
	})
	ctx := agent.WithToolCallID(context.Background(), "call-1")
	if _, err := writeTool.Execute(ctx, writeParams); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if tracker.ChangeCount() != 1 {
		t.Fatalf("ChangeCount() = %d, want 1", tracker.ChangeCount())
	}

	editParams, _ := json.Marshal(map[string]interface{}{
		"file_path":  "tracked.txt",
		"old_string": "world",
		"new_string": "cascade",
	})
	if _, err := editTool.Execute(ctx, editParams); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if tracker.ChangeCount() != 2 {
		t.Fatalf("ChangeCount() = %d, want 2", tracker.ChangeCount())
	}

	turns := tracker.GetChangesByTurn()
	if len(turns) != 1 || len(turns[0].Changes) != 2 {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	writeChange := turns[0].Changes[0]
	if writeChange.BeforeHash != nil {
		t.Fatalf("expected new file to have no before hash, got %v", *writeChange.BeforeHash)
	}
	editChange := turns[0].Changes[1]
	if editChange.BeforeHash == nil {
		t.Fatal("expected edit to have a before hash")
	}
	if editChange.ToolCallID != "call-1" {
		t.Fatalf("ToolCallID = %q, want %q", editChange.ToolCallID, "call-1")
	}
}

func TestReadLineOffsetAndNumberedFormat(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "lines.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	readTool := NewReadTool(cfg)
	params, _ := json.Marshal(map[string]interface{}{
		"path":   "lines.txt",
		"offset": 2,
	})
	result, err := readTool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result.Content, "     2\ttwo") {
		t.Fatalf("expected numbered line 2, got %s", result.Content)
	}
	if strings.Contains(result.Content, "one") {
		t.Fatalf("offset should skip line 1, got %s", result.Content)
	}
}

func TestApplyPatch(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "file.txt")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tool := NewApplyPatchTool(cfg)
	patch := strings.Join([]string{
		"--- a/file.txt",
		"+++ b/file.txt",
		"@@ -1,3 +1,3 @@",
		" a",
		"-b",
		"+bb",
		" c",
		"",
	}, "\n")

	params, _ := json.Marshal(map[string]interface{}{"patch": patch})
	if _, err := tool.Execute(context.Background(), params); err != nil {
		t.Fatalf("apply patch failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "a\nbb\nc\n" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}
