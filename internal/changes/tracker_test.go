package changes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cascadehq/engine/pkg/models"
)

func makeTracker(t *testing.T, dir string) *Tracker {
	t.Helper()
	tr, err := NewWithDataDir("test-session", dir, dir, nil, nil)
	if err != nil {
		t.Fatalf("NewWithDataDir: %v", err)
	}
	return tr
}

func strPtr(s string) *string { return &s }

func TestStoreAndRetrieveContent(t *testing.T) {
	dir := t.TempDir()
	tr := makeTracker(t, dir)

	content := []byte("hello world")
	hash, err := tr.StoreContent(content)
	if err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("hash len = %d, want 64", len(hash))
	}
	got, err := tr.GetContent(hash)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestStoreDeduplicates(t *testing.T) {
	dir := t.TempDir()
	tr := makeTracker(t, dir)

	h1, err := tr.StoreContent([]byte("same content"))
	if err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	h2, err := tr.StoreContent([]byte("same content"))
	if err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ: %q vs %q", h1, h2)
	}
}

func TestCaptureBeforeExistingFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(file, []byte("original"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tr := makeTracker(t, dir)

	hash, existed, err := tr.CaptureBefore(file)
	if err != nil {
		t.Fatalf("CaptureBefore: %v", err)
	}
	if !existed {
		t.Fatal("expected existed = true")
	}
	content, err := tr.GetContent(hash)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if string(content) != "original" {
		t.Fatalf("content = %q, want %q", content, "original")
	}
}

func TestCaptureBeforeNonexistent(t *testing.T) {
	dir := t.TempDir()
	tr := makeTracker(t, dir)

	_, existed, err := tr.CaptureBefore(filepath.Join(dir, "nope.txt"))
	if err != nil {
		t.Fatalf("CaptureBefore: %v", err)
	}
	if existed {
		t.Fatal("expected existed = false for a missing file")
	}
}

func TestRecordAndQueryChanges(t *testing.T) {
	dir := t.TempDir()
	tr := makeTracker(t, dir)
	ctx := context.Background()

	tr.SetTurnIndex(0)
	tr.RecordChange(ctx, "tc1", "Write", "src/a.go", nil, "hash_a", "Wrote 10 lines")
	tr.SetTurnIndex(1)
	tr.RecordChange(ctx, "tc2", "Edit", "src/b.go", strPtr("hash_b0"), "hash_b1", "Edited 1 occurrence")

	turns := tr.GetChangesByTurn()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].TurnIndex != 0 || len(turns[0].Changes) != 1 {
		t.Fatalf("turn 0 = %+v", turns[0])
	}
	if turns[1].TurnIndex != 1 || len(turns[1].Changes) != 1 {
		t.Fatalf("turn 1 = %+v", turns[1])
	}
}

func TestRestoreToBeforeTurn(t *testing.T) {
	dir := t.TempDir()
	tr := makeTracker(t, dir)
	ctx := context.Background()

	// Turn 0 creates a new file.
	newFile := filepath.Join(dir, "new.txt")
	tr.SetTurnIndex(0)
	afterHash, err := tr.StoreContent([]byte("new content"))
	if err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	if err := os.WriteFile(newFile, []byte("new content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tr.RecordChange(ctx, "tc1", "Write", "new.txt", nil, afterHash, "Wrote file")

	// Turn 1 edits an existing file.
	existingFile := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(existingFile, []byte("original"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	beforeHash, err := tr.StoreContent([]byte("original"))
	if err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	tr.SetTurnIndex(1)
	editAfterHash, err := tr.StoreContent([]byte("modified"))
	if err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	if err := os.WriteFile(existingFile, []byte("modified"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tr.RecordChange(ctx, "tc2", "Edit", "existing.txt", &beforeHash, editAfterHash, "Edited")

	// Restore to before turn 1: should restore existing.txt, keep new.txt.
	restored, err := tr.RestoreToBeforeTurn(1)
	if err != nil {
		t.Fatalf("RestoreToBeforeTurn: %v", err)
	}
	if len(restored) != 1 {
		t.Fatalf("expected 1 restored file, got %+v", restored)
	}
	if restored[0].Path != "existing.txt" || restored[0].Action != models.RestoreActionRestored {
		t.Fatalf("unexpected restore result: %+v", restored[0])
	}
	content, err := os.ReadFile(existingFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "original" {
		t.Fatalf("content = %q, want %q", content, "original")
	}

	// Restore to before turn 0: should delete new.txt and re-restore existing.txt.
	restored, err = tr.RestoreToBeforeTurn(0)
	if err != nil {
		t.Fatalf("RestoreToBeforeTurn: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected 2 restored files, got %+v", restored)
	}
	var newFileResult *models.RestoredFile
	for i := range restored {
		if restored[i].Path == "new.txt" {
			newFileResult = &restored[i]
		}
	}
	if newFileResult == nil || newFileResult.Action != models.RestoreActionDeleted {
		t.Fatalf("expected new.txt to be deleted, got %+v", restored)
	}
	if _, err := os.Stat(newFile); !os.IsNotExist(err) {
		t.Fatalf("expected new.txt to no longer exist, stat err = %v", err)
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	func() {
		tr := makeTracker(t, dir)
		tr.SetTurnIndex(2)
		tr.RecordChange(ctx, "tc1", "Write", "a.txt", nil, "hash1", "Wrote")
	}()

	tr := makeTracker(t, dir)
	if tr.ChangeCount() != 1 {
		t.Fatalf("ChangeCount() = %d, want 1", tr.ChangeCount())
	}
	if tr.TurnIndex() != 2 {
		t.Fatalf("TurnIndex() = %d, want 2", tr.TurnIndex())
	}
}

func TestGetFileDiff(t *testing.T) {
	dir := t.TempDir()
	tr := makeTracker(t, dir)

	h1, err := tr.StoreContent([]byte("line 1\nline 2\nline 3"))
	if err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	h2, err := tr.StoreContent([]byte("line 1\nmodified\nline 3"))
	if err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	diff, err := tr.GetFileDiff(&h1, h2)
	if err != nil {
		t.Fatalf("GetFileDiff: %v", err)
	}
	if !strings.Contains(diff, "+modified") || !strings.Contains(diff, "-line 2") {
		t.Fatalf("unexpected diff: %q", diff)
	}
}

func TestTruncateFromTurn(t *testing.T) {
	dir := t.TempDir()
	tr := makeTracker(t, dir)
	ctx := context.Background()

	tr.SetTurnIndex(0)
	tr.RecordChange(ctx, "tc1", "Write", "a.txt", nil, "h1", "Wrote")
	tr.SetTurnIndex(1)
	tr.RecordChange(ctx, "tc2", "Write", "b.txt", nil, "h2", "Wrote")
	tr.SetTurnIndex(2)
	tr.RecordChange(ctx, "tc3", "Write", "c.txt", nil, "h3", "Wrote")

	if err := tr.TruncateFromTurn(1); err != nil {
		t.Fatalf("TruncateFromTurn: %v", err)
	}
	if tr.ChangeCount() != 1 {
		t.Fatalf("ChangeCount() = %d, want 1", tr.ChangeCount())
	}
	turns := tr.GetChangesByTurn()
	if len(turns) != 1 || turns[0].TurnIndex != 0 {
		t.Fatalf("unexpected turns after truncate: %+v", turns)
	}
}

func TestRejectsOversizedContent(t *testing.T) {
	dir := t.TempDir()
	tr := makeTracker(t, dir)

	big := make([]byte, MaxTrackedFileSize+1)
	_, err := tr.StoreContent(big)
	if err == nil {
		t.Fatal("expected error for oversized content")
	}
}

func TestRecordChangeEmitsSinkEvent(t *testing.T) {
	dir := t.TempDir()

	var captured []models.AgentEvent
	sink := &captureSink{events: &captured}

	tr, err := NewWithDataDir("test-session", dir, dir, sink, nil)
	if err != nil {
		t.Fatalf("NewWithDataDir: %v", err)
	}

	tr.SetTurnIndex(3)
	tr.RecordChange(context.Background(), "tc1", "Write", "a.txt", nil, "hash_a", "Wrote file")

	if len(captured) != 1 {
		t.Fatalf("expected 1 captured event, got %d", len(captured))
	}
	ev := captured[0]
	if ev.Type != models.AgentEventFileChangeRecorded {
		t.Fatalf("Type = %q, want %q", ev.Type, models.AgentEventFileChangeRecorded)
	}
	if ev.FileChange == nil || ev.FileChange.FilePath != "a.txt" || ev.FileChange.TurnIndex != 3 {
		t.Fatalf("unexpected payload: %+v", ev.FileChange)
	}
}

type captureSink struct {
	events *[]models.AgentEvent
}

func (s *captureSink) Emit(ctx context.Context, e models.AgentEvent) {
	*s.events = append(*s.events, e)
}
