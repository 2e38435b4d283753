// Package changes implements the turn-indexed file-change tracker: a CAS-backed
// log of every file mutation made by LLM tools, with per-turn query and
// turn-level restore/truncate semantics.
package changes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cascadehq/engine/internal/agent"
	"github.com/cascadehq/engine/internal/cas"
	"github.com/cascadehq/engine/pkg/models"
)

// MaxTrackedFileSize mirrors cas.MaxBlobSize: content larger than this is
// rejected by StoreContent rather than silently truncated.
const MaxTrackedFileSize = cas.MaxBlobSize

// ErrFileTooLarge is returned by StoreContent when content exceeds MaxTrackedFileSize.
type ErrFileTooLarge = cas.ErrFileTooLarge

// ErrBlobNotFound is returned when a CAS hash has no corresponding blob.
type ErrBlobNotFound = cas.ErrBlobNotFound

// Tracker records file modifications made by tools during a session, backing
// every before/after snapshot with a CAS blob store and persisting the
// change log to disk as JSON.
type Tracker struct {
	mu sync.Mutex

	sessionID   string
	projectRoot string
	dataDir     string
	store       *cas.Store

	changes          []models.FileChange
	currentTurnIndex int

	sink   agent.EventSink
	logger *slog.Logger
}

// projectPathHash returns the 8 lower-hex-char SHA-256 prefix of the
// project root's string form, used as the per-project data directory name.
func projectPathHash(projectRoot string) string {
	sum := sha256.Sum256([]byte(projectRoot))
	return hex.EncodeToString(sum[:])[:8]
}

// resolveDataDir returns ~/.cascade/file-changes/<project-hash>, keeping
// tracked data out of the user's project directory. If the home directory
// cannot be resolved, it falls back to <project-root>/.cascade (logged as a
// warning since this should never happen in practice).
func resolveDataDir(projectRoot string, logger *slog.Logger) string {
	hash := projectPathHash(projectRoot)
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		if logger != nil {
			logger.Warn("could not resolve home directory, falling back to project-local storage",
				slog.String("project_root", projectRoot))
		}
		return filepath.Join(projectRoot, ".cascade")
	}
	return filepath.Join(home, ".cascade", "file-changes", hash)
}

// New creates a tracker for a session, resolving the default data directory
// under the user's home. It attempts to load any previously persisted
// change log for this (session, project) pair.
func New(sessionID, projectRoot string, sink agent.EventSink, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return NewWithDataDir(sessionID, projectRoot, resolveDataDir(projectRoot, logger), sink, logger)
}

// NewWithDataDir creates a tracker with an explicit data directory, bypassing
// home-directory resolution. Primarily used by tests that need to control
// storage location.
func NewWithDataDir(sessionID, projectRoot, dataDir string, sink agent.EventSink, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := cas.New(filepath.Join(dataDir, "cas"))
	if err != nil {
		return nil, fmt.Errorf("init file-change CAS store: %w", err)
	}
	t := &Tracker{
		sessionID:   sessionID,
		projectRoot: projectRoot,
		dataDir:     dataDir,
		store:       store,
		sink:        sink,
		logger:      logger,
	}
	t.loadSilent()
	return t, nil
}

// SetTurnIndex updates the current turn index, reported by the orchestrator
// before each assistant turn.
func (t *Tracker) SetTurnIndex(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentTurnIndex = idx
}

// TurnIndex returns the current turn index.
func (t *Tracker) TurnIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentTurnIndex
}

// StoreContent stores content in the CAS and returns its hex hash.
func (t *Tracker) StoreContent(content []byte) (string, error) {
	return t.store.Store(content)
}

// GetContent retrieves content from the CAS by hash.
func (t *Tracker) GetContent(hash string) ([]byte, error) {
	return t.store.Get(hash)
}

// CaptureBefore reads path's current content and CAS-stores it, returning
// the hash. It returns ("", false, nil) when path does not exist, which
// callers treat as "no before-state" (a new file) rather than an error.
func (t *Tracker) CaptureBefore(path string) (hash string, existed bool, err error) {
	return cas.Capture(t.store, path)
}

// RecordChange appends a FileChange for the current turn, persists the
// updated log to disk, and emits AgentEventFileChangeRecorded on the
// configured sink (if any).
func (t *Tracker) RecordChange(ctx context.Context, toolCallID, toolName, filePath string, beforeHash *string, afterHash, description string) {
	t.mu.Lock()
	change := models.FileChange{
		ID:          uuid.NewString(),
		SessionID:   t.sessionID,
		TurnIndex:   t.currentTurnIndex,
		ToolCallID:  toolCallID,
		ToolName:    toolName,
		FilePath:    filePath,
		BeforeHash:  beforeHash,
		AfterHash:   afterHash,
		Timestamp:   time.Now().UTC(),
		Description: description,
	}
	t.changes = append(t.changes, change)
	if err := t.persistLocked(); err != nil {
		t.logger.Warn("failed to persist file change log",
			slog.String("session_id", t.sessionID), slog.Any("error", err))
	}
	t.mu.Unlock()

	t.logger.Debug("file change recorded",
		slog.String("session_id", t.sessionID),
		slog.Int("turn_index", change.TurnIndex),
		slog.String("tool", toolName),
		slog.String("path", filePath))

	if t.sink != nil {
		t.sink.Emit(ctx, models.AgentEvent{
			Version:   1,
			Type:      models.AgentEventFileChangeRecorded,
			Time:      change.Timestamp,
			RunID:     t.sessionID,
			TurnIndex: change.TurnIndex,
			FileChange: &models.FileChangeEventPayload{
				SessionID:   t.sessionID,
				TurnIndex:   change.TurnIndex,
				FilePath:    change.FilePath,
				ToolName:    change.ToolName,
				ChangeID:    change.ID,
				BeforeHash:  change.BeforeHash,
				AfterHash:   change.AfterHash,
				Description: change.Description,
			},
		})
	}
}

// GetChangesByTurn groups all recorded changes by turn index, sorted
// ascending by turn index.
func (t *Tracker) GetChangesByTurn() []models.TurnChanges {
	t.mu.Lock()
	defer t.mu.Unlock()

	byTurn := make(map[int][]models.FileChange)
	for _, c := range t.changes {
		byTurn[c.TurnIndex] = append(byTurn[c.TurnIndex], c)
	}

	result := make([]models.TurnChanges, 0, len(byTurn))
	for turnIndex, cs := range byTurn {
		earliest := cs[0].Timestamp
		for _, c := range cs[1:] {
			if c.Timestamp.Before(earliest) {
				earliest = c.Timestamp
			}
		}
		result = append(result, models.TurnChanges{
			TurnIndex: turnIndex,
			Changes:   cs,
			Timestamp: earliest,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TurnIndex < result[j].TurnIndex })
	return result
}

// ChangeCount returns the total number of recorded changes.
func (t *Tracker) ChangeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.changes)
}

// GetFileDiff computes a unified diff between two CAS blobs. An empty
// beforeHash yields a diff against an empty "before" side.
func (t *Tracker) GetFileDiff(beforeHash *string, afterHash string) (string, error) {
	var before string
	if beforeHash != nil {
		data, err := t.store.Get(*beforeHash)
		if err != nil {
			return "", err
		}
		before = string(data)
	}
	afterData, err := t.store.Get(afterHash)
	if err != nil {
		return "", err
	}
	return UnifiedDiff(before, string(afterData)), nil
}

// RestoreToBeforeTurn restores every distinct path with at least one change
// at turn_index >= target to its state just before target: the earliest
// such change's before_hash, or deletion if that change created the file.
// Restoring does not itself truncate the log.
func (t *Tracker) RestoreToBeforeTurn(target int) ([]models.RestoredFile, error) {
	t.mu.Lock()
	var affected []models.FileChange
	for _, c := range t.changes {
		if c.TurnIndex >= target {
			affected = append(affected, c)
		}
	}
	t.mu.Unlock()

	if len(affected) == 0 {
		return nil, nil
	}

	// For each affected path, the restore target is the before_hash of the
	// earliest change at/after target — first-seen-wins over affected, which
	// preserves the original record order (ascending by append order, i.e.
	// roughly ascending by turn index and time).
	targetHash := make(map[string]*string)
	order := make([]string, 0, len(affected))
	for _, c := range affected {
		if _, ok := targetHash[c.FilePath]; !ok {
			targetHash[c.FilePath] = c.BeforeHash
			order = append(order, c.FilePath)
		}
	}

	restored := make([]models.RestoredFile, 0, len(order))
	for _, path := range order {
		hash := targetHash[path]
		fullPath := filepath.Join(t.projectRoot, path)

		if hash == nil {
			if _, err := os.Stat(fullPath); err == nil {
				if err := os.Remove(fullPath); err != nil {
					return nil, fmt.Errorf("delete %s: %w", path, err)
				}
			}
			restored = append(restored, models.RestoredFile{Path: path, Action: models.RestoreActionDeleted})
			continue
		}

		content, err := t.store.Get(*hash)
		if err != nil {
			return nil, err
		}
		if dir := filepath.Dir(fullPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create dirs for %s: %w", path, err)
			}
		}
		if err := os.WriteFile(fullPath, content, 0o644); err != nil {
			return nil, fmt.Errorf("restore %s: %w", path, err)
		}
		restored = append(restored, models.RestoredFile{Path: path, Action: models.RestoreActionRestored})
	}

	return restored, nil
}

// RestoreSingleFile unconditionally writes the CAS blob at targetHash to path.
func (t *Tracker) RestoreSingleFile(path, targetHash string) error {
	content, err := t.store.Get(targetHash)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(t.projectRoot, path)
	if dir := filepath.Dir(fullPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	return nil
}

// TruncateFromTurn removes every record with turn_index >= idx and re-persists.
func (t *Tracker) TruncateFromTurn(idx int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.changes[:0:0]
	for _, c := range t.changes {
		if c.TurnIndex < idx {
			kept = append(kept, c)
		}
	}
	t.changes = kept
	return t.persistLocked()
}

func (t *Tracker) changesFilePath() string {
	return filepath.Join(t.dataDir, "changes", t.sessionID+".json")
}

// persistLocked writes the change log to disk. The caller must hold t.mu.
func (t *Tracker) persistLocked() error {
	path := t.changesFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create changes dir: %w", err)
	}
	data, err := json.MarshalIndent(t.changes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write changes file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename changes file: %w", err)
	}
	return nil
}

// loadSilent loads persisted changes from disk, ignoring a missing or
// malformed file, and restores current_turn_index to the maximum recorded
// turn index.
func (t *Tracker) loadSilent() {
	data, err := os.ReadFile(t.changesFilePath())
	if err != nil {
		return
	}
	var loaded []models.FileChange
	if err := json.Unmarshal(data, &loaded); err != nil {
		return
	}
	t.changes = loaded
	maxTurn := 0
	for _, c := range loaded {
		if c.TurnIndex > maxTurn {
			maxTurn = c.TurnIndex
		}
	}
	t.currentTurnIndex = maxTurn
}
