package models

import "time"

// FileChange is a single file modification recorded by the change tracker.
// BeforeHash is nil when the tool created a new file.
type FileChange struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TurnIndex   int       `json:"turn_index"`
	ToolCallID  string    `json:"tool_call_id"`
	ToolName    string    `json:"tool_name"`
	FilePath    string    `json:"file_path"`
	BeforeHash  *string   `json:"before_hash,omitempty"`
	AfterHash   string    `json:"after_hash"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// TurnChanges groups every FileChange recorded during one conversation turn.
type TurnChanges struct {
	TurnIndex int          `json:"turn_index"`
	Changes   []FileChange `json:"changes"`
	Timestamp time.Time    `json:"timestamp"`
}

// RestoredFile reports the outcome of restoring a single path during a
// turn-level rollback: either its prior content was rewritten ("restored"),
// or it was deleted because the tracker found no content for it before the
// target turn ("deleted").
type RestoredFile struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

const (
	RestoreActionRestored = "restored"
	RestoreActionDeleted  = "deleted"
)
