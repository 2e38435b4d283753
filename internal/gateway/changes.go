package gateway

import "github.com/cascadehq/engine/internal/changes"

// ensureChangesTracker lazily creates the workspace-scoped file-change
// tracker used by the write and edit tools, matching the broadcastManager
// lazy-init pattern used elsewhere in registerTools.
func (s *Server) ensureChangesTracker() *changes.Tracker {
	s.changesTrackerMu.Lock()
	defer s.changesTrackerMu.Unlock()

	if s.changesTracker != nil {
		return s.changesTracker
	}

	sessionID := s.config.Session.DefaultAgentID
	if sessionID == "" {
		sessionID = "gateway"
	}
	tracker, err := changes.New(sessionID, s.config.Workspace.Path, nil, s.logger)
	if err != nil {
		s.logger.Warn("file-change tracker unavailable, write/edit tools will not record changes", "error", err)
		return nil
	}
	s.changesTracker = tracker
	return s.changesTracker
}
