package orchestration

import (
	"time"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
)

// Selection is the local view state: which target, artifact and code
// section the user is looking at, plus the artifact (if any) marked as the
// refinement target. Selection changes never touch the network.
type Selection struct {
	Target           models.TargetKind `json:"target"`
	ArtifactID       string            `json:"artifact_id,omitempty"`
	Section          string            `json:"section,omitempty"`
	RefineArtifactID string            `json:"refine_artifact_id,omitempty"`
}

// Snapshot is a deep-copied, read-only view of orchestrator state. The
// presentation layer only ever sees snapshots; it requests changes through
// the operation methods.
type Snapshot struct {
	Session          *models.Session         `json:"session,omitempty"`
	Selection        Selection               `json:"selection"`
	Pending          models.PendingOperation `json:"pending"`
	PendingHint      string                  `json:"pending_hint,omitempty"`
	ErrorNotice      *models.Notice          `json:"error_notice,omitempty"`
	SuccessNotice    *models.Notice          `json:"success_notice,omitempty"`
	SessionsRevision uint64                  `json:"sessions_revision"`
	ObservedAt       time.Time               `json:"observed_at"`
}

// LatestArtifact returns the most recently appended artifact of the
// snapshot's session, or nil when there is none.
func (s *Snapshot) LatestArtifact() *models.Artifact {
	if s.Session == nil || len(s.Session.Artifacts) == 0 {
		return nil
	}
	return &s.Session.Artifacts[len(s.Session.Artifacts)-1]
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]models.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.Artifacts = make([]models.Artifact, 0, len(s.Artifacts))
	for _, a := range s.Artifacts {
		out.Artifacts = append(out.Artifacts, a.Clone())
	}
	return &out
}

func cloneNotice(n *models.Notice) *models.Notice {
	if n == nil {
		return nil
	}
	out := *n
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}
