package models

import (
	"time"
)

// PendingOperation is the single in-flight async action guard. At most one
// operation other than PendingNone may be active per orchestrator; a second
// operation-start request while one is pending is rejected, not queued.
type PendingOperation string

const (
	PendingNone             PendingOperation = "none"
	PendingCreatingSession  PendingOperation = "creating_session"
	PendingSelectingSession PendingOperation = "selecting_session"
	PendingDeletingSession  PendingOperation = "deleting_session"
	PendingGenerating       PendingOperation = "generating"
	PendingRefining         PendingOperation = "refining"
	PendingBuilding         PendingOperation = "building"
	PendingPushingToGit     PendingOperation = "pushing_to_git"
)

// NoticeKind distinguishes error notices from success notices.
type NoticeKind string

const (
	NoticeError   NoticeKind = "error"
	NoticeSuccess NoticeKind = "success"
)

// Notice is a single user-facing message produced by an operation outcome.
// The orchestrator holds at most one error and one success notice at a
// time; success notices carry an expiry after which they are pruned.
type Notice struct {
	Kind      NoticeKind       `json:"kind"`
	Code      string           `json:"code,omitempty"`
	Context   OperationContext `json:"context"`
	Message   string           `json:"message"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}
