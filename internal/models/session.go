package models

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's conversation. Messages are immutable
// once appended; they are only ever replaced wholesale when the current
// session changes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	ImageRef  string    `json:"image_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the full projection of a persisted conversation: its metadata
// plus the ordered message and artifact histories. The remote store owns
// the canonical copy; the orchestrator holds a cached, mutable projection
// of at most one session at a time.
type Session struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	OwnerID   string     `json:"owner_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []Message  `json:"messages"`
	Artifacts []Artifact `json:"artifacts"`
}

// SessionSummary is the list-view shape returned by the store's list and
// search calls.
type SessionSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	MessageCount  int       `json:"message_count"`
	ArtifactCount int       `json:"artifact_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}
