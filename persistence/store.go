// Package persistence defines the storage boundary the chat orchestrator
// writes through (SPEC_FULL.md §6): chat rows, message rows, and
// message-to-file association rows, plus the dashboard content lookup the
// file-filter algorithm needs for its context-dashboard step.
package persistence

import (
	"context"
	"time"
)

// Chat is the upserted chat row.
type Chat struct {
	ID                      string
	Title                   string
	OwnerID                 string
	CreatedAt               time.Time
	UpdatedAt               time.Time
	MostRecentFileID        string
	MostRecentFileType      string
	MostRecentVersionNumber int
	WorkspaceSharing        string
}

// Message is the inserted message row. ResponseMessages, ReasoningMessages,
// and RawLLMMessages are stored as opaque JSON, matching the teacher's
// toolregistry message persistence convention of storing wire-shaped JSON
// rather than re-normalising into relational columns.
type Message struct {
	ID                    string
	ChatID                string
	Sender                string
	RequestMessage        string
	ResponseMessages      []byte
	ReasoningMessages     []byte
	FinalReasoningMessage string
	RawLLMMessages        []byte
	Title                 string
	IsCompleted           bool
	Feedback              *string
	PostProcessing        *string
}

// FileAssociation links a persisted message to a file version it surfaced.
type FileAssociation struct {
	ID            string
	MessageID     string
	FileID        string
	VersionNumber int
	IsDuplicate   bool
}

// DashboardContent is the stored body of a dashboard file version, used by
// the file-filter algorithm to resolve a context dashboard's referenced
// metric ids.
type DashboardContent struct {
	FileID        string
	VersionNumber int
	YML           string
}

// Store is the orchestrator's persistence dependency.
type Store interface {
	UpsertChat(ctx context.Context, chat Chat) error
	InsertMessage(ctx context.Context, msg Message) error
	InsertFileAssociations(ctx context.Context, assocs []FileAssociation) error
	GetDashboardContent(ctx context.Context, fileID string) (DashboardContent, error)
}
