// Package chat implements the Chat Orchestrator (SPEC_FULL.md §4.3): it
// subscribes to one agent run, translates the Agent Runtime's Message stream
// into response-lane and reasoning-lane Chat Container events, and persists
// the resulting ChatMessage once the subscription drains.
//
// The tagged-union Container shape below mirrors the teacher's
// runtime/toolregistry/messages.go ToolCallMessage/ToolResultMessage family:
// an unexported marker method on each concrete type, a ChatID/MessageID pair
// carried by every variant.
package chat

import "time"

// Status is the three-state lifecycle shared by Pill, File, and Text
// reasoning entries.
type Status string

const (
	StatusLoading   Status = "loading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Container is the orchestrator's output unit: Chat | ChatMessage |
// ReasoningMessage | GeneratingTitle.
type Container interface {
	isContainer()
	ChatKey() (chatID, messageID string)
}

type base struct {
	ChatID    string
	MessageID string
}

func (b base) ChatKey() (string, string) { return b.ChatID, b.MessageID }

// Chat is a full chat snapshot, broadcast once the orchestrator's final
// state has been built and persisted.
type Chat struct {
	base
	Title                   string
	ResponseMessages        []ChatMessage
	ReasoningMessages       []ReasoningMessage
	DurationLabel           string
	MostRecentFileID        string
	MostRecentFileType      string
	MostRecentVersionNumber int
}

func (Chat) isContainer() {}

// GeneratingTitle carries incremental title-generation text, independent of
// the response/reasoning lanes.
type GeneratingTitle struct {
	base
	TitleChunk string
}

func (GeneratingTitle) isContainer() {}

// ChatMessage is one response-lane item: Text or File.
type ChatMessage interface {
	Container
	isChatMessage()
}

// ChatText is the response lane's streamed/final assistant text.
type ChatText struct {
	base
	ID                 string
	Message            *string
	MessageChunk       *string
	IsFinalMessage      bool
	OriginatingToolName string
}

func (ChatText) isContainer()   {}
func (ChatText) isChatMessage() {}

// ChatFile is a response-lane surfaced file (metric or dashboard).
type ChatFile struct {
	base
	ID              string
	FileType        string
	FileName        string
	VersionNumber   int
	FilterVersionID *string
	Metadata        FileMetadata
}

func (ChatFile) isContainer()   {}
func (ChatFile) isChatMessage() {}

// FileMetadata is attached to a surfaced ChatFile.
type FileMetadata struct {
	Status    string
	Message   string
	Timestamp time.Time
}

// ReasoningMessage is one reasoning-lane item: Pill, File, or Text.
type ReasoningMessage interface {
	Container
	isReasoningMessage()
	ReasoningID() string
	ReasoningStatus() Status
}

// ReasoningPill is an indivisible UI tag group, e.g. one per dataset found.
type ReasoningPill struct {
	base
	ID             string
	Title          string
	SecondaryTitle string
	Status         Status
	Pills          []PillContainer
}

func (ReasoningPill) isContainer()                {}
func (ReasoningPill) isReasoningMessage()          {}
func (r ReasoningPill) ReasoningID() string        { return r.ID }
func (r ReasoningPill) ReasoningStatus() Status     { return r.Status }

// PillContainer is one tag within a ReasoningPill.
type PillContainer struct {
	ID   string
	Type string
	Text string
}

// ReasoningFile reports streamed/completed file-creation progress.
type ReasoningFile struct {
	base
	ID             string
	Title          string
	SecondaryTitle string
	Status         Status
	FileOrder      []string
	Files          map[string]FileDetail
}

func (ReasoningFile) isContainer()               {}
func (ReasoningFile) isReasoningMessage()         {}
func (r ReasoningFile) ReasoningID() string       { return r.ID }
func (r ReasoningFile) ReasoningStatus() Status    { return r.Status }

// FileDetail is one file's progress within a ReasoningFile.
type FileDetail struct {
	ID            string
	FileType      string
	Name          string
	VersionNumber int
	Status        Status
	Content       string
	Metadata      map[string]any
}

// ReasoningText is a streamed/final plain-text reasoning entry.
type ReasoningText struct {
	base
	ID               string
	Title            string
	SecondaryTitle   string
	Message          *string
	MessageChunk     *string
	Status           Status
	FinishedReasoning bool
}

func (ReasoningText) isContainer()              {}
func (ReasoningText) isReasoningMessage()        {}
func (r ReasoningText) ReasoningID() string      { return r.ID }
func (r ReasoningText) ReasoningStatus() Status   { return r.Status }
