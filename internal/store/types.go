package store

import (
	"context"
	"errors"
	"time"
)

// RollupMode selects which rollup chain a summary belongs to. Each mode has
// its own watermark sequence per conversation.
type RollupMode string

const (
	RollupRegular RollupMode = "regular"
	RollupLong    RollupMode = "long"
)

// MemoryKind distinguishes the two per-user free-text notes.
type MemoryKind string

const (
	MemoryPersona   MemoryKind = "persona"
	MemoryWorkspace MemoryKind = "workspace"
)

var ErrNotFound = errors.New("not found")

// Conversation groups messages under an owning user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one immutable conversational turn. Ordering is by CreatedAt,
// which the store keeps strictly monotonic per conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Rollup is a compressed summary of history up to a watermark message.
// Rollups are insert-only; the latest by CreatedAt is authoritative.
type Rollup struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Mode           RollupMode `json:"mode"`
	UpToMessageID  string     `json:"up_to_message_id"`
	SummaryText    string     `json:"summary_text"`
	InputTokens    int        `json:"input_tokens"`
	OutputTokens   int        `json:"output_tokens"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Translation is a persisted translation request/result pair.
type Translation struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	InputText  string    `json:"input_text"`
	OutputText string    `json:"output_text"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists conversations, messages, rollups and user memories. All
// operations surface backend failures as errors and never retry internally;
// retry policy belongs to the caller.
type Store interface {
	CreateConversation(ctx context.Context, userID, title, model string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)

	SaveMessage(ctx context.Context, conversationID, role, content string) (Message, error)
	GetRecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
	GetAllMessages(ctx context.Context, conversationID string) ([]Message, error)
	GetLastMessageID(ctx context.Context, conversationID string) (string, error)

	GetLatestRollup(ctx context.Context, conversationID string, mode RollupMode) (*Rollup, error)
	UpsertRollup(ctx context.Context, conversationID string, mode RollupMode, upToMessageID, summaryText string, inputTokens, outputTokens int) (Rollup, error)
	CountUserTurnsSinceLastRollup(ctx context.Context, conversationID string, mode RollupMode) (int, error)

	GetMemory(ctx context.Context, userID string, kind MemoryKind) (string, error)
	SetMemory(ctx context.Context, userID string, kind MemoryKind, content string) error

	SaveTranslation(ctx context.Context, tr Translation) (Translation, error)

	Close() error
}

// countUserTurnsSince counts user-role messages strictly after the watermark
// message in an ascending slice. An empty watermark counts from the start.
func countUserTurnsSince(messages []Message, watermarkID string) int {
	start := 0
	if watermarkID != "" {
		for i, m := range messages {
			if m.ID == watermarkID {
				start = i + 1
				break
			}
		}
	}
	count := 0
	for _, m := range messages[start:] {
		if m.Role == "user" {
			count++
		}
	}
	return count
}
