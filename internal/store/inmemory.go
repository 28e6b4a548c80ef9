package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for local/dev use and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	messages      map[string][]Message
	rollups       map[string][]Rollup
	memories      map[string]string
	translations  []Translation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
		rollups:       make(map[string][]Rollup),
		memories:      make(map[string]string),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, userID, title, model string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	conv := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, conversationID, role, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing := s.messages[conversationID]
	// Keep per-conversation timestamps strictly monotonic.
	if n := len(existing); n > 0 && !now.After(existing[n-1].CreatedAt) {
		now = existing[n-1].CreatedAt.Add(time.Microsecond)
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(existing, msg)

	if conv, ok := s.conversations[conversationID]; ok {
		conv.UpdatedAt = now
		s.conversations[conversationID] = conv
	}
	return msg, nil
}

func (s *MemoryStore) GetRecentMessages(_ context.Context, conversationID string, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if n <= 0 || n > len(msgs) {
		n = len(msgs)
	}
	out := make([]Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out, nil
}

func (s *MemoryStore) GetAllMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) GetLastMessageID(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[len(msgs)-1].ID, nil
}

func (s *MemoryStore) GetLatestRollup(_ context.Context, conversationID string, mode RollupMode) (*Rollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestRollupLocked(conversationID, mode), nil
}

func (s *MemoryStore) latestRollupLocked(conversationID string, mode RollupMode) *Rollup {
	var latest *Rollup
	for i := range s.rollups[conversationID] {
		r := &s.rollups[conversationID][i]
		if r.Mode != mode {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil
	}
	out := *latest
	return &out
}

func (s *MemoryStore) UpsertRollup(_ context.Context, conversationID string, mode RollupMode, upToMessageID, summaryText string, inputTokens, outputTokens int) (Rollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev := s.latestRollupLocked(conversationID, mode); prev != nil && !now.After(prev.CreatedAt) {
		now = prev.CreatedAt.Add(time.Microsecond)
	}
	r := Rollup{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Mode:           mode,
		UpToMessageID:  upToMessageID,
		SummaryText:    summaryText,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		CreatedAt:      now,
	}
	s.rollups[conversationID] = append(s.rollups[conversationID], r)
	return r, nil
}

func (s *MemoryStore) CountUserTurnsSinceLastRollup(_ context.Context, conversationID string, mode RollupMode) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	watermark := ""
	if latest := s.latestRollupLocked(conversationID, mode); latest != nil {
		watermark = latest.UpToMessageID
	}
	return countUserTurnsSince(s.messages[conversationID], watermark), nil
}

func (s *MemoryStore) GetMemory(_ context.Context, userID string, kind MemoryKind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memories[userID+"/"+string(kind)], nil
}

func (s *MemoryStore) SetMemory(_ context.Context, userID string, kind MemoryKind, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[userID+"/"+string(kind)] = content
	return nil
}

func (s *MemoryStore) SaveTranslation(_ context.Context, tr Translation) (Translation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	s.translations = append(s.translations, tr)
	return tr, nil
}

// RollupCount reports how many rollup rows exist for a conversation and mode.
// Test helper; the race-tolerance property is about row counts, not reads.
func (s *MemoryStore) RollupCount(conversationID string, mode RollupMode) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rollups[conversationID] {
		if r.Mode == mode {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Close() error { return nil }
