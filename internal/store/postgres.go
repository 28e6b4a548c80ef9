package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversational state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages (conversation_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS rollups (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			mode TEXT NOT NULL,
			up_to_message_id TEXT NOT NULL,
			summary_text TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rollups_conv_mode_created ON rollups (conversation_id, mode, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS memories (
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS translations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source_lang TEXT NOT NULL DEFAULT '',
			target_lang TEXT NOT NULL,
			input_text TEXT NOT NULL,
			output_text TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_translations_user_created ON translations (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID, title, model string) (Conversation, error) {
	conv := Conversation{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  title,
		Model:  model,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, user_id, title, model)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		conv.ID, conv.UserID, conv.Title, conv.Model,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, model, created_at, updated_at
		   FROM conversations WHERE id=$1`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	// created_at is pushed one microsecond past the conversation's newest
	// message so ordering stays strictly monotonic even within one clock tick.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, GREATEST(
			now(),
			(SELECT COALESCE(MAX(created_at) + interval '1 microsecond', now())
			   FROM messages WHERE conversation_id=$2)
		 ))
		 RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE conversations SET updated_at=now() WHERE id=$1`, conversationID,
	); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetRecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		   FROM messages WHERE conversation_id=$1
		  ORDER BY created_at DESC LIMIT $2`,
		conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) GetAllMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		   FROM messages WHERE conversation_id=$1
		  ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query all messages: %w", err)
	}
	return scanMessages(rows)
}

func (s *PostgresStore) GetLastMessageID(ctx context.Context, conversationID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM messages WHERE conversation_id=$1
		  ORDER BY created_at DESC LIMIT 1`,
		conversationID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get last message id: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetLatestRollup(ctx context.Context, conversationID string, mode RollupMode) (*Rollup, error) {
	var r Rollup
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, mode, up_to_message_id, summary_text, input_tokens, output_tokens, created_at
		   FROM rollups WHERE conversation_id=$1 AND mode=$2
		  ORDER BY created_at DESC LIMIT 1`,
		conversationID, string(mode),
	).Scan(&r.ID, &r.ConversationID, &r.Mode, &r.UpToMessageID, &r.SummaryText, &r.InputTokens, &r.OutputTokens, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest rollup: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) UpsertRollup(ctx context.Context, conversationID string, mode RollupMode, upToMessageID, summaryText string, inputTokens, outputTokens int) (Rollup, error) {
	r := Rollup{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Mode:           mode,
		UpToMessageID:  upToMessageID,
		SummaryText:    summaryText,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
	}
	// Insert-only: concurrent rollups may race, and the latest row by
	// created_at wins on read. No locking by design.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO rollups (id, conversation_id, mode, up_to_message_id, summary_text, input_tokens, output_tokens)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		r.ID, r.ConversationID, string(r.Mode), r.UpToMessageID, r.SummaryText, r.InputTokens, r.OutputTokens,
	).Scan(&r.CreatedAt)
	if err != nil {
		return Rollup{}, fmt.Errorf("upsert rollup: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) CountUserTurnsSinceLastRollup(ctx context.Context, conversationID string, mode RollupMode) (int, error) {
	msgs, err := s.GetAllMessages(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	latest, err := s.GetLatestRollup(ctx, conversationID, mode)
	if err != nil {
		return 0, err
	}
	watermark := ""
	if latest != nil {
		watermark = latest.UpToMessageID
	}
	return countUserTurnsSince(msgs, watermark), nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, userID string, kind MemoryKind) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM memories WHERE user_id=$1 AND kind=$2`,
		userID, string(kind),
	).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get memory: %w", err)
	}
	return content, nil
}

func (s *PostgresStore) SetMemory(ctx context.Context, userID string, kind MemoryKind, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memories (user_id, kind, content, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, kind) DO UPDATE SET
			content=EXCLUDED.content,
			updated_at=EXCLUDED.updated_at`,
		userID, string(kind), content,
	)
	if err != nil {
		return fmt.Errorf("set memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTranslation(ctx context.Context, tr Translation) (Translation, error) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO translations (id, user_id, source_lang, target_lang, input_text, output_text, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tr.ID, tr.UserID, tr.SourceLang, tr.TargetLang, tr.InputText, tr.OutputText, tr.Model, tr.CreatedAt,
	)
	if err != nil {
		return Translation{}, fmt.Errorf("save translation: %w", err)
	}
	return tr, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	msgs := make([]Message, 0, 16)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}
