package rollup

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mkovacic/lingo/internal/provider"
	"github.com/mkovacic/lingo/internal/reasoning"
	"github.com/mkovacic/lingo/internal/store"
)

const (
	regularThreshold = 4
	longThreshold    = 8

	regularTargetTokens = 500
	longTargetTokens    = 1000

	// Headroom over the target so the model is not cut off mid-sentence.
	maxTokensFactor = 1.2

	summaryTemperature = 0.1

	summaryInstruction = "Summarize the conversation below. Be concise and factual. " +
		"Preserve decisions, named entities, and question/answer pairs. " +
		"Exclude any chain-of-thought or internal reasoning. Output only the summary."
)

// Engine compresses conversation history into rollup summaries once enough
// new user turns have accumulated past the last watermark.
type Engine struct {
	store     store.Store
	completer provider.Completer
	logger    *zap.Logger
}

func NewEngine(st store.Store, completer provider.Completer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, completer: completer, logger: logger}
}

// Threshold returns the user-turn count that triggers a rollup for the mode.
func Threshold(mode store.RollupMode) int {
	if mode == store.RollupLong {
		return longThreshold
	}
	return regularThreshold
}

// ModeFor maps the long-mode toggle onto a rollup bucket.
func ModeFor(longMode bool) store.RollupMode {
	if longMode {
		return store.RollupLong
	}
	return store.RollupRegular
}

// SaveAssistantAndMaybeRollup persists the assistant turn, then runs a rollup
// if the bucket's trigger fires. Invoked from the detached persistence path
// after streaming ends; summarization errors propagate to that caller.
func (e *Engine) SaveAssistantAndMaybeRollup(ctx context.Context, conversationID, assistantText string, longMode bool) (*store.Rollup, error) {
	if _, err := e.store.SaveMessage(ctx, conversationID, "assistant", assistantText); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}

	mode := ModeFor(longMode)
	turns, err := e.store.CountUserTurnsSinceLastRollup(ctx, conversationID, mode)
	if err != nil {
		return nil, fmt.Errorf("count user turns: %w", err)
	}
	if turns < Threshold(mode) {
		return nil, nil
	}
	return e.ComputeAndSaveRollup(ctx, conversationID, mode)
}

// ForceRollup compresses immediately, bypassing the turn-count trigger.
func (e *Engine) ForceRollup(ctx context.Context, conversationID string, longMode bool) (*store.Rollup, error) {
	return e.ComputeAndSaveRollup(ctx, conversationID, ModeFor(longMode))
}

// ComputeAndSaveRollup summarizes every message past the prior watermark and
// inserts a new rollup watermarked at the conversation's current last
// message. Repeated invocation with no new messages is a no-op that returns
// the prior rollup unchanged.
func (e *Engine) ComputeAndSaveRollup(ctx context.Context, conversationID string, mode store.RollupMode) (*store.Rollup, error) {
	msgs, err := e.store.GetAllMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	prior, err := e.store.GetLatestRollup(ctx, conversationID, mode)
	if err != nil {
		return nil, fmt.Errorf("load latest rollup: %w", err)
	}

	chunk := chunkAfterWatermark(msgs, prior)
	if len(chunk) == 0 {
		return prior, nil
	}

	target := regularTargetTokens
	if mode == store.RollupLong {
		target = longTargetTokens
	}

	req := provider.CompletionRequest{
		Messages:    summaryPrompt(chunk, prior),
		Temperature: summaryTemperature,
		MaxTokens:   int(float64(target) * maxTokensFactor),
	}
	resp, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("summarize chunk: %w", err)
	}

	summary := reasoning.Strip(resp.Text, false)

	// The watermark is the conversation's last message id at upsert time,
	// absorbing anything written while we were summarizing.
	lastID, err := e.store.GetLastMessageID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolve watermark: %w", err)
	}
	if lastID == "" || summary == "" {
		e.logger.Warn("rollup attempt produced nothing usable",
			zap.String("conversation_id", conversationID), zap.String("mode", string(mode)))
		return prior, nil
	}

	usage := resp.Usage
	if usage.InputTokens == 0 {
		usage.InputTokens = estimateTokens(renderChunk(chunk))
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = estimateTokens(summary)
	}

	saved, err := e.store.UpsertRollup(ctx, conversationID, mode, lastID, summary, usage.InputTokens, usage.OutputTokens)
	if err != nil {
		return nil, fmt.Errorf("save rollup: %w", err)
	}
	e.logger.Info("rollup saved",
		zap.String("conversation_id", conversationID),
		zap.String("mode", string(mode)),
		zap.String("watermark", lastID),
		zap.Int("chunk_messages", len(chunk)))
	return &saved, nil
}

// chunkAfterWatermark returns the messages strictly after the prior rollup's
// watermark; with no prior rollup the whole history is the chunk. A watermark
// that no longer matches any message yields the whole history again, which
// only over-summarizes and never loses turns.
func chunkAfterWatermark(msgs []store.Message, prior *store.Rollup) []store.Message {
	if prior == nil || prior.UpToMessageID == "" {
		return msgs
	}
	for i, m := range msgs {
		if m.ID == prior.UpToMessageID {
			return msgs[i+1:]
		}
	}
	return msgs
}

func summaryPrompt(chunk []store.Message, prior *store.Rollup) []provider.Message {
	sys := summaryInstruction
	if prior != nil && strings.TrimSpace(prior.SummaryText) != "" {
		sys += "\n\nSummary of earlier history, for context only:\n" + prior.SummaryText
	}
	return []provider.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: renderChunk(chunk)},
	}
}

func renderChunk(chunk []store.Message) string {
	var b strings.Builder
	for _, m := range chunk {
		b.WriteString("[")
		b.WriteString(m.Role)
		b.WriteString("]: ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// estimateTokens approximates token usage from word count; there is no
// tokenizer here and the accounting columns only need a rough figure.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return words * 4 / 3
}
