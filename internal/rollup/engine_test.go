package rollup

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovacic/lingo/internal/provider"
	"github.com/mkovacic/lingo/internal/store"
)

func seedConversation(t *testing.T, st *store.MemoryStore) string {
	t.Helper()
	conv, err := st.CreateConversation(context.Background(), "u1", "test", "test-model")
	require.NoError(t, err)
	return conv.ID
}

func addTurn(t *testing.T, st *store.MemoryStore, convID, userText, assistantText string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.SaveMessage(ctx, convID, "user", userText)
	require.NoError(t, err)
	_, err = st.SaveMessage(ctx, convID, "assistant", assistantText)
	require.NoError(t, err)
}

func TestComputeOnEmptyConversation(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("summary")
	eng := NewEngine(st, gw, nil)

	r, err := eng.ComputeAndSaveRollup(context.Background(), convID, store.RollupRegular)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Empty(t, gw.Requests)
}

func TestSaveAssistantBelowThreshold(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("summary")
	eng := NewEngine(st, gw, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := st.SaveMessage(ctx, convID, "user", fmt.Sprintf("question %d", i))
		require.NoError(t, err)
		r, err := eng.SaveAssistantAndMaybeRollup(ctx, convID, fmt.Sprintf("answer %d", i), false)
		require.NoError(t, err)
		assert.Nil(t, r)
	}
	assert.Empty(t, gw.Requests)
	assert.Zero(t, st.RollupCount(convID, store.RollupRegular))
}

func TestSaveAssistantTriggersAtThreshold(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("a tidy summary")
	eng := NewEngine(st, gw, nil)

	ctx := context.Background()
	var last *store.Rollup
	for i := 0; i < 4; i++ {
		_, err := st.SaveMessage(ctx, convID, "user", fmt.Sprintf("question %d", i))
		require.NoError(t, err)
		r, err := eng.SaveAssistantAndMaybeRollup(ctx, convID, fmt.Sprintf("answer %d", i), false)
		require.NoError(t, err)
		last = r
	}

	require.NotNil(t, last)
	assert.Equal(t, "a tidy summary", last.SummaryText)
	assert.Equal(t, 1, st.RollupCount(convID, store.RollupRegular))

	// Watermark is the conversation's last message at save time.
	wantID, err := st.GetLastMessageID(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, wantID, last.UpToMessageID)

	req, ok := gw.LastRequest()
	require.True(t, ok)
	assert.Equal(t, 600, req.MaxTokens)
	assert.InDelta(t, 0.1, req.Temperature, 1e-9)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "[user]: question 0")
	assert.Contains(t, req.Messages[1].Content, "[assistant]: answer 3")
}

func TestLongModeThresholdAndBudget(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("long summary")
	eng := NewEngine(st, gw, nil)

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, err := st.SaveMessage(ctx, convID, "user", fmt.Sprintf("q%d", i))
		require.NoError(t, err)
		r, err := eng.SaveAssistantAndMaybeRollup(ctx, convID, fmt.Sprintf("a%d", i), true)
		require.NoError(t, err)
		assert.Nil(t, r, "turn %d should not trigger", i)
	}

	_, err := st.SaveMessage(ctx, convID, "user", "q7")
	require.NoError(t, err)
	r, err := eng.SaveAssistantAndMaybeRollup(ctx, convID, "a7", true)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, store.RollupLong, r.Mode)

	req, ok := gw.LastRequest()
	require.True(t, ok)
	assert.Equal(t, 1200, req.MaxTokens)
}

func TestRecomputeWithoutNewMessagesIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("summary one")
	eng := NewEngine(st, gw, nil)

	ctx := context.Background()
	addTurn(t, st, convID, "hello", "hi there")

	first, err := eng.ForceRollup(ctx, convID, false)
	require.NoError(t, err)
	require.NotNil(t, first)

	gw.Reply = "summary two"
	second, err := eng.ForceRollup(ctx, convID, false)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "summary one", second.SummaryText)
	assert.Equal(t, 1, st.RollupCount(convID, store.RollupRegular))
	assert.Len(t, gw.Requests, 1, "no-op recompute must not call the provider")
}

func TestRollupChunkExcludesSummarizedHistory(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("first summary")
	eng := NewEngine(st, gw, nil)

	ctx := context.Background()
	addTurn(t, st, convID, "old question", "old answer")
	_, err := eng.ForceRollup(ctx, convID, false)
	require.NoError(t, err)

	addTurn(t, st, convID, "new question", "new answer")
	gw.Reply = "second summary"
	r, err := eng.ForceRollup(ctx, convID, false)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "second summary", r.SummaryText)
	assert.Equal(t, 2, st.RollupCount(convID, store.RollupRegular))

	req, ok := gw.LastRequest()
	require.True(t, ok)
	assert.NotContains(t, req.Messages[1].Content, "old question")
	assert.Contains(t, req.Messages[1].Content, "new question")
	// The prior summary rides along as context, not as chunk input.
	assert.Contains(t, req.Messages[0].Content, "first summary")
}

func TestRollupStripsReasoningFromSummary(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("<think>let me condense</think>clean summary")
	eng := NewEngine(st, gw, nil)

	addTurn(t, st, convID, "q", "a")
	r, err := eng.ForceRollup(context.Background(), convID, false)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "clean summary", r.SummaryText)
}

func TestEmptySummaryKeepsPriorRollup(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("good summary")
	eng := NewEngine(st, gw, nil)

	ctx := context.Background()
	addTurn(t, st, convID, "q1", "a1")
	first, err := eng.ForceRollup(ctx, convID, false)
	require.NoError(t, err)
	require.NotNil(t, first)

	addTurn(t, st, convID, "q2", "a2")
	gw.Reply = "   "
	second, err := eng.ForceRollup(ctx, convID, false)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, st.RollupCount(convID, store.RollupRegular))
}

func TestProviderFailurePropagates(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("")
	gw.Err = fmt.Errorf("upstream down")
	eng := NewEngine(st, gw, nil)

	addTurn(t, st, convID, "q", "a")
	_, err := eng.ForceRollup(context.Background(), convID, false)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "summarize chunk"))
	assert.Zero(t, st.RollupCount(convID, store.RollupRegular))
}

func TestModesKeepIndependentWatermarks(t *testing.T) {
	st := store.NewMemoryStore()
	convID := seedConversation(t, st)
	gw := provider.NewMockGateway("summary")
	eng := NewEngine(st, gw, nil)

	ctx := context.Background()
	addTurn(t, st, convID, "q", "a")

	_, err := eng.ForceRollup(ctx, convID, false)
	require.NoError(t, err)

	// The long bucket has no watermark yet, so it summarizes the same turns.
	r, err := eng.ForceRollup(ctx, convID, true)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, store.RollupLong, r.Mode)
	assert.Equal(t, 1, st.RollupCount(convID, store.RollupRegular))
	assert.Equal(t, 1, st.RollupCount(convID, store.RollupLong))
}
