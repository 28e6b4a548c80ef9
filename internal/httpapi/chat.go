package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkovacic/lingo/internal/auth"
	"github.com/mkovacic/lingo/internal/prompt"
	"github.com/mkovacic/lingo/internal/provider"
	"github.com/mkovacic/lingo/internal/reasoning"
	"github.com/mkovacic/lingo/internal/rollup"
	"github.com/mkovacic/lingo/internal/store"
)

type chatRequest struct {
	ConversationID string             `json:"conversationId"`
	Message        string             `json:"message"`
	Messages       []provider.Message `json:"messages"`
	System         string             `json:"system"`
	Mode           string             `json:"mode"`
	LongMode       bool               `json:"longMode"`
	UseNet         bool               `json:"useNet"`
	KeepReasoning  bool               `json:"keepReasoning"`
	Temperature    float64            `json:"temperature"`
	Model          string             `json:"model"`
}

type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) write(w http.ResponseWriter) {
	respondError(w, e.status, e.code, e.message)
}

type preparedChat struct {
	conversation store.Conversation
	request      provider.CompletionRequest
	result       prompt.Result
	longMode     bool
	keep         bool
}

// prepareChat runs the shared front half of every chat endpoint: resolve the
// conversation, persist the user turn, assemble the prompt.
func (s *Server) prepareChat(ctx context.Context, userID string, req chatRequest) (preparedChat, *apiError) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				msg = strings.TrimSpace(req.Messages[i].Content)
				break
			}
		}
	}
	if msg == "" {
		return preparedChat{}, &apiError{http.StatusBadRequest, "invalid_request", "message is required"}
	}

	var conv store.Conversation
	var err error
	if strings.TrimSpace(req.ConversationID) == "" {
		conv, err = s.store.CreateConversation(ctx, userID, titleFrom(msg), req.Model)
		if err != nil {
			return preparedChat{}, &apiError{http.StatusInternalServerError, "storage_error", err.Error()}
		}
	} else {
		conv, err = s.store.GetConversation(ctx, req.ConversationID)
		if err != nil || conv.UserID != userID {
			return preparedChat{}, &apiError{http.StatusNotFound, "conversation_not_found", "conversation not found"}
		}
	}

	saved, err := s.store.SaveMessage(ctx, conv.ID, "user", msg)
	if err != nil {
		return preparedChat{}, &apiError{http.StatusInternalServerError, "storage_error", err.Error()}
	}

	history, aerr := s.chatHistory(ctx, conv.ID, req, saved.ID)
	if aerr != nil {
		return preparedChat{}, aerr
	}

	persona, _ := s.store.GetMemory(ctx, userID, store.MemoryPersona)
	workspace, _ := s.store.GetMemory(ctx, userID, store.MemoryWorkspace)

	summary := ""
	if r, err := s.store.GetLatestRollup(ctx, conv.ID, rollup.ModeFor(req.LongMode)); err == nil && r != nil {
		summary = r.SummaryText
	}

	res := s.assembler.Assemble(ctx, prompt.Input{
		Message:   msg,
		System:    req.System,
		History:   history,
		Persona:   persona,
		Workspace: workspace,
		Summary:   summary,
		Mode:      req.Mode,
		UseNet:    req.UseNet,
		LongMode:  req.LongMode,
	})
	s.metrics.SearchResults.Observe(float64(len(res.Sources)))

	return preparedChat{
		conversation: conv,
		request: provider.CompletionRequest{
			Model:            req.Model,
			Messages:         res.Messages,
			Temperature:      req.Temperature,
			MaxTokens:        prompt.MaxTokens(req.Mode, req.LongMode),
			IncludeReasoning: res.IsThinking,
		},
		result:   res,
		longMode: req.LongMode,
		keep:     req.KeepReasoning,
	}, nil
}

// chatHistory prefers the transcript the client sent; otherwise it reloads
// recent turns from the store, excluding the user message just persisted.
func (s *Server) chatHistory(ctx context.Context, convID string, req chatRequest, savedUserMsgID string) ([]provider.Message, *apiError) {
	if len(req.Messages) > 0 {
		history := req.Messages
		if last := history[len(history)-1]; last.Role == "user" {
			history = history[:len(history)-1]
		}
		return history, nil
	}

	window := 8
	if req.LongMode {
		window = 16
	}
	recent, err := s.store.GetRecentMessages(ctx, convID, window+1)
	if err != nil {
		return nil, &apiError{http.StatusInternalServerError, "storage_error", err.Error()}
	}
	history := make([]provider.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID == savedUserMsgID {
			continue
		}
		history = append(history, provider.Message{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	prep, aerr := s.prepareChat(r.Context(), userID, req)
	if aerr != nil {
		s.metrics.ChatRequests.WithLabelValues("stream", "rejected").Inc()
		aerr.write(w)
		return
	}

	body, err := s.gateway.StreamComplete(r.Context(), prep.request)
	if err != nil {
		s.metrics.ChatRequests.WithLabelValues("stream", "upstream_error").Inc()
		s.respondProviderError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Tell the client which conversation it landed in before provider bytes.
	fmt.Fprintf(w, "event: meta\ndata: {\"conversationId\":%q}\n\n", prep.conversation.ID)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	start := time.Now()
	convID := prep.conversation.ID
	relayErr := s.relay.Run(w, body, func(full string) {
		s.persistAssistant(convID, full, prep.keep, prep.longMode)
	})
	s.metrics.ObserveStreamDuration(time.Since(start))

	if relayErr != nil {
		s.metrics.ChatRequests.WithLabelValues("stream", "client_gone").Inc()
		return
	}
	s.metrics.ChatRequests.WithLabelValues("stream", "ok").Inc()
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	prep, aerr := s.prepareChat(r.Context(), userID, req)
	if aerr != nil {
		s.metrics.ChatRequests.WithLabelValues("chat", "rejected").Inc()
		aerr.write(w)
		return
	}

	resp, err := s.gateway.Complete(r.Context(), prep.request)
	if err != nil {
		s.metrics.ChatRequests.WithLabelValues("chat", "upstream_error").Inc()
		s.respondProviderError(w, err)
		return
	}

	reply := reasoning.Strip(resp.Text, prep.keep)
	if _, err := s.engine.SaveAssistantAndMaybeRollup(r.Context(), prep.conversation.ID, reply, prep.longMode); err != nil {
		// The reply is already in hand; persistence failure degrades, not fails.
		s.metrics.PersistFailures.Inc()
		s.logger.Warn("assistant persist failed", zap.Error(err), zap.String("conversation_id", prep.conversation.ID))
	}

	s.metrics.ChatRequests.WithLabelValues("chat", "ok").Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"conversationId": prep.conversation.ID,
		"reply":          reply,
		"sources":        prep.result.Sources,
	})
}

// persistAssistant runs on the detached post-stream path: it owns its own
// context and never lets a panic or error reach the response goroutine.
func (s *Server) persistAssistant(convID, full string, keepReasoning, longMode bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.PersistFailures.Inc()
			s.logger.Error("panic in assistant persist", zap.Any("panic", rec), zap.String("conversation_id", convID))
		}
	}()

	text := reasoning.Strip(full, keepReasoning)
	if text == "" {
		s.logger.Warn("stream produced no persistable text", zap.String("conversation_id", convID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	saved, err := s.engine.SaveAssistantAndMaybeRollup(ctx, convID, text, longMode)
	if err != nil {
		s.metrics.PersistFailures.Inc()
		s.logger.Warn("post-stream persist failed", zap.Error(err), zap.String("conversation_id", convID))
		return
	}
	if saved != nil {
		s.metrics.RollupEvents.WithLabelValues("saved").Inc()
	}
}

// titleFrom derives a conversation title from the opening message.
func titleFrom(msg string) string {
	words := strings.Fields(msg)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}
