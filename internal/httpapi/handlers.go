package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mkovacic/lingo/internal/auth"
	"github.com/mkovacic/lingo/internal/store"
	"github.com/mkovacic/lingo/internal/translate"
)

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
	Model  string `json:"model"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.translator.Translate(r.Context(), translate.Request{
		UserID:     userID,
		Text:       req.Text,
		SourceLang: req.Source,
		TargetLang: req.Target,
		Model:      req.Model,
	})
	if err != nil {
		if errors.Is(err, translate.ErrEmptyInput) || errors.Is(err, translate.ErrNoTargetLang) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.respondProviderError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"translated": res.Translated,
		"raw":        res.Raw,
		"id":         res.Record.ID,
	})
}

type rollupRequest struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversationId"`
	AssistantText  string `json:"assistantText"`
	LongMode       bool   `json:"longMode"`
}

func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var req rollupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	conv, err := s.store.GetConversation(r.Context(), req.ConversationID)
	if err != nil || conv.UserID != userID {
		respondError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
		return
	}

	var saved *store.Rollup
	switch req.Action {
	case "save_and_maybe_rollup":
		if strings.TrimSpace(req.AssistantText) == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "assistantText is required for save_and_maybe_rollup")
			return
		}
		saved, err = s.engine.SaveAssistantAndMaybeRollup(r.Context(), conv.ID, req.AssistantText, req.LongMode)
	case "force_rollup":
		saved, err = s.engine.ForceRollup(r.Context(), conv.ID, req.LongMode)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "action must be save_and_maybe_rollup or force_rollup")
		return
	}
	if err != nil {
		s.respondProviderError(w, err)
		return
	}

	resp := map[string]any{"ok": true}
	if saved != nil {
		resp["rollupId"] = saved.ID
		s.metrics.RollupEvents.WithLabelValues("saved").Inc()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	id := chi.URLParam(r, "id")
	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil || conv.UserID != userID {
		respondError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
		return
	}

	msgs, err := s.store.GetAllMessages(r.Context(), conv.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversationId": conv.ID,
		"messages":       msgs,
	})
}

type memoryRequest struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

func (s *Server) handleSetMemory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var req memoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var kind store.MemoryKind
	switch req.Kind {
	case "persona":
		kind = store.MemoryPersona
	case "workspace":
		kind = store.MemoryWorkspace
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "kind must be persona or workspace")
		return
	}

	if err := s.store.SetMemory(r.Context(), userID, kind, req.Content); err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
