package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mkovacic/lingo/internal/auth"
	"github.com/mkovacic/lingo/internal/config"
	"github.com/mkovacic/lingo/internal/observability"
	"github.com/mkovacic/lingo/internal/prompt"
	"github.com/mkovacic/lingo/internal/provider"
	"github.com/mkovacic/lingo/internal/rollup"
	"github.com/mkovacic/lingo/internal/store"
	"github.com/mkovacic/lingo/internal/stream"
	"github.com/mkovacic/lingo/internal/translate"
)

// Server wires the chat pipeline behind the HTTP surface.
type Server struct {
	cfg        config.Config
	store      store.Store
	gateway    provider.Gateway
	assembler  *prompt.Assembler
	engine     *rollup.Engine
	translator *translate.Service
	relay      *stream.Relay
	verifier   *auth.Verifier
	metrics    *observability.Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

func New(
	cfg config.Config,
	st store.Store,
	gateway provider.Gateway,
	assembler *prompt.Assembler,
	engine *rollup.Engine,
	translator *translate.Service,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		store:      st,
		gateway:    gateway,
		assembler:  assembler,
		engine:     engine,
		translator: translator,
		relay:      stream.NewRelay(logger),
		verifier:   auth.NewVerifier(cfg.AuthSecret),
		metrics:    metrics,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/v1/chat/stream", s.handleChatStream)
		r.Get("/v1/chat/ws", s.handleChatWS)
		r.Post("/v1/chat", s.handleChat)
		r.Post("/v1/translate", s.handleTranslate)
		r.Post("/v1/rollup", s.handleRollup)
		r.Get("/v1/conversations/{id}/messages", s.handleListMessages)
		r.Put("/v1/memory", s.handleSetMemory)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

// requireAuth resolves the bearer token into a user id on the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.verifier.UserID(r.Header.Get("Authorization"))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondProviderError maps the upstream error taxonomy onto HTTP statuses:
// missing configuration is the operator's fault (500), everything coming back
// from the provider is a 502, with aborted calls flagged separately.
func (s *Server) respondProviderError(w http.ResponseWriter, err error) {
	if errors.Is(err, provider.ErrNotConfigured) {
		s.metrics.ProviderErrors.WithLabelValues("not_configured").Inc()
		respondError(w, http.StatusInternalServerError, "provider_not_configured", err.Error())
		return
	}
	if ue, ok := provider.AsUpstream(err); ok {
		if ue.Timeout() {
			s.metrics.ProviderErrors.WithLabelValues("timeout").Inc()
			respondError(w, http.StatusBadGateway, "upstream_timeout", err.Error())
			return
		}
		s.metrics.ProviderErrors.WithLabelValues("http").Inc()
		respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	s.metrics.ProviderErrors.WithLabelValues("other").Inc()
	respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
}
