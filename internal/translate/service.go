package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mkovacic/lingo/internal/provider"
	"github.com/mkovacic/lingo/internal/reasoning"
	"github.com/mkovacic/lingo/internal/store"
)

var ErrEmptyInput = errors.New("translate: empty input text")
var ErrNoTargetLang = errors.New("translate: target language required")

// Request describes one translation call. Source is optional; the model
// detects the language when it is empty.
type Request struct {
	UserID     string
	Text       string
	SourceLang string
	TargetLang string
	Model      string
}

// Result carries the translated text, the provider's raw response body and
// the persisted row.
type Result struct {
	Translated string
	Raw        json.RawMessage
	Record     store.Translation
}

// Service translates text through the completion provider and persists each
// request/result pair.
type Service struct {
	store     store.Store
	completer provider.Completer
	logger    *zap.Logger
}

func NewService(st store.Store, completer provider.Completer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, completer: completer, logger: logger}
}

func (s *Service) Translate(ctx context.Context, req Request) (Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, ErrEmptyInput
	}
	target := strings.TrimSpace(req.TargetLang)
	if target == "" {
		return Result{}, ErrNoTargetLang
	}

	resp, err := s.completer.Complete(ctx, provider.CompletionRequest{
		Model:       req.Model,
		Messages:    translationPrompt(text, strings.TrimSpace(req.SourceLang), target),
		Temperature: 0.2,
		MaxTokens:   maxTokensFor(text),
	})
	if err != nil {
		return Result{}, fmt.Errorf("translate: %w", err)
	}

	translated := reasoning.Strip(resp.Text, false)
	if translated == "" {
		return Result{}, fmt.Errorf("translate: provider returned no text")
	}

	rec, err := s.store.SaveTranslation(ctx, store.Translation{
		UserID:     req.UserID,
		SourceLang: req.SourceLang,
		TargetLang: target,
		InputText:  text,
		OutputText: translated,
		Model:      req.Model,
	})
	if err != nil {
		// The user already has their translation; losing the row is a
		// logged degradation, not a request failure.
		s.logger.Warn("translation persist failed", zap.Error(err), zap.String("user_id", req.UserID))
	}

	return Result{Translated: translated, Raw: resp.Raw, Record: rec}, nil
}

func translationPrompt(text, source, target string) []provider.Message {
	sys := fmt.Sprintf("You are a professional translator. Translate the user's text into %s.", target)
	if source != "" {
		sys = fmt.Sprintf("You are a professional translator. Translate the user's text from %s into %s.", source, target)
	}
	sys += " Preserve tone, formatting and line breaks. Output only the translation."
	return []provider.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: text},
	}
}

// maxTokensFor sizes the completion budget off the input length; translations
// roughly preserve length, so a generous multiple of the input suffices.
func maxTokensFor(text string) int {
	words := len(strings.Fields(text))
	budget := words * 3
	if budget < 256 {
		budget = 256
	}
	if budget > 4096 {
		budget = 4096
	}
	return budget
}
