package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mkovacic/lingo/internal/provider"
	"github.com/mkovacic/lingo/internal/store"
)

func TestTranslateHappyPath(t *testing.T) {
	st := store.NewMemoryStore()
	gw := provider.NewMockGateway("")
	gw.ReplyFunc = func(provider.CompletionRequest) (provider.CompletionResponse, error) {
		return provider.CompletionResponse{
			Text: "Hallo Welt",
			Raw:  []byte(`{"choices":[{"message":{"content":"Hallo Welt"}}]}`),
		}, nil
	}
	svc := NewService(st, gw, nil)

	res, err := svc.Translate(context.Background(), Request{
		UserID:     "u1",
		Text:       "Hello world",
		SourceLang: "en",
		TargetLang: "de",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Translated != "Hallo Welt" {
		t.Fatalf("translated = %q", res.Translated)
	}
	if res.Record.ID == "" || res.Record.OutputText != "Hallo Welt" {
		t.Fatalf("record not persisted: %+v", res.Record)
	}
	if !strings.Contains(string(res.Raw), "Hallo Welt") {
		t.Fatalf("raw provider body missing: %q", res.Raw)
	}

	req, ok := gw.LastRequest()
	if !ok {
		t.Fatal("no provider request captured")
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("unexpected prompt shape: %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "from en into de") {
		t.Fatalf("system prompt missing languages: %q", req.Messages[0].Content)
	}
	if req.Messages[1].Content != "Hello world" {
		t.Fatalf("user message = %q", req.Messages[1].Content)
	}
}

func TestTranslateOmitsSourceWhenUnknown(t *testing.T) {
	gw := provider.NewMockGateway("bonjour")
	svc := NewService(store.NewMemoryStore(), gw, nil)

	if _, err := svc.Translate(context.Background(), Request{Text: "hi", TargetLang: "fr"}); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	req, _ := gw.LastRequest()
	if strings.Contains(req.Messages[0].Content, "from ") {
		t.Fatalf("system prompt should not name a source language: %q", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[0].Content, "into fr") {
		t.Fatalf("system prompt missing target: %q", req.Messages[0].Content)
	}
}

func TestTranslateValidation(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), provider.NewMockGateway("x"), nil)

	if _, err := svc.Translate(context.Background(), Request{Text: "  ", TargetLang: "de"}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	if _, err := svc.Translate(context.Background(), Request{Text: "hi"}); !errors.Is(err, ErrNoTargetLang) {
		t.Fatalf("err = %v, want ErrNoTargetLang", err)
	}
}

func TestTranslateStripsReasoning(t *testing.T) {
	gw := provider.NewMockGateway("<think>pondering cognates</think>hola")
	svc := NewService(store.NewMemoryStore(), gw, nil)

	res, err := svc.Translate(context.Background(), Request{Text: "hello", TargetLang: "es"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Translated != "hola" {
		t.Fatalf("translated = %q", res.Translated)
	}
}

func TestTranslateProviderError(t *testing.T) {
	gw := provider.NewMockGateway("")
	gw.Err = errors.New("boom")
	svc := NewService(store.NewMemoryStore(), gw, nil)

	if _, err := svc.Translate(context.Background(), Request{Text: "hi", TargetLang: "de"}); err == nil {
		t.Fatal("expected error")
	}
}
