package provider

import (
	"context"
	"io"
	"strings"
	"sync"
)

// MockGateway is an in-process provider for tests and dev mode.
type MockGateway struct {
	mu sync.Mutex

	Reply     string
	ReplyFunc func(req CompletionRequest) (CompletionResponse, error)
	StreamSSE string
	Err       error

	Requests []CompletionRequest
}

func NewMockGateway(reply string) *MockGateway {
	return &MockGateway{Reply: reply}
}

func (m *MockGateway) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.Err != nil {
		return CompletionResponse{}, m.Err
	}
	if m.ReplyFunc != nil {
		return m.ReplyFunc(req)
	}
	return CompletionResponse{Text: m.Reply}, nil
}

func (m *MockGateway) StreamComplete(_ context.Context, req CompletionRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return io.NopCloser(strings.NewReader(m.StreamSSE)), nil
}

// LastRequest returns the most recent captured request, if any.
func (m *MockGateway) LastRequest() (CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return CompletionRequest{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}
