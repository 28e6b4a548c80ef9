package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BodyShape selects how the chat payload is framed on the wire.
const (
	// ShapeEnvelope wraps the payload as {"input": ...} (RunPod runsync).
	ShapeEnvelope = "envelope"
	// ShapePlain posts the payload directly (OpenAI-style endpoints).
	ShapePlain = "plain"
)

// Config controls HTTP client construction.
type Config struct {
	URL       string
	StreamURL string
	Token     string
	Model     string
	Timeout   time.Duration
	BodyShape string
}

// Client calls a chat-completion provider over HTTP. Two upstream shapes
// exist; the client tries the configured one first and retries once with the
// alternate on a missing-required-field 400.
type Client struct {
	url       string
	streamURL string
	token     string
	model     string
	timeout   time.Duration
	bodyShape string
	client    *http.Client
	logger    *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	shape := strings.ToLower(strings.TrimSpace(cfg.BodyShape))
	if shape != ShapePlain {
		shape = ShapeEnvelope
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	streamURL := strings.TrimSpace(cfg.StreamURL)
	if streamURL == "" {
		streamURL = strings.TrimSpace(cfg.URL)
	}
	return &Client{
		url:       strings.TrimSpace(cfg.URL),
		streamURL: streamURL,
		token:     strings.TrimSpace(cfg.Token),
		model:     strings.TrimSpace(cfg.Model),
		timeout:   timeout,
		bodyShape: shape,
		// Per-call deadlines come from the request context so callers can
		// override the default; the client itself stays timeout-free.
		client: &http.Client{},
		logger: logger,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if c.url == "" {
		return CompletionResponse{}, fmt.Errorf("%w: PROVIDER_URL", ErrNotConfigured)
	}
	if req.Model == "" {
		req.Model = c.model
	}

	raw, status, err := c.post(ctx, c.url, encodeBody(req, c.bodyShape, false))
	if err != nil {
		if status == http.StatusBadRequest && isMissingFieldBody(errBody(err)) {
			alt := alternateShape(c.bodyShape)
			c.logger.Warn("provider rejected body shape, retrying alternate",
				zap.String("url", c.url), zap.String("shape", alt))
			raw, _, err = c.post(ctx, c.url, encodeBody(req, alt, false))
		}
		if err != nil {
			return CompletionResponse{}, err
		}
	}

	var obj map[string]any
	if jsonErr := json.Unmarshal(raw, &obj); jsonErr != nil {
		return CompletionResponse{}, &UpstreamError{
			Status: http.StatusOK,
			Body:   truncateBody(string(raw)),
			URL:    c.url,
		}
	}
	return CompletionResponse{
		Text:  ExtractText(obj),
		Usage: extractUsage(obj),
		Raw:   raw,
	}, nil
}

func (c *Client) StreamComplete(ctx context.Context, req CompletionRequest) (io.ReadCloser, error) {
	if c.streamURL == "" {
		return nil, fmt.Errorf("%w: PROVIDER_STREAM_URL", ErrNotConfigured)
	}
	if req.Model == "" {
		req.Model = c.model
	}

	payload := map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
		"stream":      true,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.IncludeReasoning {
		payload["include_reasoning"] = true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		ue := c.transportError(c.streamURL, err)
		c.logCall(c.streamURL, 0, "", err)
		return nil, ue
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		captured, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
		_ = res.Body.Close()
		ue := &UpstreamError{Status: res.StatusCode, Body: truncateBody(string(captured)), URL: c.streamURL}
		c.logCall(c.streamURL, res.StatusCode, ue.Body, ue)
		return nil, ue
	}
	if res.Body == nil {
		ue := &UpstreamError{Status: res.StatusCode, Body: "empty response body", URL: c.streamURL}
		c.logCall(c.streamURL, res.StatusCode, ue.Body, ue)
		return nil, ue
	}
	c.logCall(c.streamURL, res.StatusCode, "", nil)
	return res.Body, nil
}

// post sends one JSON request and returns the raw body. The returned status
// lets Complete detect retryable 400s even through the error path.
func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		ue := c.transportError(url, err)
		c.logCall(url, 0, "", err)
		return nil, 0, ue
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		ue := &UpstreamError{Status: res.StatusCode, Body: "read body: " + err.Error(), URL: url}
		c.logCall(url, res.StatusCode, ue.Body, err)
		return nil, res.StatusCode, ue
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		ue := &UpstreamError{Status: res.StatusCode, Body: truncateBody(string(raw)), URL: url}
		c.logCall(url, res.StatusCode, ue.Body, ue)
		return nil, res.StatusCode, ue
	}

	c.logCall(url, res.StatusCode, "", nil)
	return raw, res.StatusCode, nil
}

func (c *Client) transportError(url string, err error) *UpstreamError {
	body := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		body = "request aborted: " + body
	}
	return &UpstreamError{Status: 0, Body: body, URL: url}
}

func (c *Client) logCall(url string, status int, body string, err error) {
	if err != nil {
		c.logger.Warn("provider call failed",
			zap.String("url", url), zap.Int("status", status),
			zap.String("body", body), zap.Error(err))
		return
	}
	c.logger.Debug("provider call ok", zap.String("url", url), zap.Int("status", status))
}

func encodeBody(req CompletionRequest, shape string, stream bool) []byte {
	payload := map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.IncludeReasoning {
		payload["include_reasoning"] = true
	}
	if stream {
		payload["stream"] = true
	}

	var body any = payload
	if shape == ShapeEnvelope {
		body = map[string]any{"input": payload}
	}
	raw, _ := json.Marshal(body)
	return raw
}

func alternateShape(shape string) string {
	if shape == ShapeEnvelope {
		return ShapePlain
	}
	return ShapeEnvelope
}

// isMissingFieldBody detects the "missing required field" class of 400 that
// signals the other body shape is expected.
func isMissingFieldBody(body string) bool {
	b := strings.ToLower(body)
	if strings.Contains(b, "missing") && (strings.Contains(b, "required") || strings.Contains(b, "field") || strings.Contains(b, "input")) {
		return true
	}
	return strings.Contains(b, "field required") || strings.Contains(b, "unknown field")
}

func errBody(err error) string {
	if ue, ok := AsUpstream(err); ok {
		return ue.Body
	}
	return ""
}

func truncateBody(s string) string {
	const max = 4 << 10
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max]
	}
	return s
}
