package stream

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DoneFunc receives the full accumulated assistant text once the upstream
// stream ends. It runs detached from the client response; the relay never
// waits on it.
type DoneFunc func(full string)

// Relay forwards a provider SSE byte stream to dst while accumulating the
// decoded assistant text server-side.
type Relay struct {
	logger *zap.Logger
}

func NewRelay(logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{logger: logger}
}

// Run copies src to dst chunk by chunk, flushing after every chunk when dst
// supports it, and decodes `data:` frames into a running text buffer. When
// src is exhausted or fails, onDone fires exactly once in its own goroutine
// with whatever text accumulated. The returned error reflects the copy only;
// the client-visible stream and the persistence path fail independently.
func (r *Relay) Run(dst io.Writer, src io.Reader, onDone DoneFunc) error {
	flusher, _ := dst.(http.Flusher)
	acc := NewAccumulator()

	buf := make([]byte, 32*1024)
	var copyErr error
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := dst.Write(chunk); werr != nil {
				// Client went away; keep draining upstream so the
				// accumulated text is still complete for persistence.
				if copyErr == nil {
					copyErr = werr
				}
				flusher = nil
				dst = io.Discard
			} else if flusher != nil {
				flusher.Flush()
			}
			acc.Feed(chunk)
		}
		if err != nil {
			if err != io.EOF && copyErr == nil {
				copyErr = err
			}
			break
		}
	}

	full := acc.Text()
	if onDone != nil {
		go onDone(full)
	}
	return copyErr
}

// Accumulator decodes OpenAI-style SSE frames into assistant text.
type Accumulator struct {
	pending strings.Builder
	text    strings.Builder
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Feed consumes raw stream bytes. Frames are delimited by blank lines; a
// partial frame is held until the boundary arrives.
func (a *Accumulator) Feed(chunk []byte) {
	a.pending.Write(chunk)
	data := a.pending.String()

	for {
		idx := frameBoundary(data)
		if idx.start < 0 {
			break
		}
		frame := data[:idx.start]
		data = data[idx.end:]
		a.consumeFrame(frame)
	}

	a.pending.Reset()
	a.pending.WriteString(data)
}

// Text flushes any trailing partial frame and returns the accumulated text.
func (a *Accumulator) Text() string {
	if rest := a.pending.String(); strings.TrimSpace(rest) != "" {
		a.consumeFrame(rest)
	}
	a.pending.Reset()
	return a.text.String()
}

func (a *Accumulator) consumeFrame(frame string) {
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var d sseDelta
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			// Keepalives and comments are not JSON; skip them.
			continue
		}
		if len(d.Choices) == 0 {
			continue
		}
		if c := d.Choices[0].Delta.Content; c != "" {
			a.text.WriteString(c)
			continue
		}
		if c := d.Choices[0].Message.Content; c != "" {
			a.text.WriteString(c)
		}
	}
}

type boundary struct {
	start, end int
}

// frameBoundary finds the first blank-line frame separator, tolerating both
// \n\n and \r\n\r\n framing.
func frameBoundary(data string) boundary {
	lf := strings.Index(data, "\n\n")
	crlf := strings.Index(data, "\r\n\r\n")
	switch {
	case lf < 0 && crlf < 0:
		return boundary{-1, -1}
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return boundary{crlf, crlf + 4}
	default:
		return boundary{lf, lf + 2}
	}
}
