package model

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Server decodes through a running llama.cpp server using its
// OpenAI-compatible streaming /v1/completions endpoint. Each streamed
// fragment is reported as one token with UnknownID.
type Server struct {
	baseURL string
	apiKey  string
	model   string
	eos     int
	client  *http.Client
}

// NewServer constructs a server-backed backend. model is passed through as
// the request's model field and may be empty.
func NewServer(baseURL, apiKey, model string, eosID int, connectTimeout time.Duration) *Server {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// No client timeout: every request carries the generation's context.
	return &Server{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		eos:     eosID,
		client:  &http.Client{Transport: tr},
	}
}

type completionRequest struct {
	Model         string  `json:"model,omitempty"`
	Prompt        string  `json:"prompt"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Temperature   float32 `json:"temperature,omitempty"`
	TopP          float32 `json:"top_p,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	Seed          int     `json:"seed,omitempty"`
	RepeatPenalty float32 `json:"repeat_penalty,omitempty"`
	Stream        bool    `json:"stream"`
}

type streamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
	// llama.cpp native streaming puts the fragment at the top level.
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (s *Server) Start(ctx context.Context, prompt string, params Params) (Session, error) {
	body, err := json.Marshal(completionRequest{
		Model:         s.model,
		Prompt:        prompt,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		Seed:          params.Seed,
		RepeatPenalty: params.RepeatPenalty,
		Stream:        true,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return &serverSession{eos: s.eos, body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

type serverSession struct {
	eos  int
	body io.ReadCloser
	r    *bufio.Reader
	done bool
}

// Step reads stream lines until it finds a text fragment or the end of the
// stream. Heartbeats and lines it cannot parse are skipped.
func (s *serverSession) Step(ctx context.Context) ([]Token, error) {
	if s.done {
		if s.eos < 0 {
			return nil, ErrExhausted
		}
		return nil, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.r.ReadString('\n')
		if frag, end := parseStreamLine(line); frag != "" || end {
			if end {
				return s.finish(frag), nil
			}
			return []Token{{ID: UnknownID, Text: frag}}, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return s.finish(""), nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}
}

// finish ends the session, emitting any trailing fragment before EOS.
func (s *serverSession) finish(frag string) []Token {
	s.done = true
	var out []Token
	if frag != "" {
		out = append(out, Token{ID: UnknownID, Text: frag})
	}
	if s.eos >= 0 {
		out = append(out, Token{ID: s.eos})
	}
	return out
}

func (s *serverSession) Close() error { return s.body.Close() }

// parseStreamLine extracts the text fragment of one SSE or NDJSON line and
// reports whether the line ends the stream.
func parseStreamLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(line), "data:") {
		line = strings.TrimSpace(line[len("data:"):])
	}
	if line == "[DONE]" {
		return "", true
	}
	var msg streamResponse
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return "", false
	}
	if len(msg.Choices) > 0 {
		c := msg.Choices[0]
		frag := c.Text
		if frag == "" {
			frag = c.Delta.Content
		}
		// finish_reason arrives before [DONE]; keep reading until then
		return frag, false
	}
	return msg.Content, msg.Stop
}
