// Package model defines the decode capability the queue consumes from a
// loaded model, plus the in-process backends shipped with genserve.
//
// Backends:
//
//   - Scripted: deterministic token script, used by tests and dry runs.
//   - Llama: go-llama.cpp bindings. Enabled with `-tags=llama`; without the
//     tag NewLlama fails fast with ErrBackendUnavailable.
//   - Server: a running llama.cpp server reached over its OpenAI-compatible
//     streaming completions endpoint.
package model

import (
	"context"
	"errors"
)

// UnknownID marks a token whose vocabulary id the backend cannot report.
const UnknownID = -1

// ErrBackendUnavailable signals that a backend was not compiled in or its
// runtime dependency is missing.
var ErrBackendUnavailable = errors.New("model backend unavailable")

// ErrExhausted is returned by Step once a session that emits no EOS token has
// nothing more to produce.
var ErrExhausted = errors.New("session exhausted")

// Token is one decoded token.
type Token struct {
	ID   int
	Text string
}

// Params captures sampling parameters passed to the backend.
type Params struct {
	Temperature   float32
	TopP          float32
	TopK          int
	Seed          int
	RepeatPenalty float32
	// MaxTokens is a hint; stopping is enforced by the caller.
	MaxTokens int
}

// Backend is a decode capability bound to one loaded model.
type Backend interface {
	// Start prepares a decode session for the rendered prompt.
	Start(ctx context.Context, prompt string, params Params) (Session, error)
}

// Session is the state of one generation. It is owned by a single goroutine.
type Session interface {
	// Step runs one decode pass and returns the token(s) it produced. A step
	// may produce zero tokens. Implementations must return when ctx is done.
	Step(ctx context.Context) ([]Token, error)
	// Close releases any resources associated with the session.
	Close() error
}

// JoinText concatenates the text of toks.
func JoinText(toks []Token) string {
	switch len(toks) {
	case 0:
		return ""
	case 1:
		return toks[0].Text
	}
	n := 0
	for _, t := range toks {
		n += len(t.Text)
	}
	b := make([]byte, 0, n)
	for _, t := range toks {
		b = append(b, t.Text...)
	}
	return string(b)
}
