package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"genserve/internal/model"
	"genserve/internal/stopper"
)

const testEOS = 2

// newTestQueue builds a queue over backend and shuts it down on cleanup.
func newTestQueue(t *testing.T, backend model.Backend, mutate func(*Config)) *Queue {
	t.Helper()
	cfg := Config{
		Backend:        backend,
		MaxQueueSize:   4,
		RequestTimeout: 5 * time.Second,
		GracePeriod:    200 * time.Millisecond,
		EOSTokenID:     testEOS,
		Stopping:       stopper.Config{MaxTokens: 64},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })
	return q
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// gatedBackend wraps a backend so that every session blocks on its first
// step until the gate is opened. It also tracks how many sessions are open
// at once and the order prompts arrive in.
type gatedBackend struct {
	inner   model.Backend
	gate    chan struct{}
	started chan string

	open    atomic.Int32
	maxOpen atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func newGatedBackend(inner model.Backend) *gatedBackend {
	return &gatedBackend{inner: inner, gate: make(chan struct{}), started: make(chan string, 64)}
}

func (b *gatedBackend) release() { close(b.gate) }

func (b *gatedBackend) Start(ctx context.Context, prompt string, params model.Params) (model.Session, error) {
	sess, err := b.inner.Start(ctx, prompt, params)
	if err != nil {
		return nil, err
	}
	n := b.open.Add(1)
	for {
		m := b.maxOpen.Load()
		if n <= m || b.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()
	b.started <- prompt
	return &gatedSession{b: b, inner: sess}, nil
}

func (b *gatedBackend) order() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

// waitStarted blocks until a session has started.
func (b *gatedBackend) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case p := <-b.started:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("no session started")
		return ""
	}
}

type gatedSession struct {
	b      *gatedBackend
	inner  model.Session
	passed bool
}

func (s *gatedSession) Step(ctx context.Context) ([]model.Token, error) {
	if !s.passed {
		select {
		case <-s.b.gate:
			s.passed = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.inner.Step(ctx)
}

func (s *gatedSession) Close() error {
	s.b.open.Add(-1)
	return s.inner.Close()
}

// drain reads a stream to the end and returns the deltas and final chunk.
func drain(t *testing.T, s *ChunkStream) (string, StreamChunk) {
	t.Helper()
	var text string
	var final StreamChunk
	finals := 0
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				if finals != 1 {
					t.Fatalf("expected exactly one final chunk, got %d", finals)
				}
				return text, final
			}
			text += c.Delta
			if c.Done {
				finals++
				final = c
			}
		case <-timeout:
			t.Fatalf("stream did not finish")
		}
	}
}
