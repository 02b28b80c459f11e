package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"genserve/internal/model"
	"genserve/internal/stopper"
	"genserve/pkg/types"
)

// State represents the lifecycle state of the queue.
type State string

const (
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// GenerationRequest is one unit of work. The queue copies it on submission;
// later changes by the caller are not observed.
type GenerationRequest struct {
	Session types.SessionRef
	// Prompt is the fully rendered prompt/context.
	Prompt   string
	Sampling model.Params
	// Stopping overrides the queue default when non-zero.
	Stopping stopper.Config
	// Timeout overrides the queue's RequestTimeout when positive.
	Timeout time.Duration
}

// GenerationResponse is the terminal result of a request.
type GenerationResponse struct {
	ID           string
	Session      types.SessionRef
	Text         string
	FinishReason stopper.FinishReason
	TokenCount   int
	Duration     time.Duration
}

// StreamChunk is one delivery on a streaming request. The final chunk has
// Done set and carries the finish reason, plus Err when the request ended
// with an error.
type StreamChunk struct {
	Delta        string
	Index        int
	Done         bool
	FinishReason stopper.FinishReason
	Err          error
	// Response is set on the final chunk.
	Response *GenerationResponse
}

// ChunkStream is the consumer end of a streaming request.
type ChunkStream struct {
	ID     string
	ch     chan StreamChunk
	gone   chan struct{}
	closer sync.Once
}

// Chunks returns the delivery channel. It is closed after the final chunk.
func (s *ChunkStream) Chunks() <-chan StreamChunk { return s.ch }

// Close drops the consumer end. The worker notices on its next send and
// stops the generation as a cancellation.
func (s *ChunkStream) Close() {
	s.closer.Do(func() { close(s.gone) })
}

// result is what a worker hands back through a batch completion channel.
type result struct {
	resp GenerationResponse
	err  error
}

// queuedRequest wraps a request with its admission metadata and exactly one
// response channel. Ownership passes to the worker that dequeues it.
type queuedRequest struct {
	id        string
	seq       uint64
	submitted time.Time
	deadline  time.Time
	req       GenerationRequest
	// ctx is the caller's cancellation handle.
	ctx context.Context

	done   chan result  // batch: buffered, single use
	stream *ChunkStream // streaming

	// settled is claimed once, by the worker's result or by a batch caller
	// that stopped waiting. abandoned holds that caller's Kind.
	settled   atomic.Bool
	abandoned atomic.Int32

	finished sync.Once
}

func (qr *queuedRequest) streaming() bool { return qr.stream != nil }
