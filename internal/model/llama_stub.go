//go:build !llama

package model

// This file is compiled when the 'llama' build tag is NOT set, keeping
// default builds and CI CGO-free.

import (
	"context"
	"fmt"
)

const llamaBuilt = false

// Llama is a stub that refuses to load anything without the 'llama' tag.
type Llama struct{}

func NewLlama(path string, ctxSize, threads, eosID int) (*Llama, error) {
	return nil, fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", ErrBackendUnavailable)
}

func (l *Llama) Close() error { return nil }

func (l *Llama) Start(ctx context.Context, prompt string, params Params) (Session, error) {
	return nil, fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", ErrBackendUnavailable)
}
