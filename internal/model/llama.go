//go:build llama

package model

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
const llamaBuilt = true

// Llama owns one loaded go-llama.cpp model. Only one session may decode at a
// time; the queue's model lock guarantees that.
type Llama struct {
	model   *llama.LLama
	threads int
	eos     int
}

// NewLlama loads the model at path. eosID is the id reported for the token
// that ends a prediction, since go-llama.cpp only surfaces token text.
func NewLlama(path string, ctxSize, threads, eosID int) (*Llama, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	m, err := llama.New(path, llama.SetContext(ctxSize))
	if err != nil {
		return nil, err
	}
	return &Llama{model: m, threads: threads, eos: eosID}, nil
}

// Close frees the model.
func (l *Llama) Close() error {
	if l.model != nil {
		l.model.Free()
		l.model = nil
	}
	return nil
}

// llamaSession bridges the callback-driven Predict call to Step: Predict
// runs on its own goroutine and hands tokens over one at a time.
type llamaSession struct {
	eos    int
	tokens chan string
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (l *Llama) Start(ctx context.Context, prompt string, params Params) (Session, error) {
	if l.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &llamaSession{
		eos:    l.eos,
		tokens: make(chan string),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.model.SetTokenCallback(func(tok string) bool {
		select {
		case s.tokens <- tok:
			return true
		case <-s.stop:
			return false
		}
	})
	po := predictOptions(params, l.threads)
	go func() {
		defer close(s.done)
		_, s.err = l.model.Predict(prompt, po...)
	}()
	return s, nil
}

func (s *llamaSession) Step(ctx context.Context) ([]Token, error) {
	select {
	case tok := <-s.tokens:
		return []Token{{ID: UnknownID, Text: tok}}, nil
	case <-s.done:
		if s.err != nil {
			return nil, s.err
		}
		if s.eos < 0 {
			return nil, ErrExhausted
		}
		return []Token{{ID: s.eos}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *llamaSession) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts Params into go-llama.cpp options.
func predictOptions(params Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, params.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	return po
}
