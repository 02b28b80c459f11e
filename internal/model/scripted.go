package model

import (
	"context"
	"sync/atomic"
	"time"
)

// Scripted replays a fixed token script. When the script runs out it emits
// the EOS token, or starts over if Loop is set. It is safe to share between
// sessions; each session keeps its own cursor.
type Scripted struct {
	Tokens []Token
	// EOS is the id emitted once the script is exhausted. Negative ids are
	// never emitted.
	EOS int
	// Loop restarts the script instead of ending it.
	Loop bool
	// PerStep is the number of tokens returned by each Step (default 1).
	PerStep int
	// Delay simulates compute time per step.
	Delay time.Duration
	// StartErr and StepErr inject failures.
	StartErr error
	StepErr  error
	// PanicAt panics inside Step when that many tokens have been produced.
	// Zero disables it.
	PanicAt int

	started atomic.Int64
}

// ScriptFromText splits text into one token per rune.
func ScriptFromText(text string) []Token {
	toks := make([]Token, 0, len(text))
	for _, c := range text {
		toks = append(toks, Token{ID: int(c) + 1000, Text: string(c)})
	}
	return toks
}

// Started returns the number of sessions started so far.
func (s *Scripted) Started() int { return int(s.started.Load()) }

func (s *Scripted) Start(ctx context.Context, prompt string, params Params) (Session, error) {
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.started.Add(1)
	per := s.PerStep
	if per <= 0 {
		per = 1
	}
	return &scriptedSession{s: s, per: per}, nil
}

type scriptedSession struct {
	s        *Scripted
	per      int
	pos      int
	produced int
	ended    bool
	closed   bool
}

func (ss *scriptedSession) Step(ctx context.Context) ([]Token, error) {
	if ss.s.Delay > 0 {
		t := time.NewTimer(ss.s.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ss.s.StepErr != nil {
		return nil, ss.s.StepErr
	}
	if ss.ended {
		if ss.s.EOS < 0 {
			return nil, ErrExhausted
		}
		return nil, nil
	}
	out := make([]Token, 0, ss.per)
	for len(out) < ss.per {
		if ss.s.PanicAt > 0 && ss.produced >= ss.s.PanicAt {
			panic("scripted backend: injected panic")
		}
		if ss.pos >= len(ss.s.Tokens) {
			if ss.s.Loop && len(ss.s.Tokens) > 0 {
				ss.pos = 0
			} else {
				if ss.s.EOS >= 0 {
					out = append(out, Token{ID: ss.s.EOS})
				}
				ss.ended = true
				break
			}
		}
		out = append(out, ss.s.Tokens[ss.pos])
		ss.pos++
		ss.produced++
	}
	return out, nil
}

func (ss *scriptedSession) Close() error {
	ss.closed = true
	return nil
}
