package model

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestScriptedEndsWithEOS(t *testing.T) {
	b := &Scripted{Tokens: ScriptFromText("hi"), EOS: 2}
	sess, err := b.Start(context.Background(), "p", Params{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Close()
	var got []Token
	for i := 0; i < 3; i++ {
		toks, err := sess.Step(context.Background())
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		got = append(got, toks...)
	}
	if len(got) != 3 || JoinText(got) != "hi" || got[2].ID != 2 {
		t.Fatalf("unexpected tokens: %+v", got)
	}
	// after EOS, steps are empty
	if toks, _ := sess.Step(context.Background()); len(toks) != 0 {
		t.Fatalf("expected empty step after EOS, got %+v", toks)
	}
	if b.Started() != 1 {
		t.Fatalf("started=%d", b.Started())
	}
}

func TestScriptedLoopAndPerStep(t *testing.T) {
	b := &Scripted{Tokens: ScriptFromText("ab"), EOS: 2, Loop: true, PerStep: 3}
	sess, _ := b.Start(context.Background(), "", Params{})
	toks, _ := sess.Step(context.Background())
	if JoinText(toks) != "aba" {
		t.Fatalf("got %q", JoinText(toks))
	}
	toks, _ = sess.Step(context.Background())
	if JoinText(toks) != "bab" {
		t.Fatalf("got %q", JoinText(toks))
	}
}

func TestScriptedRespectsContext(t *testing.T) {
	b := &Scripted{Tokens: ScriptFromText("abc"), EOS: -1, Delay: time.Second}
	sess, _ := b.Start(context.Background(), "", Params{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := sess.Step(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestLlamaStubUnavailable(t *testing.T) {
	if llamaBuilt {
		t.Skip("built with llama support")
	}
	if _, err := NewLlama("x.gguf", 512, 1, 2); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestScriptedWithoutEOSReportsExhausted(t *testing.T) {
	b := &Scripted{Tokens: ScriptFromText("a"), EOS: -1}
	sess, err := b.Start(context.Background(), "p", Params{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Close()
	if toks, err := sess.Step(context.Background()); err != nil || JoinText(toks) != "a" {
		t.Fatalf("first step: %+v %v", toks, err)
	}
	// the step that runs off the end is empty; the next one reports exhaustion
	if toks, err := sess.Step(context.Background()); err != nil || len(toks) != 0 {
		t.Fatalf("end step: %+v %v", toks, err)
	}
	if _, err := sess.Step(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}
