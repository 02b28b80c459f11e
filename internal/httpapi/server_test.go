package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"genserve/internal/model"
	"genserve/internal/queue"
	"genserve/internal/stopper"
	"genserve/pkg/types"
)

const testEOS = 2

// newTestService serves the API from a real queue over backend.
func newTestService(t *testing.T, backend model.Backend, mutate func(*queue.Config)) QueueService {
	t.Helper()
	cfg := queue.Config{
		Backend:        backend,
		MaxQueueSize:   4,
		RequestTimeout: 5 * time.Second,
		GracePeriod:    100 * time.Millisecond,
		EOSTokenID:     testEOS,
		Stopping:       stopper.Config{MaxTokens: 64},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := queue.New(cfg)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })
	return QueueService{Queue: q, Models: []types.Model{{ID: "m1"}, {ID: "m2"}}}
}

func scripted(text string) *model.Scripted {
	return &model.Scripted{Tokens: model.ScriptFromText(text), EOS: testEOS}
}

func postGenerate(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestModelsHandler(t *testing.T) {
	r := NewMux(newTestService(t, scripted("x"), nil))
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Models) != 2 {
		t.Fatalf("models len=%d", len(body.Models))
	}
}

func TestStatusHandler(t *testing.T) {
	svc := newTestService(t, scripted("hi"), nil)
	r := NewMux(svc)
	if w := postGenerate(t, r, `{"prompt":"p"}`); w.Code != http.StatusOK {
		t.Fatalf("generate status=%d", w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.QueueStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.State != "running" || body.Completed != 1 || body.MaxQueueSize != 4 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	svc := newTestService(t, scripted("x"), nil)
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "draining") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	r := NewMux(newTestService(t, scripted("x"), nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGenerateBatch(t *testing.T) {
	r := NewMux(newTestService(t, scripted("hello"), nil))
	w := postGenerate(t, r, `{"prompt":"say hello","session":{"id":"s1","turn":2}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Text != "hello" || body.TokenCount != 6 || body.FinishReason != stopper.ReasonEOS {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.ID == "" || body.Session == nil || body.Session.ID != "s1" || body.Session.Turn != 2 {
		t.Fatalf("unexpected ids: %+v", body)
	}
}

func TestGenerateStreams(t *testing.T) {
	r := NewMux(newTestService(t, scripted("abc"), nil))
	w := postGenerate(t, r, `{"prompt":"hi","stream":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type=%s", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 ndjson lines, got %d: %q", len(lines), lines)
	}
	var text strings.Builder
	for i, l := range lines {
		var sl types.StreamLine
		if err := json.Unmarshal([]byte(l), &sl); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if i < len(lines)-1 {
			if sl.Done {
				t.Fatalf("early done on line %d", i)
			}
			text.WriteString(sl.Delta)
			continue
		}
		if !sl.Done || sl.FinishReason != stopper.ReasonEOS || sl.TokenCount != 4 || sl.ID == "" || sl.Error != "" {
			t.Fatalf("bad final line: %+v", sl)
		}
	}
	if text.String() != "abc" {
		t.Fatalf("deltas=%q", text.String())
	}
}

func TestGenerateMaxTokensAndStop(t *testing.T) {
	b := &model.Scripted{Tokens: model.ScriptFromText("one two END three"), EOS: testEOS}
	r := NewMux(newTestService(t, b, nil))

	w := postGenerate(t, r, `{"prompt":"p","max_tokens":3}`)
	var body types.GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Text != "one" || body.FinishReason != stopper.ReasonMaxTokens {
		t.Fatalf("max tokens: %+v", body)
	}

	w = postGenerate(t, r, `{"prompt":"p","stop":["END"]}`)
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.FinishReason != "Stop sequence detected: END" || body.Text != "one two " {
		t.Fatalf("stop: %+v", body)
	}
}

func TestGenerateStreamEndsWithDoneLineOnShutdown(t *testing.T) {
	b := &model.Scripted{Tokens: model.ScriptFromText("x"), EOS: testEOS, Loop: true, Delay: 2 * time.Millisecond}
	svc := newTestService(t, b, func(c *queue.Config) {
		c.GracePeriod = 20 * time.Millisecond
		c.StreamBuffer = 64
		c.Stopping = stopper.Config{MaxTokens: 100000}
	})
	r := NewMux(svc)
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- postGenerate(t, r, `{"prompt":"p","stream":true}`) }()
	deadline := time.Now().Add(2 * time.Second)
	for svc.Queue.Metrics().Inflight == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	if err := svc.Queue.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	var w *httptest.ResponseRecorder
	select {
	case w = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after shutdown")
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	var last types.StreamLine
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("last line: %v", err)
	}
	if !last.Done || last.Error == "" || last.FinishReason != stopper.ReasonShutdown {
		t.Fatalf("bad last line: %+v", last)
	}
}

func TestGenerateBadJSON(t *testing.T) {
	r := NewMux(newTestService(t, scripted("x"), nil))
	if w := postGenerate(t, r, "not-json"); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGenerateUnsupportedMediaType(t *testing.T) {
	r := NewMux(newTestService(t, scripted("x"), nil))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "text/plain")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGenerateBodyTooLarge(t *testing.T) {
	r := NewMux(newTestService(t, scripted("x"), nil))
	big := `{"prompt":"` + strings.Repeat("a", (1<<20)+10) + `"}`
	if w := postGenerate(t, r, big); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too-large body, got %d", w.Code)
	}
}

func TestGeneratePromptRequired(t *testing.T) {
	r := NewMux(newTestService(t, scripted("x"), nil))
	if w := postGenerate(t, r, `{"prompt":"   "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing prompt, got %d", w.Code)
	}
}

func TestGenerateInvalidStoppingIs400(t *testing.T) {
	r := NewMux(newTestService(t, scripted("x"), nil))
	for _, body := range []string{
		`{"prompt":"p","max_tokens":-1}`,
		`{"prompt":"p","repetition":{"window_size":4,"min_pattern_length":3,"min_repetitions":3}}`,
		`{"prompt":"p","timeout_ms":-5}`,
	} {
		w := postGenerate(t, r, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, w.Code)
		}
		var e types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Code != http.StatusBadRequest {
			t.Fatalf("error body: %q %v", w.Body.String(), err)
		}
	}
}

func TestContentTypeCaseInsensitive(t *testing.T) {
	r := NewMux(newTestService(t, scripted("x"), nil))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "Application/JSON; charset=utf-8")
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with mixed-case content-type, got %d", rec.Code)
	}
}
