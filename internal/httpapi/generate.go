package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"genserve/internal/model"
	"genserve/internal/queue"
	"genserve/internal/stopper"
	"genserve/pkg/types"
)

// generateHandler serves POST /generate.
//
// @Summary      Generate text
// @Description  Runs one generation through the request queue. With "stream": true the
// @Description  response is NDJSON: one line per decoded delta, then a final line with done=true.
// @Tags         generate
// @Accept       json
// @Produce      json
// @Produce      application/x-ndjson
// @Param        request  body      types.GenerateRequest  true  "Generation request"
// @Success      200      {object}  types.GenerateResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /generate [post]
func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		if req.TimeoutMS < 0 {
			writeJSONError(w, http.StatusBadRequest, "timeout_ms must not be negative")
			return
		}
		greq := toGenerationRequest(req, svc.DefaultStopping())

		lvl := requestLogLevel(r)
		start := time.Now()
		logRequest(r, lvl, "generate start", 0, start, nil)

		ctx, cancel := generateContext(r.Context(), shutdownCtx)
		defer cancel()

		if !req.Stream {
			resp, err := svc.Submit(ctx, greq)
			observeGenerate(false, err)
			if err != nil {
				status := statusFor(err)
				writeJSONError(w, status, err.Error())
				logRequest(r, lvl, "generate end", status, start, err)
				return
			}
			writeJSON(w, http.StatusOK, toGenerateResponse(resp))
			logRequest(r, lvl, "generate end", http.StatusOK, start, nil)
			return
		}

		stream, err := svc.SubmitStream(ctx, greq)
		if err != nil {
			observeGenerate(true, err)
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			logRequest(r, lvl, "generate end", status, start, err)
			return
		}
		defer stream.Close()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{requestID: middleware.GetReqID(r.Context())})
		}
		enc := json.NewEncoder(writer)
		var final error
		for c := range stream.Chunks() {
			if err := enc.Encode(toStreamLine(c)); err != nil {
				// client gone; Close cancels the request
				generateResults.WithLabelValues("stream", "client_gone").Inc()
				logRequest(r, lvl, "generate end", http.StatusOK, start, err)
				return
			}
			streamLines.Inc()
			if flush != nil {
				flush()
			}
			if c.Done {
				final = c.Err
			}
		}
		observeGenerate(true, final)
		logRequest(r, lvl, "generate end", http.StatusOK, start, final)
	}
}

// toGenerationRequest overlays the request's stopping fields on the queue
// defaults. A non-zero max_tokens replaces the default, so a negative value
// reaches validation and fails with 400.
func toGenerationRequest(req types.GenerateRequest, defaults stopper.Config) queue.GenerationRequest {
	stop := defaults
	stop.Stop = append([]string(nil), defaults.Stop...)
	if req.MaxTokens != 0 {
		stop.MaxTokens = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		stop.Stop = append([]string(nil), req.Stop...)
	}
	if rep := req.Repetition; rep != nil {
		if rep.Disabled {
			stop.WindowSize = 0
		} else {
			if rep.WindowSize != 0 {
				stop.WindowSize = rep.WindowSize
			}
			if rep.MinPatternLength != 0 {
				stop.MinPatternLength = rep.MinPatternLength
			}
			if rep.MaxPatternLength != 0 {
				stop.MaxPatternLength = rep.MaxPatternLength
			}
			if rep.MinRepetitions != 0 {
				stop.MinRepetitions = rep.MinRepetitions
			}
		}
	}
	timeout := req.TimeoutMS
	if generateTimeoutMS > 0 && (timeout == 0 || timeout > generateTimeoutMS) {
		timeout = generateTimeoutMS
	}
	g := queue.GenerationRequest{
		Prompt: req.Prompt,
		Sampling: model.Params{
			Temperature:   float32(req.Temperature),
			TopP:          float32(req.TopP),
			TopK:          req.TopK,
			Seed:          int(req.Seed),
			RepeatPenalty: float32(req.RepeatPenalty),
		},
		Stopping: stop,
		Timeout:  time.Duration(timeout) * time.Millisecond,
	}
	if req.Session != nil {
		g.Session = *req.Session
	}
	return g
}

func toGenerateResponse(resp queue.GenerationResponse) types.GenerateResponse {
	out := types.GenerateResponse{
		ID:           resp.ID,
		Text:         resp.Text,
		FinishReason: resp.FinishReason.Description,
		TokenCount:   resp.TokenCount,
		DurationMS:   resp.Duration.Milliseconds(),
	}
	if resp.Session != (types.SessionRef{}) {
		s := resp.Session
		out.Session = &s
	}
	return out
}

func toStreamLine(c queue.StreamChunk) types.StreamLine {
	line := types.StreamLine{
		Delta:        c.Delta,
		Index:        c.Index,
		Done:         c.Done,
		FinishReason: c.FinishReason.Description,
	}
	if c.Err != nil {
		line.Error = c.Err.Error()
	}
	if c.Response != nil {
		line.ID = c.Response.ID
		line.TokenCount = c.Response.TokenCount
	}
	return line
}
