package types

// GenerateRequest represents a generation request payload.
type GenerateRequest struct {
	// Required rendered prompt text.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Optional session this request belongs to.
	Session *SessionRef `json:"session,omitempty"`
	// If true, stream results as NDJSON lines.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Optional stop sequences. Generation stops when any sequence is matched.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
	// Random seed for reproducibility; 0 or omitted lets the server choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// Repeat penalty applied by the sampler.
	// example: 1.1
	RepeatPenalty float64 `json:"repeat_penalty,omitempty" example:"1.1"`
	// Per-request timeout override in milliseconds; 0 uses the server default.
	// example: 30000
	TimeoutMS int64 `json:"timeout_ms,omitempty" example:"30000"`
	// Optional repetition detection override.
	Repetition *RepetitionOptions `json:"repetition,omitempty"`
}

// RepetitionOptions tunes loop detection for a single request.
type RepetitionOptions struct {
	// Number of recent characters inspected.
	// example: 300
	WindowSize int `json:"window_size" example:"300"`
	// Shortest pattern considered.
	// example: 5
	MinPatternLength int `json:"min_pattern_length" example:"5"`
	// Longest pattern considered.
	// example: 100
	MaxPatternLength int `json:"max_pattern_length" example:"100"`
	// Back-to-back occurrences needed to stop.
	// example: 3
	MinRepetitions int `json:"min_repetitions" example:"3"`
	// Turns repetition detection off for this request.
	Disabled bool `json:"disabled,omitempty"`
}

// GenerateResponse is returned by POST /generate when stream is false.
type GenerateResponse struct {
	// Request identifier assigned at submission.
	// example: 0b6f7c0e-3c1f-4d8e-9a51-5e0f4f6a7a10
	ID string `json:"id" example:"0b6f7c0e-3c1f-4d8e-9a51-5e0f4f6a7a10"`
	// Generated text.
	Text string `json:"text"`
	// Why generation ended.
	// example: End of sequence token detected
	FinishReason string `json:"finish_reason" example:"End of sequence token detected"`
	// Number of generated tokens.
	// example: 42
	TokenCount int `json:"token_count" example:"42"`
	// Wall time from submission to completion in milliseconds.
	// example: 1250
	DurationMS int64 `json:"duration_ms" example:"1250"`
	// Session echoed back for the caller to persist.
	Session *SessionRef `json:"session,omitempty"`
}

// StreamLine is one NDJSON line of a streaming response.
type StreamLine struct {
	// Text produced since the previous line.
	Delta string `json:"delta,omitempty"`
	// Index of the last token in this line.
	Index int `json:"index"`
	// Set on the final line only.
	Done bool `json:"done,omitempty"`
	// Why generation ended (final line only).
	FinishReason string `json:"finish_reason,omitempty"`
	// Terminal error (final line only).
	Error string `json:"error,omitempty"`
	// Request id and total tokens (final line only).
	ID         string `json:"id,omitempty"`
	TokenCount int    `json:"token_count,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// QueueStatus is returned by GET /status.
type QueueStatus struct {
	// Lifecycle state of the queue (running, draining, stopped).
	// example: running
	State string `json:"state" example:"running"`
	// Number of workers.
	// example: 1
	Workers int `json:"workers" example:"1"`
	// Requests admitted but not yet claimed by a worker.
	// example: 0
	QueueDepth int `json:"queue_depth" example:"0"`
	// Admission capacity.
	// example: 32
	MaxQueueSize int `json:"max_queue_size" example:"32"`
	// Requests currently being decoded or delivered.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// example: 120
	Submitted uint64 `json:"submitted" example:"120"`
	// example: 110
	Completed uint64 `json:"completed" example:"110"`
	// example: 2
	Failed uint64 `json:"failed" example:"2"`
	// example: 3
	TimedOut uint64 `json:"timed_out" example:"3"`
	// example: 5
	Cancelled uint64 `json:"cancelled" example:"5"`
	// Submissions refused because the queue was full.
	// example: 7
	Rejected uint64 `json:"rejected" example:"7"`
	// Mean latency over the recent window, in milliseconds.
	// example: 850.5
	AvgLatencyMS float64 `json:"avg_latency_ms" example:"850.5"`
	// Tokens per second over the recent window.
	// example: 31.2
	TokensPerSecond float64 `json:"tokens_per_second" example:"31.2"`
	// Uptime of the queue in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}
