package types

// Model represents a model file discovered on disk.
type Model struct {
	// Stable identifier for the model (the file name).
	// example: tinyllama-q4.gguf
	ID string `json:"id" example:"tinyllama-q4.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tinyllama-q4.gguf
	Path string `json:"path" example:"/home/user/models/tinyllama-q4.gguf"`
	// Size of the model file in bytes.
	// example: 668788096
	SizeBytes int64 `json:"size_bytes" example:"668788096"`
}

// SessionRef identifies the conversation a generation belongs to. The queue
// only reads it and hands it back in the response; persisting the result is
// the caller's job.
type SessionRef struct {
	// Session identifier owned by the session store.
	// example: 7b1f0c1e-9d7a-4c55-8f0b-0e6f2a1c9b11
	ID string `json:"id,omitempty" example:"7b1f0c1e-9d7a-4c55-8f0b-0e6f2a1c9b11"`
	// Number of turns in the session when the request was rendered.
	// example: 4
	Turn int `json:"turn,omitempty" example:"4"`
}
