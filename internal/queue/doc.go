// Package queue is the serving core for a single loaded model: admission,
// the worker pool, the decode loop and result routing. It is structured into
// small files by concern:
//
//   - queue.go: Queue type, New, Submit/SubmitStream, admission, status.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: request/response types, StreamChunk, ChunkStream.
//   - errors.go: Error and Kind, plus IsXxx helpers (IsCapacityExceeded, ...).
//   - worker.go: worker goroutines, panic isolation, the decode loop.
//   - shutdown.go: graceful drain and worker join.
//   - metrics.go: atomic counters, rolling latency window, Prometheus collectors.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//
// Model access: only the worker holding modelLock may call into the backend,
// and it holds the lock from session start to session close. With the default
// single worker the lock is never contended.
//
// Stopping: every claimed request gets a fresh stopper.Pipeline, consulted
// after each decode step. Cancellation, the request deadline and a dropped
// stream consumer are checked between steps; nothing is preempted.
package queue
