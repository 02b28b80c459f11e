package httpapi

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"genserve/internal/queue"
	"genserve/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps a service error to an HTTP status, counting backpressure.
func statusFor(err error) int {
	status := http.StatusInternalServerError
	var he HTTPError
	if errors.As(err, &he) {
		status = he.StatusCode()
	}
	if status == http.StatusTooManyRequests {
		reason := "unspecified"
		if queue.IsCapacityExceeded(err) {
			reason = "queue_full"
		}
		IncrementBackpressure(reason)
	}
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
