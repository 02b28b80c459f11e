package queue

import (
	"errors"
	"net/http"
)

// Kind classifies a queue error.
type Kind int

const (
	// KindCapacityExceeded: admission queue full, returned at submission.
	KindCapacityExceeded Kind = iota + 1
	// KindTimeout: the request ran past its deadline.
	KindTimeout
	// KindCancelled: caller cancellation, dropped stream consumer, or shutdown.
	KindCancelled
	// KindWorkerFailure: the worker panicked while serving the request.
	KindWorkerFailure
	// KindInferenceError: the model backend returned an error.
	KindInferenceError
	// KindConfigError: invalid queue or stopping configuration.
	KindConfigError
)

func (k Kind) String() string {
	switch k {
	case KindCapacityExceeded:
		return "capacity exceeded"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindWorkerFailure:
		return "worker failure"
	case KindInferenceError:
		return "inference error"
	case KindConfigError:
		return "config error"
	}
	return "unknown"
}

// Error is the single error type returned by the queue.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the error to an HTTP status for the API layer.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindCapacityExceeded:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return http.StatusServiceUnavailable
	case KindConfigError:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func newError(k Kind, detail string, err error) *Error {
	return &Error{Kind: k, Detail: detail, Err: err}
}

func kindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return 0
}

// IsCapacityExceeded reports whether err indicates backpressure (return 429).
func IsCapacityExceeded(err error) bool { return kindOf(err) == KindCapacityExceeded }

// IsTimeout reports whether err indicates the request deadline passed.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsCancelled reports whether the request was cancelled.
func IsCancelled(err error) bool { return kindOf(err) == KindCancelled }

// IsWorkerFailure reports whether the serving worker crashed.
func IsWorkerFailure(err error) bool { return kindOf(err) == KindWorkerFailure }

// IsInferenceError reports whether the model backend failed.
func IsInferenceError(err error) bool { return kindOf(err) == KindInferenceError }

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool { return kindOf(err) == KindConfigError }
