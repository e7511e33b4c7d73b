package tools

import (
	"errors"
	"fmt"
)

// Status tags a Result as success or error. There is no third state.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorKind is the closed set of dispatcher error classifications.
// Nothing else is ever returned across the tool-call boundary.
type ErrorKind string

const (
	KindUnknownTool         ErrorKind = "unknown_tool"
	KindInvalidArguments    ErrorKind = "invalid_arguments"
	KindEffectorUnavailable ErrorKind = "effector_unavailable"
	KindEffectorTimeout     ErrorKind = "effector_timeout"
	KindEffectorFailed      ErrorKind = "effector_failed"
	KindUpstreamRejected    ErrorKind = "upstream_rejected"
)

// Result is the tagged variant every tool call resolves to: success with
// data, or error with a kind from the closed set. Never both.
type Result struct {
	Status Status         `json:"status"`
	Data   map[string]any `json:"result_data,omitempty"`
	Err    *Error         `json:"error,omitempty"`
}

// Error carries the typed failure surfaced to callers.
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Success builds a success result. A nil data map is normalized to an
// empty object so the wire shape always carries result_data.
func Success(data map[string]any) *Result {
	if data == nil {
		data = map[string]any{}
	}
	return &Result{Status: StatusSuccess, Data: data}
}

// Failure builds an error result with the given kind and message.
func Failure(kind ErrorKind, message string) *Result {
	return &Result{Status: StatusError, Err: &Error{Kind: kind, Message: message}}
}

// Failuref builds an error result with a formatted message.
func Failuref(kind ErrorKind, format string, args ...any) *Result {
	return Failure(kind, fmt.Sprintf(format, args...))
}

// FailureDetail builds an error result carrying a detail bag.
func FailureDetail(kind ErrorKind, message string, detail map[string]any) *Result {
	return &Result{Status: StatusError, Err: &Error{Kind: kind, Message: message, Detail: detail}}
}

// OK reports whether the result is a success.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// ErrUnavailable marks an effector that cannot be reached at all
// (connection refused, missing binary, unconfigured upstream). The
// dispatcher classifies it as effector_unavailable.
var ErrUnavailable = errors.New("effector unavailable")

// UpstreamError reports a downstream service that answered with a
// rejection. The dispatcher classifies it as upstream_rejected and
// surfaces the status code in the error detail.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream rejected request with status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream rejected request with status %d: %s", e.StatusCode, e.Body)
}
