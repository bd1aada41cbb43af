package models

import (
	"time"
)

// Error type identifiers returned in the errorType field.
const (
	ErrTooShort      = "too_short"
	ErrInvalidChars  = "invalid_characters"
	ErrMalformedJSON = "malformed_json"
	ErrAlgolia       = "algolia"
)

// ErrorResponse is the JSON envelope for every error the proxy produces
// itself (validation failures and aggregate upstream failures).
type ErrorResponse struct {
	Error     string    `json:"error"`
	ErrorType string    `json:"errorType"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewError builds an ErrorResponse stamped with the current time.
func NewError(errType, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error:     message,
		ErrorType: errType,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// HostAttempt records the outcome of one failover try against an upstream
// host: either an HTTP status (with a best-effort body excerpt) or a
// transport error.
type HostAttempt struct {
	Host   string `json:"host"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Body   string `json:"body,omitempty"`
}

// FailureDetails is attached to the aggregate 502 response when every
// candidate host has been exhausted.
type FailureDetails struct {
	Attempts []HostAttempt     `json:"attempts"`
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
}
