// Package gwerrors defines the typed error kinds the gateway returns to
// clients, and the HTTP status / JSON envelope they map to.
package gwerrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind is one of the client-visible error categories.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindModelNotFound       Kind = "model_not_found"
	KindNotFound            Kind = "not_found"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindTooLarge            Kind = "too_large"
	KindRateLimited         Kind = "rate_limited"
	KindModelUnavailable    Kind = "model_unavailable"
	KindUpstreamError       Kind = "upstream_error"
	KindInternalError       Kind = "internal_error"
)

// status maps each Kind to the HTTP status code in spec §7.
var status = map[Kind]int{
	KindInvalidRequest:      http.StatusBadRequest,
	KindUnauthorized:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindModelNotFound:       http.StatusNotFound,
	KindNotFound:            http.StatusNotFound,
	KindInsufficientCredits: http.StatusPaymentRequired,
	KindTooLarge:            http.StatusRequestEntityTooLarge,
	KindRateLimited:         http.StatusTooManyRequests,
	KindModelUnavailable:    http.StatusServiceUnavailable,
	KindUpstreamError:       http.StatusBadGateway,
	KindInternalError:       http.StatusInternalServerError,
}

// Error is a typed, client-facing gateway error. It wraps an underlying
// cause (for logs) while exposing only Message to the client envelope.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for this error's Kind.
func (e *Error) Status() int {
	if s, ok := status[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts a *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// envelope is the wire shape of every error response: §6 "Error envelope".
type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// WriteJSON writes err to w as the standard error envelope, choosing the
// status code from its Kind if err is a *Error, or 500 otherwise.
func WriteJSON(w http.ResponseWriter, err error) {
	ge, ok := As(err)
	if !ok {
		ge = &Error{Kind: KindInternalError, Message: err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.Status())
	json.NewEncoder(w).Encode(envelope{
		Error: envelopeBody{
			Message: ge.Message,
			Type:    string(ge.Kind),
		},
	})
}
