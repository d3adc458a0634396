package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable marks failed calls to the stats source, alert store or notifier.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse marks upstream replies that could not be parsed.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UpstreamError wraps a failed call to an external collaborator.
type UpstreamError struct {
	Upstream string
	Op       string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Upstream, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// MalformedResponseError reports a reply whose shape could not be decoded.
type MalformedResponseError struct {
	Upstream string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Upstream, e.Reason)
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }
