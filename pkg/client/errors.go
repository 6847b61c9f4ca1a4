package client

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of remote gallery errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassResponse represents a 200 response with an unreadable body.
	ErrorClassResponse ErrorClass = "response"
)

// GalleryError represents a remote gallery error with additional context.
type GalleryError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	// RetryAfter is the server supplied Retry-After delay, if any.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *GalleryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gallery %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("gallery %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *GalleryError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors will not succeed on retry
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	case ErrorClassResponse:
		// A malformed body is a server bug, not a transient failure
		return false
	default:
		return false
	}
}

// classOf returns the ErrorClass of err, or "" if err is not a *GalleryError.
func classOf(err error) ErrorClass {
	var galleryErr *GalleryError
	if errors.As(err, &galleryErr) {
		return galleryErr.ErrorClass
	}
	return ""
}

// classifyStatus categorizes a non-200 HTTP status.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
