package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies a failure class in the mining pipeline.
type Code string

const (
	// Capture / credential errors
	CodeCaptureTimeout             Code = "CAPTURE_TIMEOUT"
	CodeCredentialCaptureFailed    Code = "CREDENTIAL_CAPTURE_FAILED"
	CodeCredentialRefreshExhausted Code = "CREDENTIAL_REFRESH_EXHAUSTED"
	CodeHashNotFound               Code = "HASH_NOT_FOUND"

	// Campaign / claim errors
	CodeClaimFailed       Code = "CLAIM_FAILED"
	CodeMalformedCampaign Code = "MALFORMED_CAMPAIGN"
	CodeStreamOffline     Code = "STREAM_OFFLINE"

	// Infrastructure errors
	CodeExternalAPI Code = "EXTERNAL_API_ERROR"
	CodeDatabase    Code = "DATABASE_ERROR"
	CodeInternal    Code = "INTERNAL_ERROR"
)

// Error is the typed application error carried through the scheduler and
// platform clients.
type Error struct {
	Code      Code                   `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches structured context to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new application error.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a new application error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error.
func Wrap(err error, code Code, message string) *Error {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

// CodeOf returns the code of err, or CodeInternal when err is not an *Error.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsFatalToCycle reports whether err should abort the current evaluation
// cycle. The scheduler still re-arms its fallback timer afterwards, so a
// fatal cycle error never takes the process down.
func IsFatalToCycle(err error) bool {
	return HasCode(err, CodeCredentialRefreshExhausted) || HasCode(err, CodeHashNotFound)
}
