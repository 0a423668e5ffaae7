// Package errors provides categorized error handling for modeldock.
package errors

import (
	"errors"
	"strings"
)

// ============================================================
// Error Kinds
// ============================================================

// Kind classifies a failure for recovery decisions.
type Kind int

const (
	// KindUnknown is any failure no other kind matches. Gets one blind retry.
	KindUnknown Kind = iota

	// KindRateLimited is upstream download rate limiting (HTTP 429).
	KindRateLimited

	// KindCacheCorrupt is a corrupted or partial download in the cache store.
	KindCacheCorrupt

	// KindNetworkFailure is transient connectivity loss.
	KindNetworkFailure

	// KindOutOfMemory means the device cannot hold the model. Never retried.
	KindOutOfMemory

	// KindUnknownModel is a request for a model id outside the catalog.
	KindUnknownModel

	// KindCanceled means the caller gave up on the operation.
	KindCanceled
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindRateLimited:
		return "rate_limited"
	case KindCacheCorrupt:
		return "cache_corrupt"
	case KindNetworkFailure:
		return "network_failure"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindUnknownModel:
		return "unknown_model"
	case KindCanceled:
		return "canceled"
	default:
		return "invalid"
	}
}

// ============================================================
// AppError - Main Error Type
// ============================================================

// AppError is the main error type for all modeldock errors.
type AppError struct {
	// Code is a unique error code for programmatic handling
	Code string

	// Message is a user-friendly error message
	Message string

	// Kind determines how the error should be handled.
	// Classified is false when Kind was never set explicitly.
	Kind       Kind
	Classified bool

	// Inner is the underlying error
	Inner error

	// Retryable indicates if the operation can be retried
	Retryable bool

	// Suggestions are recovery suggestions for the user
	Suggestions []string
}

// Error returns the error message.
func (e *AppError) Error() string {
	var sb strings.Builder

	if e.Code != "" {
		sb.WriteString("[")
		sb.WriteString(e.Code)
		sb.WriteString("] ")
	}

	sb.WriteString(e.Message)

	if e.Inner != nil {
		innerMsg := e.Inner.Error()
		if innerMsg != "" && innerMsg != e.Message {
			sb.WriteString(": ")
			sb.WriteString(innerMsg)
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Inner
}

// ============================================================
// Error Constructors
// ============================================================

// New creates a new AppError of the given kind.
func New(code, message string, kind Kind) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Kind:       kind,
		Classified: true,
	}
}

// Wrap wraps an existing error with context. The kind of an inner
// AppError is preserved.
func Wrap(err error, code, message string) *AppError {
	if err == nil {
		return nil
	}

	var inner *AppError
	if errors.As(err, &inner) {
		return &AppError{
			Code:        code,
			Message:     message,
			Kind:        inner.Kind,
			Classified:  inner.Classified,
			Inner:       err,
			Retryable:   inner.Retryable,
			Suggestions: inner.Suggestions,
		}
	}

	return &AppError{
		Code:    code,
		Message: message,
		Inner:   err,
	}
}

// UnknownModel creates the fatal error for an id outside the catalog.
func UnknownModel(modelID string) *AppError {
	return &AppError{
		Code:       CodeModelUnknown,
		Message:    "unknown model id " + modelID,
		Kind:       KindUnknownModel,
		Classified: true,
		Suggestions: []string{
			"Pick a model from the catalog (modeldock models)",
		},
	}
}

// ============================================================
// Builder Pattern for Fluent Error Construction
// ============================================================

// Builder provides fluent error construction.
type Builder struct {
	err *AppError
}

// NewBuilder starts building a new error.
func NewBuilder(code, message string) *Builder {
	return &Builder{
		err: &AppError{
			Code:    code,
			Message: message,
		},
	}
}

// Kind sets a structured kind, which wins over message sniffing.
func (b *Builder) Kind(kind Kind) *Builder {
	b.err.Kind = kind
	b.err.Classified = true
	return b
}

// Retryable marks the error as retryable.
func (b *Builder) Retryable() *Builder {
	b.err.Retryable = true
	return b
}

// Wrap sets the underlying error.
func (b *Builder) Wrap(err error) *Builder {
	b.err.Inner = err
	return b
}

// WithSuggestion adds a recovery suggestion.
func (b *Builder) WithSuggestion(suggestion string) *Builder {
	b.err.Suggestions = append(b.err.Suggestions, suggestion)
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *AppError {
	return b.err
}

// ============================================================
// Error Codes
// ============================================================

const (
	// Model errors
	CodeModelUnknown    = "MODEL_UNKNOWN"
	CodeModelLoadFailed = "MODEL_LOAD_FAILED"
	CodeModelCanceled   = "MODEL_LOAD_CANCELED"
	CodeModelRateLimit  = "MODEL_RATE_LIMIT"
	CodeModelNoSession  = "MODEL_NO_SESSION"

	// Engine errors
	CodeEngineRequest  = "ENGINE_REQUEST_FAILED"
	CodeEngineResponse = "ENGINE_INVALID_RESPONSE"

	// Chat errors
	CodeChatFailed = "CHAT_FAILED"
	CodeChatBusy   = "CHAT_BUSY"

	// Storage errors
	CodeStoreFailed = "STORE_FAILED"

	// Config errors
	CodeConfigInvalid = "CONFIG_INVALID"
)

// ============================================================
// Helpers
// ============================================================

// StructuredKind returns the kind carried by an AppError in the chain,
// if one was set explicitly.
func StructuredKind(err error) (Kind, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Classified {
		return appErr.Kind, true
	}
	return KindUnknown, false
}

// IsKind reports whether err carries the given structured kind.
func IsKind(err error, kind Kind) bool {
	k, ok := StructuredKind(err)
	return ok && k == kind
}

// GetSuggestions returns recovery suggestions for an error.
func GetSuggestions(err error) []string {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Suggestions
	}

	return nil
}

// RawMessage returns the innermost error text, which is what users and
// the classifier see.
func RawMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Inner != nil {
			return RawMessage(appErr.Inner)
		}
		return appErr.Message
	}
	return err.Error()
}

// FormatUserMessage formats a user-friendly error message with suggestions.
func FormatUserMessage(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder

	var appErr *AppError
	if errors.As(err, &appErr) {
		sb.WriteString(appErr.Message)

		if len(appErr.Suggestions) > 0 {
			sb.WriteString("\n\nSuggestions:")
			for _, s := range appErr.Suggestions {
				sb.WriteString("\n  - ")
				sb.WriteString(s)
			}
		}

		return sb.String()
	}

	return err.Error()
}
