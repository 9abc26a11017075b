package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"

	"github.com/goliatone/go-errors"
)

// ErrorCode classifies the single active session error.
type ErrorCode string

const (
	CodeInitFailed         ErrorCode = "INIT_FAILED"
	CodeLoginFailed        ErrorCode = "LOGIN_FAILED"
	CodeLogoutFailed       ErrorCode = "LOGOUT_FAILED"
	CodeTokenRefreshFailed ErrorCode = "TOKEN_REFRESH_FAILED"
	CodeSessionExpired     ErrorCode = "SESSION_EXPIRED"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeUnknown            ErrorCode = "UNKNOWN"
)

const (
	textCodeInvalidStateMutation = "INVALID_STATE_MUTATION"
	textCodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	textCodeAdapterRequired      = "IDENTITY_ADAPTER_REQUIRED"
)

// ErrInitFailed is recorded when the identity provider handshake fails.
var ErrInitFailed = errors.New("session initialization failed", errors.CategoryOperation).
	WithTextCode(string(CodeInitFailed)).
	WithCode(errors.CodeInternal)

// ErrLoginFailed is returned when the provider rejects a login or register request.
var ErrLoginFailed = errors.New("login failed", errors.CategoryAuth).
	WithTextCode(string(CodeLoginFailed)).
	WithCode(errors.CodeUnauthorized)

// ErrLogoutFailed is returned when the provider logout request fails.
var ErrLogoutFailed = errors.New("logout failed", errors.CategoryOperation).
	WithTextCode(string(CodeLogoutFailed)).
	WithCode(errors.CodeInternal)

// ErrTokenRefreshFailed is recorded when a token refresh round-trip fails.
var ErrTokenRefreshFailed = errors.New("token refresh failed", errors.CategoryAuth).
	WithTextCode(string(CodeTokenRefreshFailed)).
	WithCode(errors.CodeUnauthorized)

// ErrSessionExpired signals that the provider session can no longer be refreshed.
var ErrSessionExpired = errors.New("session expired", errors.CategoryAuth).
	WithTextCode(string(CodeSessionExpired)).
	WithCode(errors.CodeUnauthorized)

// ErrUnauthorized is returned to callers that need a token while anonymous.
var ErrUnauthorized = errors.New("not authenticated", errors.CategoryAuth).
	WithTextCode(string(CodeUnauthorized)).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is returned when a role requirement is not met.
var ErrForbidden = errors.New("insufficient roles", errors.CategoryAuthz).
	WithTextCode(string(CodeForbidden)).
	WithCode(errors.CodeForbidden)

// ErrUnknown wraps failures that fit no other code.
var ErrUnknown = errors.New("unknown session error", errors.CategoryInternal).
	WithTextCode(string(CodeUnknown)).
	WithCode(errors.CodeInternal)

// ErrInvalidStateMutation is returned by narrow store setters that would leave
// authentication flags and user/token fields disagreeing.
var ErrInvalidStateMutation = errors.New("invalid session state mutation", errors.CategoryValidation).
	WithTextCode(textCodeInvalidStateMutation).
	WithCode(errors.CodeBadRequest)

// ErrProviderUnavailable is used by adapters to flag transport level failures.
var ErrProviderUnavailable = errors.New("identity provider unavailable", errors.CategoryOperation).
	WithTextCode(textCodeProviderUnavailable).
	WithCode(errors.CodeInternal)

// ErrAdapterRequired is returned when a service is built without an adapter.
var ErrAdapterRequired = errors.New("identity adapter is required", errors.CategoryBadInput).
	WithTextCode(textCodeAdapterRequired).
	WithCode(errors.CodeBadRequest)

var errStaleGeneration = stderrors.New("session was reset while the operation was in flight")

var sentinelByCode = map[ErrorCode]*errors.Error{
	CodeInitFailed:         ErrInitFailed,
	CodeLoginFailed:        ErrLoginFailed,
	CodeLogoutFailed:       ErrLogoutFailed,
	CodeTokenRefreshFailed: ErrTokenRefreshFailed,
	CodeSessionExpired:     ErrSessionExpired,
	CodeUnauthorized:       ErrUnauthorized,
	CodeForbidden:          ErrForbidden,
	CodeUnknown:            ErrUnknown,
}

// Error is the observable session error kept in State.LastError.
// Only one is retained at a time.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "session error"
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// NewError builds a session error for code using the message of its sentinel.
func NewError(code ErrorCode, details string) *Error {
	message := string(code)
	if base, ok := sentinelByCode[code]; ok {
		message = base.Message
	}
	return &Error{Code: code, Message: message, Details: details}
}

// errorFrom records cause under code, flagging transport failures as retryable.
func errorFrom(code ErrorCode, cause error) *Error {
	e := NewError(code, "")
	if cause != nil {
		e.Details = cause.Error()
		e.Retryable = IsRetryable(cause)
	}
	return e
}

// wrapError clones base and attaches cause plus metadata, the way provider
// errors are normalized elsewhere in the module.
func wrapError(base *errors.Error, cause error, meta map[string]any) error {
	if base == nil {
		return cause
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if cause != nil {
		clone.Source = cause
		if meta == nil {
			meta = map[string]any{}
		}
		meta["cause"] = cause.Error()
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// CodeOf maps err to its ErrorCode. Errors without a known text code map to
// CodeUnknown; nil maps to the empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var sessErr *Error
	if stderrors.As(err, &sessErr) && sessErr != nil {
		return sessErr.Code
	}

	var rich *errors.Error
	if errors.As(err, &rich) && rich != nil {
		code := ErrorCode(rich.TextCode)
		if _, ok := sentinelByCode[code]; ok {
			return code
		}
		if rich.Source != nil && rich.Source != err {
			if inner := CodeOf(rich.Source); inner != CodeUnknown {
				return inner
			}
		}
	}

	return CodeUnknown
}

// IsRetryable reports whether err looks like a connectivity failure rather
// than a definitive answer from the identity provider.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	var rich *errors.Error
	if errors.As(err, &rich) && rich != nil {
		if rich.TextCode == textCodeProviderUnavailable {
			return true
		}
		if rich.Source != nil && rich.Source != err {
			return IsRetryable(rich.Source)
		}
	}

	return false
}
