package keycloak

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
)

const providerName = "keycloak"

// ErrUnknownState is returned when a callback carries a state we never issued.
var ErrUnknownState = goerrors.New("unknown or expired login state", goerrors.CategoryBadInput).
	WithTextCode("KEYCLOAK_UNKNOWN_STATE").
	WithCode(goerrors.CodeBadRequest)

// ErrNoRefreshToken is returned by UpdateToken when there is nothing to refresh.
var ErrNoRefreshToken = goerrors.New("no refresh token available", goerrors.CategoryAuth).
	WithTextCode("KEYCLOAK_NO_REFRESH_TOKEN").
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken is returned when an access token cannot be decoded or verified.
var ErrInvalidToken = goerrors.New("invalid access token", goerrors.CategoryAuth).
	WithTextCode("KEYCLOAK_INVALID_TOKEN").
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionSuperseded is returned when a token response arrives after the
// local session was cleared by a logout.
var ErrSessionSuperseded = goerrors.New("session ended while the token request was in flight", goerrors.CategoryAuth).
	WithTextCode("KEYCLOAK_SESSION_SUPERSEDED").
	WithCode(goerrors.CodeUnauthorized)

// ProviderError captures a normalized Keycloak error response.
type ProviderError struct {
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "keycloak error"
	}

	scope := providerName
	if e.Operation != "" {
		scope = fmt.Sprintf("%s %s", providerName, e.Operation)
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{"provider": providerName}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// IsInvalidGrant reports whether err is an OAuth invalid_grant answer, which
// Keycloak returns once the SSO session behind a refresh token is gone.
func IsInvalidGrant(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Code == "invalid_grant"
}

func isSuperseded(err error) bool {
	var rich *goerrors.Error
	return errors.As(err, &rich) && rich.TextCode == ErrSessionSuperseded.TextCode
}

func providerError(operation string, status int, code, description string, err error) *ProviderError {
	return &ProviderError{
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

// wrapProviderError clones base with the provider details as metadata.
// Transport failures are reported as session.ErrProviderUnavailable so they
// are flagged retryable.
func wrapProviderError(base *goerrors.Error, operation string, err error) error {
	if err == nil {
		return nil
	}

	var perr *ProviderError
	if !errors.As(err, &perr) {
		base = session.ErrProviderUnavailable
	}

	meta := map[string]any{
		"provider":  providerName,
		"operation": operation,
	}
	if perr != nil {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
	} else {
		meta["error"] = err.Error()
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	clone.Source = err
	clone.WithMetadata(meta)
	return clone
}
