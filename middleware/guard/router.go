package guard

import (
	"net/http"

	"github.com/goliatone/go-router"
)

// RouterConfig defines the go-router guard behavior.
type RouterConfig struct {
	Policy

	// Filter bypasses the guard when it returns true.
	Filter func(router.Context) bool

	// LoginRedirect sends unauthenticated requests there instead of a 401.
	LoginRedirect string

	// ContextKey overrides DefaultContextKey.
	ContextKey string

	// ErrorHandler renders guard failures. Default: status with plain text.
	ErrorHandler func(router.Context, error) error
}

// Middleware returns the guard as a go-router middleware.
func Middleware(cfg RouterConfig) router.MiddlewareFunc {
	cfg.mustValidate()
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultRouterErrorHandler
	}

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			view, err := cfg.Check(ctx.Context())
			if err != nil {
				if isUnauthenticated(err) && cfg.LoginRedirect != "" {
					return ctx.Redirect(cfg.LoginRedirect, http.StatusSeeOther)
				}
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, view)
			return ctx.Next()
		}
	}
}

// DefaultRouterErrorHandler writes the mapped status and the error message.
func DefaultRouterErrorHandler(c router.Context, err error) error {
	return c.Status(StatusFor(err)).SendString(err.Error())
}
