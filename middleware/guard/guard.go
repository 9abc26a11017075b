// Package guard protects HTTP routes with the session facade, either as a
// fiber handler or as a go-router middleware.
package guard

import (
	"github.com/gofiber/fiber/v2"
	session "github.com/goliatone/go-session"
)

// Config defines the fiber guard behavior.
type Config struct {
	Policy

	// Skip bypasses the guard for matching requests.
	Skip func(*fiber.Ctx) bool

	// LoginRedirect sends unauthenticated requests there instead of a 401.
	LoginRedirect string

	// ContextKey overrides DefaultContextKey.
	ContextKey string

	// ErrorHandler renders guard failures. Default: JSON body with status.
	ErrorHandler func(*fiber.Ctx, error) error
}

// New returns the fiber guard handler.
func New(cfg Config) fiber.Handler {
	cfg.mustValidate()
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	return func(c *fiber.Ctx) error {
		if cfg.Skip != nil && cfg.Skip(c) {
			return c.Next()
		}

		view, err := cfg.Check(c.UserContext())
		if err != nil {
			if isUnauthenticated(err) && cfg.LoginRedirect != "" {
				return c.Redirect(cfg.LoginRedirect, fiber.StatusSeeOther)
			}
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, view)
		return c.Next()
	}
}

// FromContext returns the view stored by the fiber guard.
func FromContext(c *fiber.Ctx, key ...string) (session.View, bool) {
	k := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	view, ok := c.Locals(k).(session.View)
	return view, ok
}

// DefaultErrorHandler writes the error code and message as JSON.
func DefaultErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(StatusFor(err)).JSON(fiber.Map{
		"error":   session.CodeOf(err),
		"message": err.Error(),
	})
}
