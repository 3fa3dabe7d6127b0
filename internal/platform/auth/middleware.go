package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrUserNotFound is returned by a UserResolver when the token subject does
// not match any stored user.
var ErrUserNotFound = errors.New("user not found")

// UserResolver looks up the user named by a token subject.
type UserResolver interface {
	ResolvePrincipal(ctx context.Context, email string) (Principal, error)
}

// Middleware resolves bearer tokens into a Caller stored on the request context.
type Middleware struct {
	tokens *TokenService
	users  UserResolver
	logger zerolog.Logger
}

func NewMiddleware(tokens *TokenService, users UserResolver, logger zerolog.Logger) *Middleware {
	return &Middleware{tokens: tokens, users: users, logger: logger}
}

// failure is a reason a request could not be authenticated.
type failure struct {
	message string
	err     error
}

// resolve runs the shared algorithm: header -> token -> user.
func (m *Middleware) resolve(c echo.Context) (Principal, *failure) {
	raw, ok := bearerToken(c.Request().Header.Get("Authorization"))
	if !ok {
		return Principal{}, &failure{message: "not authenticated"}
	}

	subject, err := m.tokens.Validate(raw)
	if err != nil {
		return Principal{}, &failure{message: "invalid token", err: err}
	}

	p, err := m.users.ResolvePrincipal(c.Request().Context(), subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Principal{}, &failure{message: "user not found", err: err}
		}
		m.logger.Error().Err(err).Str("subject", subject).Msg("user lookup failed during authentication")
		return Principal{}, &failure{message: "could not validate credentials", err: err}
	}
	return p, nil
}

// RequireUser rejects the request with 401 unless it carries a valid token
// for an existing user.
func (m *Middleware) RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, fail := m.resolve(c)
			if fail != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, fail.message)
			}
			setCaller(c, Authenticated(p))
			return next(c)
		}
	}
}

// OptionalUser never rejects. Requests that fail authentication for any
// reason continue as anonymous.
func (m *Middleware) OptionalUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, fail := m.resolve(c)
			if fail != nil {
				if c.Request().Header.Get("Authorization") != "" {
					m.logger.Debug().
						Str("reason", fail.message).
						Str("path", c.Path()).
						Msg("credentials presented but request downgraded to anonymous")
				}
				setCaller(c, Anonymous())
				return next(c)
			}
			setCaller(c, Authenticated(p))
			return next(c)
		}
	}
}

func setCaller(c echo.Context, caller Caller) {
	ctx := WithCaller(c.Request().Context(), caller)
	c.SetRequest(c.Request().WithContext(ctx))
	if p, ok := caller.Principal(); ok {
		c.Set("user_email", p.Email)
	}
}

// bearerToken extracts the token from "Bearer <token>". The scheme is
// case-insensitive.
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
