package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret-key-for-unit-tests-only"

type mockResolver struct {
	users map[string]Principal
	err   error
}

func (m *mockResolver) ResolvePrincipal(ctx context.Context, email string) (Principal, error) {
	if m.err != nil {
		return Principal{}, m.err
	}
	p, ok := m.users[email]
	if !ok {
		return Principal{}, ErrUserNotFound
	}
	return p, nil
}

func newTestMiddleware(t *testing.T, resolver UserResolver) (*Middleware, *TokenService) {
	t.Helper()
	tokens, err := NewTokenService(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return NewMiddleware(tokens, resolver, zerolog.Nop()), tokens
}

func knownUsers() *mockResolver {
	return &mockResolver{users: map[string]Principal{
		"asha@example.org": {Email: "asha@example.org", Role: "asha"},
	}}
}

// run executes mw around a handler that records the caller it saw.
func run(t *testing.T, mw echo.MiddlewareFunc, header string) (Caller, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/notes/history", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen Caller
	handler := func(c echo.Context) error {
		seen = CallerFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}
	err := mw(handler)(c)
	return seen, err
}

func expectUnauthorized(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestRequireUser_MissingHeader(t *testing.T) {
	m, _ := newTestMiddleware(t, knownUsers())
	_, err := run(t, m.RequireUser(), "")
	expectUnauthorized(t, err)
}

func TestRequireUser_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	m, _ := newTestMiddleware(t, knownUsers())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, m.RequireUser(), tt.header)
			expectUnauthorized(t, err)
		})
	}
}

func TestRequireUser_ValidToken(t *testing.T) {
	m, tokens := newTestMiddleware(t, knownUsers())
	token, _, err := tokens.Issue("asha@example.org")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	caller, err := run(t, m.RequireUser(), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := caller.Principal()
	if !ok {
		t.Fatal("expected authenticated caller")
	}
	if p.Email != "asha@example.org" || p.Role != "asha" {
		t.Errorf("unexpected principal: %+v", p)
	}
}

func TestRequireUser_SchemeCaseInsensitive(t *testing.T) {
	m, tokens := newTestMiddleware(t, knownUsers())
	token, _, _ := tokens.Issue("asha@example.org")

	if _, err := run(t, m.RequireUser(), "bEaReR "+token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireUser_UnknownSubject(t *testing.T) {
	m, tokens := newTestMiddleware(t, knownUsers())
	token, _, _ := tokens.Issue("ghost@example.org")

	_, err := run(t, m.RequireUser(), "Bearer "+token)
	expectUnauthorized(t, err)
	if err.(*echo.HTTPError).Message != "user not found" {
		t.Errorf("unexpected message: %v", err.(*echo.HTTPError).Message)
	}
}

func TestRequireUser_WrongSecret(t *testing.T) {
	m, _ := newTestMiddleware(t, knownUsers())
	other, _ := NewTokenService("a-completely-different-secret-value", time.Hour)
	token, _, _ := other.Issue("asha@example.org")

	_, err := run(t, m.RequireUser(), "Bearer "+token)
	expectUnauthorized(t, err)
}

func TestRequireUser_ResolverError(t *testing.T) {
	m, tokens := newTestMiddleware(t, &mockResolver{err: errors.New("connection reset")})
	token, _, _ := tokens.Issue("asha@example.org")

	_, err := run(t, m.RequireUser(), "Bearer "+token)
	expectUnauthorized(t, err)
}

func TestOptionalUser_AnonymousCases(t *testing.T) {
	m, tokens := newTestMiddleware(t, knownUsers())
	ghost, _, _ := tokens.Issue("ghost@example.org")

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"malformed header", "Token abc"},
		{"garbage token", "Bearer not.a.jwt"},
		{"unknown user", "Bearer " + ghost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, err := run(t, m.OptionalUser(), tt.header)
			if err != nil {
				t.Fatalf("optional auth must not reject, got %v", err)
			}
			if !caller.IsAnonymous() {
				t.Error("expected anonymous caller")
			}
		})
	}
}

func TestOptionalUser_ResolverErrorIsAnonymous(t *testing.T) {
	m, tokens := newTestMiddleware(t, &mockResolver{err: errors.New("connection reset")})
	token, _, _ := tokens.Issue("asha@example.org")

	caller, err := run(t, m.OptionalUser(), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !caller.IsAnonymous() {
		t.Error("expected anonymous caller")
	}
}

func TestOptionalUser_ValidToken(t *testing.T) {
	m, tokens := newTestMiddleware(t, knownUsers())
	token, _, _ := tokens.Issue("asha@example.org")

	caller, err := run(t, m.OptionalUser(), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.IsAnonymous() {
		t.Error("expected authenticated caller")
	}
}

func TestCallerFromContext_Default(t *testing.T) {
	if !CallerFromContext(context.Background()).IsAnonymous() {
		t.Error("expected anonymous caller on bare context")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"BEARER  abc ", "abc", true},
		{"Bearer", "", false},
		{"", "", false},
		{"Basic abc", "", false},
	}
	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		if token != tt.token || ok != tt.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}
