package users

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *mockUserRepo, *echo.Echo) {
	svc, repo, _ := newTestService(t)
	return NewHandler(svc), repo, echo.New()
}

func jsonContext(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func assertHTTPError(t *testing.T, err error, code int, msg string) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected status %d, got %d", code, he.Code)
	}
	if msg != "" && he.Message != msg {
		t.Errorf("expected message %q, got %v", msg, he.Message)
	}
}

func TestHandler_Register(t *testing.T) {
	h, repo, e := newTestHandler(t)

	c, rec := jsonContext(e, `{"email":"asha@example.com","password":"pw","role":"asha"}`)
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp MessageResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Message != "User registered successfully" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if _, ok := repo.users["asha@example.com"]; !ok {
		t.Error("expected user to be stored")
	}
}

func TestHandler_Register_Duplicate(t *testing.T) {
	h, _, e := newTestHandler(t)

	c, _ := jsonContext(e, `{"email":"asha@example.com","password":"pw","role":"asha"}`)
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ = jsonContext(e, `{"email":"asha@example.com","password":"other","role":"doctor"}`)
	assertHTTPError(t, h.Register(c), http.StatusBadRequest, "Email already registered")
}

func TestHandler_Register_Invalid(t *testing.T) {
	h, _, e := newTestHandler(t)

	c, _ := jsonContext(e, `{"email":"asha@example.com","password":"pw","role":"nurse"}`)
	assertHTTPError(t, h.Register(c), http.StatusBadRequest, "role must be one of: asha, doctor")

	c, _ = jsonContext(e, `{"email":`)
	assertHTTPError(t, h.Register(c), http.StatusBadRequest, "invalid request body")
}

func TestHandler_Login(t *testing.T) {
	h, _, e := newTestHandler(t)

	c, _ := jsonContext(e, `{"email":"doc@example.com","password":"pw","role":"doctor"}`)
	if err := h.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	c, rec := jsonContext(e, `{"email":"doc@example.com","password":"pw"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tok TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tok.AccessToken == "" || tok.TokenType != "bearer" {
		t.Errorf("unexpected token response %+v", tok)
	}
}

func TestHandler_Login_Unauthorized(t *testing.T) {
	h, _, e := newTestHandler(t)

	c, _ := jsonContext(e, `{"email":"ghost@example.com","password":"pw"}`)
	assertHTTPError(t, h.Login(c), http.StatusUnauthorized, "Invalid email or password")
}

func TestHandler_InternalErrorIsGeneric(t *testing.T) {
	h, repo, e := newTestHandler(t)
	repo.getErr = errors.New("pq: connection reset")

	c, _ := jsonContext(e, `{"email":"doc@example.com","password":"pw"}`)
	err := h.Login(c)
	assertHTTPError(t, err, http.StatusInternalServerError, "internal server error")
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("expected internal detail kept for logging, got %v", err)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/users"))

	paths := map[string]bool{}
	for _, r := range e.Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{"POST /users/register", "POST /users/login"} {
		if !paths[want] {
			t.Errorf("missing route %s", want)
		}
	}
}
