package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/genmed/genmed/internal/platform/auth"
)

// AuditEntry records who touched clinical data, how, and with what result.
type AuditEntry struct {
	UserEmail  string
	Anonymous  bool
	Action     string // read, create
	Route      string
	Path       string
	Method     string
	IPAddress  string
	UserAgent  string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /notes/* request after the handler runs. The caller is
// read from the request as it stands after the route's auth middleware.
// Entries are always logged; recorders, if given, also receive them.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Route:      c.Path(),
				Path:       req.URL.Path,
				Method:     req.Method,
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
				RequestID:  RequestIDFromContext(c.Request().Context()),
			}
			caller := auth.CallerFromContext(c.Request().Context())
			entry.Anonymous = caller.IsAnonymous()
			if p, ok := caller.Principal(); ok {
				entry.UserEmail = p.Email
			}
			if entry.RequestID == "" {
				entry.RequestID, _ = c.Get("request_id").(string)
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "note_audit").
				Str("request_id", entry.RequestID).
				Str("user_email", entry.UserEmail).
				Bool("anonymous", entry.Anonymous).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("method", entry.Method).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("note_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/notes/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return "create"
	default:
		return "read"
	}
}
