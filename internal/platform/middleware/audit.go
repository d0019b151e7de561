package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chokoronadal/wbhsms/internal/platform/auth"
)

// AccessEntry describes one authenticated access to patient-related data.
type AccessEntry struct {
	UserID     string
	Role       string
	Resource   string
	Action     string // read, create, update
	PatientID  string
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// Audit emits a structured "patient_data_access" log line for every /api/v1
// request after the handler has run. State changes are recorded separately
// in user_activity_logs by the engines; this is the read/access trail.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			entry := buildAccessEntry(c)
			logger.Info().
				Str("type", "patient_data_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Str("patient_id", entry.PatientID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

func buildAccessEntry(c echo.Context) AccessEntry {
	req := c.Request()
	ctx := req.Context()
	rid, _ := c.Get("request_id").(string)
	return AccessEntry{
		UserID:     auth.UserIDFromContext(ctx),
		Role:       string(auth.RoleFromContext(ctx)),
		Resource:   extractResource(req.URL.Path),
		Action:     httpMethodToAction(req.Method),
		PatientID:  c.QueryParam("patient_id"),
		Method:     req.Method,
		Path:       req.URL.Path,
		IPAddress:  c.RealIP(),
		RequestID:  rid,
		StatusCode: c.Response().Status,
		Timestamp:  time.Now().UTC(),
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment after /api/v1/, e.g.
// "billing" for /api/v1/billing/create_invoice.
func extractResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if rest == path {
		return "unknown"
	}
	seg, _, _ := strings.Cut(rest, "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}
