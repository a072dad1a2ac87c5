package middleware

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/auth"
)

// AuditEntry records one state-changing API call: who drove which lifecycle
// action against which appointment, and how it ended.
type AuditEntry struct {
	Actor         string
	Roles         []string
	WorkerID      string
	Action        string
	AppointmentID string
	Method        string
	Path          string
	IPAddress     string
	StatusCode    int
	RequestID     string
	Timestamp     time.Time
}

// AuditRecorder persists audit entries somewhere other than the log stream.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every mutating request under /api/v1/ after the handler ran.
// Reads are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Actor:         auth.UserIDFromContext(ctx),
				Roles:         auth.RolesFromContext(ctx),
				WorkerID:      auth.WorkerIDFromContext(ctx),
				Action:        actionFromPath(req.Method, req.URL.Path),
				AppointmentID: c.Param("id"),
				Method:        req.Method,
				Path:          req.URL.Path,
				IPAddress:     c.RealIP(),
				StatusCode:    c.Response().Status,
				Timestamp:     time.Now().UTC(),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
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
				Str("type", "lifecycle_audit").
				Str("request_id", entry.RequestID).
				Str("actor", entry.Actor).
				Strs("roles", entry.Roles).
				Str("worker_id", entry.WorkerID).
				Str("action", entry.Action).
				Str("appointment_id", entry.AppointmentID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_mutation")

			return err
		}
	}
}

func isAuditable(method, p string) bool {
	if !strings.HasPrefix(p, "/api/v1/") {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// actionFromPath names the action of a mutating request. Lifecycle routes end
// in a verb segment (/appointments/:id/accept); plain collection POSTs are
// reported as "create".
//
//   - POST /api/v1/appointments                 -> create
//   - POST /api/v1/appointments/ICSPAPT001/accept -> accept
//   - POST /api/v1/attendance/punch-in          -> punch-in
func actionFromPath(method, p string) string {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(p, "/api/v1/"), "/"), "/")
	last := path.Base(p)
	switch {
	case len(segments) == 1 && method == http.MethodPost:
		return "create"
	case method == http.MethodDelete:
		return "delete"
	case len(segments) >= 2:
		return last
	}
	return strings.ToLower(method)
}
