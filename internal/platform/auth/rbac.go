package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrActorMismatch is returned when a worker token tries to act for another worker.
var ErrActorMismatch = errors.New("token does not belong to the requested worker")

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether ctx carries one of roles. Admin satisfies every check.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// ActingWorker resolves the worker a request acts for. Admins and coordinators
// may name any worker. A worker token is pinned to its own worker id; an empty
// requested id falls back to it.
func ActingWorker(ctx context.Context, requested string) (string, error) {
	if HasAnyRole(ctx, RoleCoordinator) {
		return requested, nil
	}
	own := WorkerIDFromContext(ctx)
	if own == "" {
		return "", ErrActorMismatch
	}
	if requested != "" && requested != own {
		return "", ErrActorMismatch
	}
	return own, nil
}
