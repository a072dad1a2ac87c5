package attendance

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/sequence"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/attendance", auth.RequireRole(auth.RoleCoordinator, auth.RoleWorker))
	g.GET("", h.ListRecords)
	g.POST("/punch-in", h.PunchIn)
	g.POST("/punch-out", h.PunchOut)
}

type punchRequest struct {
	AppointmentID string     `json:"appointment_id" validate:"required"`
	WorkerID      string     `json:"worker_id"`
	At            *time.Time `json:"at"`
}

func (h *Handler) PunchIn(c echo.Context) error {
	req, worker, err := h.bindPunch(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.PunchIn(c.Request().Context(), worker, req.AppointmentID, punchTime(req))
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) PunchOut(c echo.Context) error {
	req, worker, err := h.bindPunch(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.PunchOut(c.Request().Context(), worker, req.AppointmentID, punchTime(req))
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	appointmentID := c.QueryParam("appointment_id")
	if appointmentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "appointment_id is required")
	}
	ctx := c.Request().Context()
	worker := c.QueryParam("worker_id")
	if !auth.HasAnyRole(ctx, auth.RoleCoordinator) {
		var err error
		if worker, err = auth.ActingWorker(ctx, worker); err != nil {
			return errorToHTTP(err)
		}
	}
	items, err := h.svc.List(ctx, appointmentID, worker)
	if err != nil {
		return errorToHTTP(err)
	}
	if items == nil {
		items = []*Record{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) bindPunch(c echo.Context) (*punchRequest, string, error) {
	var req punchRequest
	if err := c.Bind(&req); err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return nil, "", err
	}
	worker, err := auth.ActingWorker(c.Request().Context(), req.WorkerID)
	if err != nil {
		return nil, "", errorToHTTP(err)
	}
	if worker == "" {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "worker_id is required")
	}
	return &req, worker, nil
}

func punchTime(req *punchRequest) time.Time {
	if req.At == nil {
		return time.Time{}
	}
	return *req.At
}

func errorToHTTP(err error) error {
	switch {
	case errors.Is(err, auth.ErrActorMismatch):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyPunchedIn), errors.Is(err, ErrAlreadyPunchedOut), errors.Is(err, ErrNoPunchInFound):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidPunchTime), errors.Is(err, ErrUnknownReference):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, sequence.ErrAllocationFailed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
