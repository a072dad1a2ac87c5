package appointment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/sequence"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/auth"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Reads and worker actions: coordinator, worker
	field := api.Group("/appointments", auth.RequireRole(auth.RoleCoordinator, auth.RoleWorker))
	field.GET("", h.ListAppointments)
	field.GET("/:id", h.GetAppointment)
	field.GET("/:id/assignments", h.ListAssignments)
	field.POST("/:id/accept", h.Accept)
	field.POST("/:id/reassign", h.Reassign)
	field.POST("/:id/resolve", h.Resolve)
	field.POST("/:id/start-duty", h.StartDuty)
	field.POST("/:id/stop-duty", h.StopDuty)

	// Intake and decline: coordinator only
	coord := api.Group("/appointments", auth.RequireRole(auth.RoleCoordinator))
	coord.POST("", h.CreateAppointment)
	coord.POST("/:id/decline", h.Decline)
}

type createRequest struct {
	SubscriberID     string  `json:"subscriber_id" validate:"required"`
	BeneficiaryID    *string `json:"beneficiary_id"`
	PackageID        string  `json:"package_id" validate:"required"`
	ProviderID       *string `json:"provider_id"`
	ServiceSubtype   string  `json:"service_subtype"`
	VisitMode        string  `json:"visit_mode" validate:"required"`
	SessionFrequency *string `json:"session_frequency"`
	ScheduledFrom    string  `json:"scheduled_from" validate:"required,datetime=2006-01-02"`
	ScheduledUntil   string  `json:"scheduled_until" validate:"required,datetime=2006-01-02"`
	SessionTime      string  `json:"session_time" validate:"required,hhmm"`
}

type decisionRequest struct {
	Decision          string `json:"decision"`
	WorkerID          string `json:"worker_id"`
	CandidateWorkerID string `json:"candidate_worker_id"`
	Reason            string `json:"reason" validate:"max=500"`
}

type dutyRequest struct {
	WorkerID string     `json:"worker_id"`
	At       *time.Time `json:"at"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	from, _ := time.Parse("2006-01-02", req.ScheduledFrom)
	until, _ := time.Parse("2006-01-02", req.ScheduledUntil)
	a := &Appointment{
		SubscriberID:     req.SubscriberID,
		BeneficiaryID:    req.BeneficiaryID,
		PackageID:        req.PackageID,
		ProviderID:       req.ProviderID,
		ServiceSubtype:   req.ServiceSubtype,
		VisitMode:        req.VisitMode,
		SessionFrequency: req.SessionFrequency,
		ScheduledFrom:    from,
		ScheduledUntil:   until,
		SessionTime:      req.SessionTime,
	}
	if err := h.svc.CreateAppointment(c.Request().Context(), a); err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	f := ListFilter{
		ProviderID:   c.QueryParam("provider_id"),
		SubscriberID: c.QueryParam("subscriber_id"),
	}
	if s := c.QueryParam("status"); s != "" {
		st, err := ParseStatus(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = st
	}
	if auth.HasAnyRole(ctx, auth.RoleCoordinator) {
		f.WorkerID = c.QueryParam("worker_id")
	} else {
		wid, err := auth.ActingWorker(ctx, c.QueryParam("worker_id"))
		if err != nil {
			return errorToHTTP(err)
		}
		f.WorkerID = wid
	}

	items, total, err := h.svc.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return errorToHTTP(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) ListAssignments(c echo.Context) error {
	items, err := h.svc.Assignments(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorToHTTP(err)
	}
	if items == nil {
		items = []*Assignment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Accept(c echo.Context) error {
	var req decisionRequest
	if err := h.bindDecision(c, &req); err != nil {
		return err
	}
	worker, err := h.actingWorker(c, req.WorkerID)
	if err != nil {
		return err
	}
	out, err := h.svc.Accept(c.Request().Context(), c.Param("id"), worker)
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Decline(c echo.Context) error {
	var req decisionRequest
	if err := h.bindDecision(c, &req); err != nil {
		return err
	}
	out, err := h.svc.Decline(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Reassign(c echo.Context) error {
	var req decisionRequest
	if err := h.bindDecision(c, &req); err != nil {
		return err
	}
	worker, err := h.actingWorker(c, req.WorkerID)
	if err != nil {
		return err
	}
	out, err := h.svc.Reassign(c.Request().Context(), c.Param("id"), worker, req.CandidateWorkerID, req.Reason)
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

// Resolve accepts any decision in the body. Accepting names the worker in
// worker_id; reassigning names the declining worker there.
func (h *Handler) Resolve(c echo.Context) error {
	ctx := c.Request().Context()
	var req decisionRequest
	if err := h.bindDecision(c, &req); err != nil {
		return err
	}
	decision, err := ParseDecision(req.Decision)
	if err != nil {
		return errorToHTTP(err)
	}
	rr := ResolveRequest{AppointmentID: c.Param("id"), Decision: decision, Reason: req.Reason}
	switch decision {
	case DecisionDecline:
		if !auth.HasAnyRole(ctx, auth.RoleCoordinator) {
			return echo.NewHTTPError(http.StatusForbidden, "required role: coordinator")
		}
	case DecisionAccept:
		if rr.CandidateWorker, err = h.actingWorker(c, req.WorkerID); err != nil {
			return err
		}
	case DecisionReassign:
		if rr.ActingWorker, err = h.actingWorker(c, req.WorkerID); err != nil {
			return err
		}
		rr.CandidateWorker = req.CandidateWorkerID
	}
	out, err := h.svc.Resolve(ctx, rr)
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) StartDuty(c echo.Context) error {
	return h.duty(c, h.svc.StartDuty)
}

func (h *Handler) StopDuty(c echo.Context) error {
	return h.duty(c, h.svc.StopDuty)
}

func (h *Handler) duty(c echo.Context, run func(ctx context.Context, workerID, appointmentID string, at time.Time) (*DutyResult, error)) error {
	var req dutyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	worker, err := h.actingWorker(c, req.WorkerID)
	if err != nil {
		return err
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	out, err := run(c.Request().Context(), worker, c.Param("id"), at)
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) bindDecision(c echo.Context, req *decisionRequest) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(req)
}

func (h *Handler) actingWorker(c echo.Context, requested string) (string, error) {
	worker, err := auth.ActingWorker(c.Request().Context(), requested)
	if err != nil {
		return "", errorToHTTP(err)
	}
	if worker == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "worker_id is required")
	}
	return worker, nil
}

func errorToHTTP(err error) error {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrActorMismatch):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNoActiveAssignment):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrWorkerNotFound), errors.Is(err, ErrInvalidCandidate), errors.Is(err, ErrInvalidDutyTime):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidAppointment), errors.Is(err, ErrCandidateRequired),
		errors.Is(err, ErrUnknownDecision), errors.Is(err, ErrUnknownStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, sequence.ErrAllocationFailed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
