package sequence

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/sequences", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.ListCounters)
	admin.GET("/:entity", h.GetCounter)
	admin.POST("", h.SeedCounter)
	admin.POST("/:entity/allocate", h.AllocateCode)
}

type seedRequest struct {
	EntityName  string `json:"entity_name"`
	InitialCode string `json:"initial_code"`
}

func (h *Handler) ListCounters(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetCounter(c echo.Context) error {
	counter, err := h.svc.Get(c.Request().Context(), strings.ToUpper(c.Param("entity")))
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusOK, counter)
}

func (h *Handler) SeedCounter(c echo.Context) error {
	var req seedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entity := strings.ToUpper(strings.TrimSpace(req.EntityName))
	created, err := h.svc.Seed(c.Request().Context(), entity, req.InitialCode)
	if err != nil {
		if errors.Is(err, ErrMalformedCounter) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		if entity == "" {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]interface{}{"entity_name": entity, "created": created})
}

func (h *Handler) AllocateCode(c echo.Context) error {
	entity := strings.ToUpper(c.Param("entity"))
	code, err := h.svc.Allocate(c.Request().Context(), entity)
	if err != nil {
		return errorToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"entity_name": entity, "code": code})
}

func errorToHTTP(err error) error {
	switch {
	case errors.Is(err, ErrCounterNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrMalformedCounter):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAllocationFailed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
