package workforce

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/auth"
)

// Handler exposes worker lookup and device registration.
type Handler struct {
	dir     Directory
	devices DeviceRegistry
}

func NewHandler(dir Directory, devices DeviceRegistry) *Handler {
	return &Handler{dir: dir, devices: devices}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	field := auth.RequireRole(auth.RoleCoordinator, auth.RoleWorker)
	api.GET("/workers/:id", h.GetWorker, field)
	api.POST("/devices", h.RegisterDevice, field)
	api.GET("/organizations/:id/workers", h.ListAvailableWorkers, auth.RequireRole(auth.RoleCoordinator))
}

func (h *Handler) GetWorker(c echo.Context) error {
	w, err := h.dir.GetWorker(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrWorkerNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "worker not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListAvailableWorkers(c echo.Context) error {
	subtype := c.QueryParam("service_subtype")
	if subtype == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "service_subtype is required")
	}
	items, err := h.dir.ListAvailableWorkers(c.Request().Context(), c.Param("id"), subtype, c.QueryParam("exclude"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Worker{}
	}
	return c.JSON(http.StatusOK, items)
}

type deviceRequest struct {
	Mobile   string  `json:"mobile"`
	Token    string  `json:"token"`
	Platform *string `json:"platform,omitempty"`
}

func (h *Handler) RegisterDevice(c echo.Context) error {
	var req deviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Mobile = strings.TrimSpace(req.Mobile)
	req.Token = strings.TrimSpace(req.Token)
	if req.Mobile == "" || req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mobile and token are required")
	}
	d := &DeviceToken{Mobile: req.Mobile, Token: req.Token, Platform: req.Platform}
	if err := h.devices.RegisterDevice(c.Request().Context(), d); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}
