package dispatch

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/auth"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/pkg/pagination"
)

// Handler exposes the dispatch log to coordinators.
type Handler struct {
	store LogStore
}

func NewHandler(store LogStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/dispatch-log", auth.RequireRole(auth.RoleCoordinator))
	g.GET("", h.ListEntries)
}

func (h *Handler) ListEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		AppointmentID: c.QueryParam("appointment_id"),
		Status:        EntryStatus(c.QueryParam("status")),
	}
	switch f.Status {
	case "", StatusPending, StatusSent, StatusFailed, StatusSkipped:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+string(f.Status))
	}
	if v := c.QueryParam("visit_date"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "visit_date must be YYYY-MM-DD")
		}
		f.VisitDate = &d
	}

	items, total, err := h.store.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, int(total), pg.Limit, pg.Offset).WithLinks(c))
}
