package outbox

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telerx/telerx/internal/platform/auth"
	"github.com/telerx/telerx/pkg/pagination"
)

// Handler exposes admin visibility into the outbox and manual redelivery
// of parked events.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole("admin"))
	admin.GET("/outbox", h.ListEvents)
	admin.POST("/outbox/:id/retry", h.RetryEvent)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.store.List(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RetryEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.store.Reset(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotRetryable) {
			return echo.NewHTTPError(http.StatusConflict, "event is not in a retryable state")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}
