package pharmacy

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telerx/telerx/internal/platform/auth"
	"github.com/telerx/telerx/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/pharmacy-backends", h.CreateBackend)
	admin.GET("/pharmacy-backends", h.ListBackends)
	admin.GET("/pharmacy-backends/:id", h.GetBackend)
	admin.PUT("/pharmacy-backends/:id", h.UpdateBackend)
	admin.DELETE("/pharmacy-backends/:id", h.DeleteBackend)
}

// backendRequest carries the write payload; the api_key field is accepted
// on writes but never echoed back.
type backendRequest struct {
	Name       string `json:"name"`
	SystemType string `json:"system_type"`
	BaseURL    string `json:"base_url"`
	StoreID    string `json:"store_id"`
	APIKey     string `json:"api_key"`
	IsActive   bool   `json:"is_active"`
}

func (h *Handler) CreateBackend(c echo.Context) error {
	var req backendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b := &Backend{
		Name:       req.Name,
		SystemType: req.SystemType,
		BaseURL:    req.BaseURL,
		StoreID:    req.StoreID,
		APIKey:     req.APIKey,
		IsActive:   req.IsActive,
	}
	if err := h.svc.Create(c.Request().Context(), b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBackend(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "pharmacy backend not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBackends(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateBackend(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req backendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b := &Backend{
		ID:         id,
		Name:       req.Name,
		SystemType: req.SystemType,
		BaseURL:    req.BaseURL,
		StoreID:    req.StoreID,
		APIKey:     req.APIKey,
		IsActive:   req.IsActive,
	}
	if err := h.svc.Update(c.Request().Context(), b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBackend(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
