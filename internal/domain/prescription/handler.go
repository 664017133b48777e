package prescription

import (
	"errors"
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

// RegisterRoutes mounts user-facing routes on api and service-to-service
// routes on internal.
func (h *Handler) RegisterRoutes(api, internal *echo.Group) {
	role := auth.RequireRole("admin", "prescriber")

	g := api.Group("", role)
	g.POST("/prescriptions", h.CreatePrescription)
	g.GET("/prescriptions", h.ListPrescriptions)
	g.GET("/prescriptions/:id", h.GetPrescription)
	g.POST("/prescriptions/:id/cancel", h.CancelPrescription)
	g.POST("/prescriptions/:id/mark-paid", h.MarkPaid)
	g.POST("/prescriptions/:id/sync-status", h.SyncStatus)
	g.POST("/prescriptions/sync", h.SyncAll)

	internal.POST("/prescriptions/:id/submit-to-pharmacy", h.SubmitToPharmacy)
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	var p Prescription
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CancelPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.MarkPaid(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotPendingPayment) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) SyncStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.SyncStatus(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotSubmitted) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SyncAll(c echo.Context) error {
	report, err := h.svc.SyncAll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) SubmitToPharmacy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.SubmitToPharmacy(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentRequired):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidTransition):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}
