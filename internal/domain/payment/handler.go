package payment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telerx/telerx/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts user-facing routes on api and the service-to-service
// link-generation route on internal.
func (h *Handler) RegisterRoutes(api, internal *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "prescriber"))
	g.GET("/payments/:id", h.GetTransaction)
	g.POST("/payments/charge", h.ChargeDirect)

	internal.POST("/payments/generate-link", h.GenerateLink)
}

type generateLinkRequest struct {
	PrescriptionID uuid.UUID `json:"prescription_id"`
	SendEmail      bool      `json:"send_email"`
}

func (h *Handler) GenerateLink(c echo.Context) error {
	var req generateLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PrescriptionID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "prescription_id is required")
	}
	link, err := h.svc.GenerateLink(c.Request().Context(), req.PrescriptionID, req.SendEmail)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, link)
}

type chargeRequest struct {
	PrescriptionID uuid.UUID `json:"prescription_id"`
	CardNumber     string    `json:"card_number"`
	Expiration     string    `json:"expiration"`
	CardCode       string    `json:"card_code"`
}

func (h *Handler) ChargeDirect(c echo.Context) error {
	var req chargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PrescriptionID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "prescription_id is required")
	}
	if req.CardNumber == "" || req.Expiration == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "card_number and expiration are required")
	}
	txn, err := h.svc.ChargeDirect(c.Request().Context(), req.PrescriptionID, CardDetails{
		Number:     req.CardNumber,
		Expiration: req.Expiration,
		Code:       req.CardCode,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, txn)
}

func (h *Handler) GetTransaction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	txn, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "transaction not found")
	}
	return c.JSON(http.StatusOK, txn)
}
