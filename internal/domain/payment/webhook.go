package payment

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telerx/telerx/internal/platform/audit"
	"github.com/telerx/telerx/internal/platform/authnet"
)

// Authorize.Net webhook event types the handler dispatches on.
const (
	EventAuthCapture = "net.authorize.payment.authcapture.created"
	EventCapture     = "net.authorize.payment.capture.created"
	EventVoid        = "net.authorize.payment.void.created"
	EventRefund      = "net.authorize.payment.refund.created"
)

type webhookEvent struct {
	NotificationID string `json:"notificationId"`
	EventType      string `json:"eventType"`
	EventDate      string `json:"eventDate"`
	Payload        struct {
		ID                  string  `json:"id"`
		EntityName          string  `json:"entityName"`
		ResponseCode        int     `json:"responseCode"`
		AuthAmount          float64 `json:"authAmount"`
		InvoiceNumber       string  `json:"invoiceNumber"`
		MerchantReferenceID string  `json:"merchantReferenceId"`
		AccountType         string  `json:"accountType"`
	} `json:"payload"`
}

// token returns the payment token the gateway echoes back, whichever field
// it arrived in.
func (e *webhookEvent) token() string {
	if e.Payload.InvoiceNumber != "" {
		return e.Payload.InvoiceNumber
	}
	return e.Payload.MerchantReferenceID
}

// WebhookHandler receives signed Authorize.Net callbacks. The route is
// unauthenticated; the HMAC signature over the raw body is the auth.
type WebhookHandler struct {
	svc   *Service
	creds CredentialSource
	audit *audit.Logger
	log   zerolog.Logger
}

func NewWebhookHandler(svc *Service, creds CredentialSource, auditLog *audit.Logger, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		svc:   svc,
		creds: creds,
		audit: auditLog,
		log:   log.With().Str("component", "authnet_webhook").Logger(),
	}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/webhooks/authnet", h.Handle)
}

func (h *WebhookHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	active, err := h.creds.GetActive(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("no merchant credentials for webhook verification")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "payment gateway not configured")
	}
	if !authnet.VerifySignature(body, active.SignatureKey, c.Request().Header.Get(authnet.SignatureHeader)) {
		h.audit.Event(ctx, "warn", "payment_webhook", "signature verification failed", nil)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event")
	}

	log := h.log.With().
		Str("event_type", event.EventType).
		Str("notification_id", event.NotificationID).
		Logger()

	switch event.EventType {
	case EventAuthCapture, EventCapture:
		return h.handleCapture(c, &event, log)
	case EventVoid:
		if err := h.svc.Void(ctx, event.Payload.ID); err != nil && !errors.Is(err, ErrUnknownToken) {
			log.Error().Err(err).Msg("void handling failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "void failed")
		}
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	case EventRefund:
		if err := h.svc.Refund(ctx, event.Payload.ID); err != nil && !errors.Is(err, ErrUnknownToken) {
			log.Error().Err(err).Msg("refund handling failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "refund failed")
		}
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	default:
		log.Debug().Msg("ignoring unhandled event type")
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}
}

func (h *WebhookHandler) handleCapture(c echo.Context, event *webhookEvent, log zerolog.Logger) error {
	ctx := c.Request().Context()

	token := event.token()
	if token == "" {
		h.audit.Event(ctx, "warn", "payment_webhook", "capture event without invoice reference",
			map[string]string{"gateway_txn_id": event.Payload.ID})
		return echo.NewHTTPError(http.StatusBadRequest, "missing invoice reference")
	}

	amountCents := int64(math.Round(event.Payload.AuthAmount * 100))
	_, err := h.svc.CompleteCapture(ctx, token, event.Payload.ID, amountCents, event.Payload.AccountType)
	switch {
	case err == nil:
		log.Info().Str("payment_token", token).Msg("payment captured")
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, ErrAlreadyProcessed):
		// Duplicate delivery: acknowledged, nothing changed.
		log.Info().Str("payment_token", token).Msg("duplicate capture event ignored")
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, ErrAmountMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, "amount mismatch")
	case errors.Is(err, ErrUnknownToken):
		return echo.NewHTTPError(http.StatusNotFound, "unknown payment token")
	default:
		log.Error().Err(err).Msg("capture handling failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "capture failed")
	}
}
