package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Headers used for service-to-service authentication. Internal endpoints are
// called by the webhook handler, the outbox worker, and the refill job rather
// than by user sessions.
const (
	InternalAPIKeyHeader    = "x-internal-api-key"
	InternalAPISecretHeader = "x-internal-secret"
)

// InternalAuth authenticates service-to-service calls by comparing both
// internal headers in constant time.
func InternalAuth(apiKey, apiSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" || apiSecret == "" {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "internal api credentials not configured")
			}

			gotKey := c.Request().Header.Get(InternalAPIKeyHeader)
			gotSecret := c.Request().Header.Get(InternalAPISecretHeader)

			keyOK := subtle.ConstantTimeCompare([]byte(gotKey), []byte(apiKey)) == 1
			secretOK := subtle.ConstantTimeCompare([]byte(gotSecret), []byte(apiSecret)) == 1
			if !keyOK || !secretOK {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid internal credentials")
			}

			return next(c)
		}
	}
}
