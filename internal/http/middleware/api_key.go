package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/relaypoint/outreach-engine/internal/repository"
)

// BusinessIDFromCtx extracts the authenticated business_id set by APIKeyMiddleware.
func BusinessIDFromCtx(c echo.Context) (int64, bool) {
	v := c.Get("business_id")
	id, ok := v.(int64)
	return id, ok
}

// APIKeyMiddleware authenticates requests using X-API-Key header.
// On success it stores business_id in context and blocks suspended accounts.
func APIKeyMiddleware(businesses repository.BusinessesRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			b, err := businesses.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if b == nil || b.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set("business_id", b.ID)
			if b.RateLimitRPS != nil {
				c.Set("business_rps", *b.RateLimitRPS)
			}
			return next(c)
		}
	}
}
