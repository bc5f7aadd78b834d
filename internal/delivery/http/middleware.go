package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/corvuspay/bioguard/pkg/security"
)

// JWTMiddleware validates the session JWT minted by a successful biometric
// or password authentication. It protects the management surface (report,
// clear, step-up enrollment).
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization header"})
			}

			// Expected format: "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format"})
			}

			claims, err := security.ValidateToken(parts[1], secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			// Inject session identity for downstream handlers.
			c.Set("user_id", claims.UserID)
			c.Set("device_id", claims.DeviceID)
			c.Set("auth_method", claims.AuthMethod)

			return next(c)
		}
	}
}
