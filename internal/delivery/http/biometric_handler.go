package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/corvuspay/bioguard/internal/domain"
	"github.com/corvuspay/bioguard/internal/usecase"
)

// BiometricHandler is the HTTP delivery layer for the biometric
// authentication flows.
type BiometricHandler struct {
	coordinator *usecase.Coordinator
}

// NewBiometricHandler registers the biometric routes on the provided group.
func NewBiometricHandler(e *echo.Group, c *usecase.Coordinator) {
	handler := &BiometricHandler{coordinator: c}

	e.GET("/biometric/availability", handler.Availability)
	e.POST("/biometric/authenticate", handler.Authenticate)
	e.POST("/biometric/enroll", handler.Enroll)
	e.POST("/biometric/disable", handler.Disable)
}

// enrollRequest defines the expected JSON payload for enrollment.
type enrollRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// Availability reports hardware capability and enablement state.
func (h *BiometricHandler) Availability(c echo.Context) error {
	availability, err := h.coordinator.CheckAvailability(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, availability)
}

// Authenticate runs the biometric authentication state machine. Policy
// denials map to 403, authentication failures to 401.
func (h *BiometricHandler) Authenticate(c echo.Context) error {
	result := h.coordinator.Authenticate(c.Request().Context())
	return c.JSON(statusForResult(result), result)
}

// Enroll runs the biometric enrollment flow.
func (h *BiometricHandler) Enroll(c echo.Context) error {
	var req enrollRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
	}

	result := h.coordinator.Enroll(c.Request().Context(), req.UserID)
	return c.JSON(statusForResult(result), result)
}

// Disable turns biometric authentication off. Always allowed.
func (h *BiometricHandler) Disable(c echo.Context) error {
	if err := h.coordinator.Disable(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "biometric authentication disabled"})
}

// statusForResult maps an engine result to an HTTP status.
func statusForResult(result domain.AuthResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.ErrorCode {
	case domain.ErrCodeRateLimited, domain.ErrCodeTooManyAttempts:
		return http.StatusTooManyRequests
	case domain.ErrCodeThreatBlocked, domain.ErrCodePasswordRequired, domain.ErrCodeReEnrollRequired:
		return http.StatusForbidden
	case domain.ErrCodeHardwareUnavailable, domain.ErrCodeNotEnrolled, domain.ErrCodeNoToken:
		return http.StatusPreconditionFailed
	case domain.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}
