package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/corvuspay/bioguard/internal/usecase"
)

// SecurityHandler exposes threat assessment, reporting, password login, and
// the step-up second factor.
type SecurityHandler struct {
	coordinator *usecase.Coordinator
}

// NewSecurityHandler registers the security routes. The management routes
// (report, clear, step-up enrollment) require a valid session JWT.
func NewSecurityHandler(e *echo.Group, c *usecase.Coordinator, jwtSecret string) {
	handler := &SecurityHandler{coordinator: c}

	e.GET("/security/threat", handler.Threat)
	e.POST("/auth/password", handler.SetPassword)
	e.POST("/auth/password/login", handler.PasswordLogin)

	protected := e.Group("", JWTMiddleware(jwtSecret))
	protected.GET("/security/report", handler.Report)
	protected.POST("/security/clear", handler.Clear)
	protected.POST("/auth/stepup/setup", handler.StepUpSetup)
	protected.POST("/auth/stepup/enable", handler.StepUpEnable)
}

type setPasswordRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type passwordLoginRequest struct {
	Password   string `json:"password" validate:"required"`
	StepUpCode string `json:"step_up_code"`
}

type stepUpEnableRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// stepUpSetupResponse returns the secret and QR provisioning URI.
type stepUpSetupResponse struct {
	Secret string `json:"secret"`
	QRCode string `json:"qr_code_uri"`
}

// Threat runs a fresh threat assessment and returns the verdict.
func (h *SecurityHandler) Threat(c echo.Context) error {
	assessment := h.coordinator.AssessThreat(c.Request().Context())
	return c.JSON(http.StatusOK, assessment)
}

// Report returns the engine's current security report.
func (h *SecurityHandler) Report(c echo.Context) error {
	report, err := h.coordinator.GenerateSecurityReport(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, report)
}

// Clear wipes all locally persisted security state.
func (h *SecurityHandler) Clear(c echo.Context) error {
	if err := h.coordinator.ClearAllSecurityData(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "security data cleared"})
}

// SetPassword provisions the local password verifier.
func (h *SecurityHandler) SetPassword(c echo.Context) error {
	var req setPasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.UserID == "" || len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id and a password of at least 8 characters are required"})
	}

	if err := h.coordinator.SetPassword(c.Request().Context(), req.UserID, req.Password); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password configured"})
}

// PasswordLogin verifies the local password (plus step-up code when the
// threat tier demands it) and restarts the 30-day cadence.
func (h *SecurityHandler) PasswordLogin(c echo.Context) error {
	var req passwordLoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result := h.coordinator.PasswordLogin(c.Request().Context(), req.Password, req.StepUpCode)
	return c.JSON(statusForResult(result), result)
}

// StepUpSetup generates a pending TOTP secret for the step-up factor.
func (h *SecurityHandler) StepUpSetup(c echo.Context) error {
	secret, uri, err := h.coordinator.StepUpSetup(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, stepUpSetupResponse{Secret: secret, QRCode: uri})
}

// StepUpEnable verifies the first code and activates the step-up factor.
func (h *SecurityHandler) StepUpEnable(c echo.Context) error {
	var req stepUpEnableRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	err := h.coordinator.StepUpEnable(c.Request().Context(), req.Code)
	if err != nil {
		if errors.Is(err, usecase.ErrStepUpNotPending) || errors.Is(err, usecase.ErrInvalidStepUpCode) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "step_up_enabled_successfully"})
}
