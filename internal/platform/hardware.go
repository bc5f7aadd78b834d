package platform

import (
	"context"

	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
)

// SimulatedHardware implements domain.BiometricHardware for development and
// server-side deployments where the real sensor lives behind a platform
// bridge. The outcome of each prompt is fixed at construction; the engine
// never learns anything about the sensor beyond the PromptResult.
type SimulatedHardware struct {
	hasHardware bool
	enrolled    bool
	types       []string
	outcome     domain.PromptResult
	logger      *zap.Logger
}

// NewSimulatedHardware creates a simulator. approve controls whether prompts
// succeed.
func NewSimulatedHardware(approve bool, logger *zap.Logger) *SimulatedHardware {
	outcome := domain.PromptResult{Success: true}
	if !approve {
		outcome = domain.PromptResult{Success: false, Reason: domain.PromptFailed}
	}
	return &SimulatedHardware{
		hasHardware: true,
		enrolled:    true,
		types:       []string{"fingerprint"},
		outcome:     outcome,
		logger:      logger,
	}
}

// HasHardware reports whether a biometric sensor is present.
func (h *SimulatedHardware) HasHardware(_ context.Context) (bool, error) {
	return h.hasHardware, nil
}

// IsEnrolled reports whether the platform has biometric templates enrolled.
func (h *SimulatedHardware) IsEnrolled(_ context.Context) (bool, error) {
	return h.enrolled, nil
}

// SupportedTypes lists the biometric modalities the sensor supports.
func (h *SimulatedHardware) SupportedTypes(_ context.Context) ([]string, error) {
	return h.types, nil
}

// Prompt performs the single blocking verify operation.
func (h *SimulatedHardware) Prompt(_ context.Context, req domain.PromptRequest) (domain.PromptResult, error) {
	h.logger.Debug("simulated biometric prompt",
		zap.String("message", req.Message),
		zap.Bool("success", h.outcome.Success))
	return h.outcome, nil
}
