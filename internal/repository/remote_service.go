package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
)

// HTTPRemoteTokenService implements domain.RemoteTokenService against the
// remote authentication service's JSON API. Every call carries a bounded
// timeout; the engine treats any failure here as "continue locally", so the
// client never retries.
type HTTPRemoteTokenService struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPRemoteTokenService creates a client for the given base URL.
func NewHTTPRemoteTokenService(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPRemoteTokenService {
	return &HTTPRemoteTokenService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// MintToken registers a freshly minted local token with the remote service.
func (r *HTTPRemoteTokenService) MintToken(ctx context.Context, tokenType, deviceID, localToken string) error {
	return r.post(ctx, "/v1/tokens", map[string]any{
		"type":      tokenType,
		"device_id": deviceID,
		"token":     localToken,
	}, nil)
}

// ValidateToken asks the remote service whether the token is still valid and
// whether it should be rotated.
func (r *HTTPRemoteTokenService) ValidateToken(ctx context.Context, token, deviceID string) (domain.RemoteValidation, error) {
	var result domain.RemoteValidation
	err := r.post(ctx, "/v1/tokens/validate", map[string]any{
		"token":     token,
		"device_id": deviceID,
	}, &result)
	if err != nil {
		return domain.RemoteValidation{}, err
	}
	return result, nil
}

// RefreshToken swaps the server-side copy of an expiring token for its
// replacement.
func (r *HTTPRemoteTokenService) RefreshToken(ctx context.Context, oldToken, newToken, deviceID string) error {
	return r.post(ctx, "/v1/tokens/refresh", map[string]any{
		"old_token": oldToken,
		"new_token": newToken,
		"device_id": deviceID,
	}, nil)
}

// RevokeTokens revokes the token for one device, or every token for the user
// when userID is set.
func (r *HTTPRemoteTokenService) RevokeTokens(ctx context.Context, userID, deviceID string) error {
	return r.post(ctx, "/v1/tokens/revoke", map[string]any{
		"user_id":   userID,
		"device_id": deviceID,
	}, nil)
}

// AppendAudit reports an authentication outcome to the remote audit trail.
func (r *HTTPRemoteTokenService) AppendAudit(ctx context.Context, action, tokenType, deviceID string, success bool, errMsg string) error {
	return r.post(ctx, "/v1/audit", map[string]any{
		"action":    action,
		"type":      tokenType,
		"device_id": deviceID,
		"success":   success,
		"error":     errMsg,
	}, nil)
}

func (r *HTTPRemoteTokenService) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("remote call %s: status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}

	r.logger.Debug("remote call succeeded", zap.String("path", path))
	return nil
}
