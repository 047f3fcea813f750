// Package payroll speaks the remote payroll API: bearer-token auth plus a
// batched sync endpoint with per-record accept/reject accounting. All wire
// shapes are decoded at this boundary; callers only see ports types.
package payroll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"biosync/internal/bootstrap/config"
	"biosync/internal/errs"
	"biosync/internal/ports"
)

var ErrNotConfigured = errors.New("payroll base url is not configured")

type Client struct {
	baseURL     string
	authTimeout time.Duration
	syncTimeout time.Duration
	httpClient  *http.Client
}

var _ ports.PayrollGateway = (*Client)(nil)

func NewClient(cfg config.PayrollConfig) *Client {
	authTimeout := time.Duration(cfg.AuthTimeoutSeconds) * time.Second
	if authTimeout <= 0 {
		authTimeout = 30 * time.Second
	}
	syncTimeout := time.Duration(cfg.SyncTimeoutSeconds) * time.Second
	if syncTimeout <= 0 {
		syncTimeout = 60 * time.Second
	}

	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		authTimeout: authTimeout,
		syncTimeout: syncTimeout,
		httpClient:  &http.Client{},
	}
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string `json:"token"`
	Principal string `json:"principal"`
	Org       string `json:"org"`
	Message   string `json:"message"`
}

type syncRequest struct {
	FromBiometrics    bool                 `json:"fromBiometrics"`
	FromLegacyMapping bool                 `json:"fromLegacyMapping"`
	Entries           []ports.PayrollEntry `json:"entries"`
}

func (c *Client) Authenticate(ctx context.Context, username string, password string) (ports.PayrollSession, error) {
	if ctx == nil {
		return ports.PayrollSession{}, errors.New("context is required")
	}
	if c.baseURL == "" {
		return ports.PayrollSession{}, ErrNotConfigured
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	status, body, err := c.post(reqCtx, c.baseURL+"/auth", "", authRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return ports.PayrollSession{}, errs.Wrap(err, "post auth")
	}

	switch status {
	case http.StatusOK:
		var decoded authResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return ports.PayrollSession{}, errs.Wrap(err, "decode auth response")
		}
		if strings.TrimSpace(decoded.Token) == "" {
			return ports.PayrollSession{}, errors.New("auth response carried no token")
		}
		return ports.PayrollSession{
			Token:     decoded.Token,
			Principal: decoded.Principal,
			Org:       decoded.Org,
		}, nil
	case http.StatusUnauthorized:
		var decoded authResponse
		_ = json.Unmarshal(body, &decoded)
		if msg := strings.TrimSpace(decoded.Message); msg != "" {
			return ports.PayrollSession{}, fmt.Errorf("%w: %s", ports.ErrPayrollCredentials, msg)
		}
		return ports.PayrollSession{}, ports.ErrPayrollCredentials
	default:
		return ports.PayrollSession{}, fmt.Errorf("auth failed: HTTP %d", status)
	}
}

func (c *Client) SubmitBatch(ctx context.Context, token string, entries []ports.PayrollEntry) (ports.BatchResult, error) {
	if ctx == nil {
		return ports.BatchResult{}, errors.New("context is required")
	}
	if c.baseURL == "" {
		return ports.BatchResult{}, ErrNotConfigured
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	status, body, err := c.post(reqCtx, c.baseURL+"/sync", token, syncRequest{
		FromBiometrics:    true,
		FromLegacyMapping: true,
		Entries:           entries,
	})
	if err != nil {
		return ports.BatchResult{}, errs.Wrap(err, "post sync batch")
	}

	switch status {
	case http.StatusOK:
		return decodeBatchResult(body)
	case http.StatusBadRequest:
		// A 400 that still reports accepted records is a partial success,
		// not a batch-level failure.
		result, err := decodeBatchResult(body)
		if err == nil && len(result.AcceptedIDs) > 0 {
			return result, nil
		}
		return ports.BatchResult{}, fmt.Errorf("sync rejected: %s", errorMessage(body))
	case http.StatusUnauthorized:
		return ports.BatchResult{}, ports.ErrPayrollUnauthorized
	default:
		return ports.BatchResult{}, fmt.Errorf("sync failed: HTTP %d", status)
	}
}

func (c *Client) post(ctx context.Context, url string, token string, payload any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, errs.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, errs.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, errs.Wrap(err, "read response body")
	}
	return resp.StatusCode, body, nil
}

func decodeBatchResult(body []byte) (ports.BatchResult, error) {
	var result ports.BatchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ports.BatchResult{}, errs.Wrap(err, "decode sync response")
	}
	return result, nil
}

func errorMessage(body []byte) string {
	var decoded struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil {
		if msg := strings.TrimSpace(decoded.Message); msg != "" {
			return msg
		}
	}
	return "bad request"
}
