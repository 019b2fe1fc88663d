// Package backend is the client for the ride-sharing REST API: vehicle CRUD
// and verification session updates.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vbonduro/rideshare/internal/capture"
	"github.com/vbonduro/rideshare/internal/domain"
)

// maxErrorBody caps how much of an error response is kept as the message.
const maxErrorBody = 4096

// APIError is a non-2xx response. Message is the backend's own text.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	token   string
	client  *http.Client
	baseURL string
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		token:   token,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type verificationUpdate struct {
	Vehicle *capture.VehicleSubmission `json:"vehicle"`
}

func (c *Client) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	var vehicles []domain.Vehicle
	if err := c.do(ctx, http.MethodGet, "/vehicles", nil, &vehicles); err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return vehicles, nil
}

func (c *Client) CreateVehicle(ctx context.Context, sub *capture.VehicleSubmission) (*domain.Vehicle, error) {
	var v domain.Vehicle
	if err := c.do(ctx, http.MethodPost, "/vehicles", sub, &v); err != nil {
		return nil, fmt.Errorf("failed to create vehicle: %w", err)
	}
	return &v, nil
}

func (c *Client) UpdateVehicle(ctx context.Context, id string, sub *capture.VehicleSubmission) (*domain.Vehicle, error) {
	var v domain.Vehicle
	if err := c.do(ctx, http.MethodPut, "/vehicles/"+url.PathEscape(id), sub, &v); err != nil {
		return nil, fmt.Errorf("failed to update vehicle: %w", err)
	}
	return &v, nil
}

func (c *Client) DeleteVehicle(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/vehicles/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete vehicle: %w", err)
	}
	return nil
}

// UpdateVerificationSession attaches the vehicle submission to an identity
// verification session.
func (c *Client) UpdateVerificationSession(ctx context.Context, sessionID string, sub *capture.VehicleSubmission) error {
	body := verificationUpdate{Vehicle: sub}
	if err := c.do(ctx, http.MethodPatch, "/verification-sessions/"+url.PathEscape(sessionID), body, nil); err != nil {
		return fmt.Errorf("failed to update verification session: %w", err)
	}
	return nil
}

// newHTTPRequest creates an authenticated JSON request against the backend.
func (c *Client) newHTTPRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := c.newHTTPRequest(ctx, method, path, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call backend: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close backend response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, errBody)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage prefers the backend's JSON "message" or "error" field and
// falls back to the raw body.
func errorMessage(status int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}
