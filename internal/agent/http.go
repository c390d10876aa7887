package agent

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

	"voice-platform/internal/config"
)

// HTTPClient is the REST implementation of Client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

const requestTimeout = 15 * time.Second

func NewHTTPClient(cfg config.AgentConfig, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.With("component", "agent_platform"),
	}
}

// APIError is a non-2xx agent platform response.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent platform %s failed: %s (status %d)", e.Op, e.Message, e.Status)
}

func (c *HTTPClient) ImportPhoneNumber(ctx context.Context, req ImportRequest) (PhoneNumber, error) {
	var out PhoneNumber
	if err := c.do(ctx, http.MethodPost, "/import-phone-number", req, &out); err != nil {
		return PhoneNumber{}, err
	}
	return out, nil
}

func (c *HTTPClient) UpdatePhoneNumber(ctx context.Context, number string, req UpdateRequest) (PhoneNumber, error) {
	var out PhoneNumber
	path := "/update-phone-number/" + url.PathEscape(number)
	if err := c.do(ctx, http.MethodPatch, path, req, &out); err != nil {
		return PhoneNumber{}, err
	}
	return out, nil
}

func (c *HTTPClient) DeletePhoneNumber(ctx context.Context, number string) error {
	return c.do(ctx, http.MethodDelete, "/delete-phone-number/"+url.PathEscape(number), nil, nil)
}

func (c *HTTPClient) ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error) {
	var out []PhoneNumber
	if err := c.do(ctx, http.MethodGet, "/list-phone-numbers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("agent: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("agent: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Op: method + " " + path, Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if jsonErr := json.Unmarshal(raw, &payload); jsonErr == nil {
			apiErr.Message = payload.Message
			if apiErr.Message == "" {
				apiErr.Message = payload.Error
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.log.Debug("agent platform call failed", "op", apiErr.Op, "status", apiErr.Status)
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("agent: decode response: %w", err)
	}
	return nil
}
