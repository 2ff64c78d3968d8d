// Package bureau talks to the external credit bureau. The HTTP client
// implements the collaborator contract against a real bureau service; a
// deterministic stub stands in when no base URL is configured, and a
// caching wrapper memoizes responses so repeated assessments of the same
// client within a short window do not repeat the lookup.
package bureau

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

var _ domain.CreditChecker = (*Client)(nil)

// Client is the HTTP credit bureau collaborator.
type Client struct {
	baseURL       string
	apiKey        string
	requestSource string
	client        *http.Client
}

// NewClient creates an HTTP bureau client from config. Callers should use
// New, which falls back to the stub when no base URL is set.
func NewClient(cfg domain.BureauConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		requestSource: cfg.RequestSource,
		client:        &http.Client{Timeout: timeout},
	}
}

// New builds the configured checker chain: HTTP client or stub, wrapped
// with memoization when a cache and TTL are provided.
func New(cfg domain.BureauConfig, cache domain.Cache) domain.CreditChecker {
	var checker domain.CreditChecker
	if cfg.BaseURL == "" {
		checker = NewStub()
	} else {
		checker = NewClient(cfg)
	}
	if cache != nil && cfg.CacheTTLSecs > 0 {
		checker = NewCachingChecker(checker, cache, time.Duration(cfg.CacheTTLSecs)*time.Second, cfg.DailyLookupLimit)
	}
	return checker
}

// Check performs a credit lookup against the bureau service.
func (c *Client) Check(ctx context.Context, tenantID string, req domain.CreditCheckRequest) (*domain.CreditCheckResult, error) {
	if req.RequestSource == "" {
		req.RequestSource = c.requestSource
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/credit-checks", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bureau request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bureau response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bureau error (status %d): %s", resp.StatusCode, string(body))
	}

	var result domain.CreditCheckResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse bureau response: %w", err)
	}
	if result.ScoreDate.IsZero() {
		result.ScoreDate = time.Now().UTC()
	}
	return &result, nil
}
