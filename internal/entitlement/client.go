// Package entitlement talks to the external billing/entitlement service:
// feature flag checks and temporary, user-scoped access tokens. Users are
// looked up as "company" resources keyed by their user id.
package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the settings for the entitlement service client.
// Construction is explicit; there is no package-level singleton.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client is an HTTP client for the entitlement service.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a new entitlement Client. The API key is required
// here, at construction, rather than discovered missing on first use.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("entitlement api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.schematichq.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type lookup struct {
	ID string `json:"id"`
}

type tokenRequest struct {
	ResourceType string `json:"resource_type"`
	Lookup       lookup `json:"lookup"`
}

type tokenResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// IssueTemporaryAccessToken exchanges a user id for a short-lived access
// token scoped to that user's company resource. The token is opaque; its
// lifetime and revocation are owned by the entitlement service.
func (c *Client) IssueTemporaryAccessToken(ctx context.Context, userID string) (string, error) {
	reqBody := tokenRequest{
		ResourceType: "company",
		Lookup:       lookup{ID: userID},
	}

	var resp tokenResponse
	if err := c.post(ctx, "/temporary-access-tokens", reqBody, &resp); err != nil {
		return "", fmt.Errorf("issuing temporary access token: %w", err)
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("entitlement service returned no token")
	}

	return resp.Data.Token, nil
}

type flagCheckRequest struct {
	Company lookup `json:"company"`
}

type flagCheckResponse struct {
	Data struct {
		Value bool `json:"value"`
	} `json:"data"`
}

// CheckFlag evaluates a feature flag for the user's company.
func (c *Client) CheckFlag(ctx context.Context, userID, flag string) (bool, error) {
	reqBody := flagCheckRequest{Company: lookup{ID: userID}}

	var resp flagCheckResponse
	if err := c.post(ctx, "/flags/"+flag+"/check", reqBody, &resp); err != nil {
		return false, fmt.Errorf("checking flag %s: %w", flag, err)
	}

	return resp.Data.Value, nil
}

// post sends a JSON request to the entitlement API and decodes the
// response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling entitlement API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("entitlement API error (status %d): %s", resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
