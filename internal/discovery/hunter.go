package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/TobiSchelling/outreach/internal/config"
)

// FinderMatch is a person-finder hit.
type FinderMatch struct {
	Email    string
	Score    int
	Position string
	LinkedIn string
}

// Finder looks a named person up at a domain. A nil match with a nil error
// means the service had no result.
type Finder interface {
	Find(ctx context.Context, domain, first, last string) (*FinderMatch, error)
}

// HunterClient queries a Hunter-style email-finder endpoint.
type HunterClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewHunterClient creates a finder client. The API key is read from the
// environment variable named in cfg.
func NewHunterClient(cfg config.Finder, client *http.Client) *HunterClient {
	return &HunterClient{
		apiKey:  os.Getenv(cfg.APIKeyEnv),
		baseURL: cfg.BaseURL,
		client:  client,
	}
}

// IsConfigured returns whether the API key is available.
func (h *HunterClient) IsConfigured() bool {
	return h.apiKey != "" && h.baseURL != ""
}

// Find calls the email-finder endpoint.
func (h *HunterClient) Find(ctx context.Context, domain, first, last string) (*FinderMatch, error) {
	params := url.Values{
		"api_key":    {h.apiKey},
		"domain":     {domain},
		"first_name": {first},
		"last_name":  {last},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("finder request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("finder API error %d: %s", resp.StatusCode, snippet)
	}

	var result struct {
		Data struct {
			Email       string `json:"email"`
			Score       int    `json:"score"`
			Position    string `json:"position"`
			LinkedInURL string `json:"linkedin_url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding finder response: %w", err)
	}
	if result.Data.Email == "" {
		return nil, nil
	}
	return &FinderMatch{
		Email:    result.Data.Email,
		Score:    result.Data.Score,
		Position: result.Data.Position,
		LinkedIn: result.Data.LinkedInURL,
	}, nil
}
