// internal/removebg/removebg.go
package removebg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"flipcut/internal/models"
)

const DefaultEndpoint = "https://api.remove.bg/v1.0/removebg"

// Kind classifies provider failures so the pipeline never inspects raw
// HTTP statuses itself.
type Kind string

const (
	KindConfig    Kind = "config"     // missing or placeholder API key
	KindAuth      Kind = "auth"       // 403, key rejected
	KindQuota     Kind = "quota"      // 402, credits exhausted
	KindRateLimit Kind = "rate_limit" // 429
	KindOther     Kind = "other"      // anything else, incl. timeouts
)

type ProviderError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
}

func (e *ProviderError) Error() string { return e.Message }

type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client

	configured bool
}

func NewClient(cfg models.RemoveBGConfig) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: cfg.Timeout()},
		configured: cfg.Configured(),
	}
}

type removeRequest struct {
	ImageURL string `json:"image_url"`
	Size     string `json:"size"`
	Format   string `json:"format"`
}

// remove.bg error bodies look like {"errors":[{"title":"..."}]}.
type errorBody struct {
	Errors []struct {
		Title string `json:"title"`
	} `json:"errors"`
}

// RemoveBackground fetches a background-stripped PNG for the image at
// imageURL. All failures are *ProviderError.
func (c *Client) RemoveBackground(ctx context.Context, imageURL string) ([]byte, error) {
	if !c.configured {
		return nil, &ProviderError{
			Kind:    KindConfig,
			Message: "remove.bg API key not configured",
		}
	}

	payload, err := json.Marshal(removeRequest{ImageURL: imageURL, Size: "auto", Format: "png"})
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Message: fmt.Sprintf("Background removal failed: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Message: fmt.Sprintf("Background removal failed: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Message: fmt.Sprintf("Background removal failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Message: fmt.Sprintf("Background removal failed: %v", err), HTTPStatus: resp.StatusCode}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classify(resp.StatusCode, resp.Status, body)
}

func classify(code int, statusText string, body []byte) *ProviderError {
	switch code {
	case http.StatusForbidden:
		return &ProviderError{
			Kind:       KindAuth,
			Message:    "Invalid remove.bg API key (403). Please verify the configured API key is correct.",
			HTTPStatus: code,
		}
	case http.StatusPaymentRequired:
		return &ProviderError{
			Kind:       KindQuota,
			Message:    "remove.bg API credits exhausted. Please check your account.",
			HTTPStatus: code,
		}
	case http.StatusTooManyRequests:
		return &ProviderError{
			Kind:       KindRateLimit,
			Message:    "Rate limit exceeded. Please try again later.",
			HTTPStatus: code,
		}
	}

	msg := fmt.Sprintf("Background removal failed: %s", statusText)
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 && parsed.Errors[0].Title != "" {
		msg = parsed.Errors[0].Title
	}
	return &ProviderError{Kind: KindOther, Message: msg, HTTPStatus: code}
}
