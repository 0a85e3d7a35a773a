package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RefreshError is returned when the refresh endpoint rejects the exchange.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh endpoint returned status %d", e.Status)
}

func (e *RefreshError) StatusCode() int {
	return e.Status
}

// HTTPRefresher calls the backend refresh endpoint with a JSON body of the
// form {"refreshToken": "..."}.
type HTTPRefresher struct {
	BaseURL string
	Path    string
	Client  *http.Client
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	return PostGrant(ctx, r.client(), joinURL(r.BaseURL, r.Path), map[string]string{
		"refreshToken": refreshToken,
	})
}

func (r *HTTPRefresher) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

// PostGrant posts a JSON body and decodes a token grant from a 2xx response.
// Login and refresh share this exchange.
func PostGrant(ctx context.Context, client *http.Client, url string, body any) (Grant, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Grant{}, fmt.Errorf("failed to encode grant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Grant{}, fmt.Errorf("failed to create grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("grant request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Grant{}, fmt.Errorf("failed to read grant response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Grant{}, &RefreshError{Status: resp.StatusCode, Body: string(data)}
	}

	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return Grant{}, fmt.Errorf("failed to decode grant response: %w", err)
	}

	return g, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
