package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/apierr"
	"github.com/tillpoint/posadmin/internal/audit"
	"github.com/tillpoint/posadmin/internal/loading"
	"golang.org/x/oauth2"
)

// Download streams the body of a GET on url into w and returns the number of
// bytes written. The body is neither buffered, cached nor wrapped in an
// envelope, which suits exports and reports. Credentials are attached by an
// oauth2 transport over the client's token manager; a 401 is answered with
// one refresh and one replay as in Do.
func (c *Client) Download(ctx context.Context, url string, params map[string]any, w io.Writer) (int64, error) {
	ctx, entry := audit.Context(ctx)
	entry.Begin(http.MethodGet, url)
	defer entry.End(ctx)()

	key := loading.RequestKey(http.MethodGet, url)
	c.loading.SetRequestLoading(key, true)
	defer c.loading.SetRequestLoading(key, false)

	target, err := c.resolve(url, params)
	if err != nil {
		return 0, c.fail(ctx, err, http.MethodGet, url)
	}

	cl := &call{
		method:  http.MethodGet,
		url:     url,
		target:  target,
		key:     key,
		timeout: c.cfg.DownloadTimeout(),
	}

	n, err := c.download(ctx, cl, w)
	entry.Bytes = n
	if err != nil {
		return n, c.fail(ctx, err, cl.method, cl.url)
	}

	return n, nil
}

func (c *Client) download(ctx context.Context, cl *call, w io.Writer) (int64, error) {
	accessToken, err := c.tokens.ValidAccessToken(ctx)
	if err != nil {
		return 0, c.refreshFailed(ctx, cl, err)
	}
	if accessToken == "" {
		return 0, &apierr.ResponseError{Method: cl.method, URL: cl.url, StatusCode: http.StatusUnauthorized}
	}

	if cl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cl.timeout)
		defer cancel()
	}

	resp, err := c.fetch(ctx, cl)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		rejected := drain(resp)

		log.Ctx(ctx).Debug().Str("url", cl.url).Msg("access token rejected, refreshing")

		if _, err := c.tokens.RefreshAfterReject(ctx, accessToken); err != nil {
			if ctx.Err() == nil {
				c.expireSession(ctx, err)
			}
			return 0, &apierr.ResponseError{Method: cl.method, URL: cl.url, StatusCode: resp.StatusCode, Body: rejected}
		}
		audit.Log(ctx).Refreshed = true

		resp, err = c.fetch(ctx, cl)
		if err != nil {
			return 0, err
		}
	}
	defer resp.Body.Close()

	audit.Log(ctx).Status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &apierr.ResponseError{
			Method:     cl.method,
			URL:        cl.url,
			StatusCode: resp.StatusCode,
			Body:       drain(resp),
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &apierr.RequestError{Method: cl.method, URL: cl.url, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return n, nil
}

// fetch sends one GET through a fresh oauth2 client, so every attempt asks
// the token manager for the current token.
func (c *Client) fetch(ctx context.Context, cl *call) (*http.Response, error) {
	audit.Log(ctx).Attempts++

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &apierr.RequestError{Method: cl.method, URL: cl.url, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	base := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	httpClient := oauth2.NewClient(base, c.tokens.TokenSource(ctx))

	req, err := http.NewRequestWithContext(ctx, cl.method, cl.target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	if csrf := c.csrfToken(); csrf != "" {
		req.Header.Set("X-CSRFToken", csrf)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &apierr.RequestError{Method: cl.method, URL: cl.url, Err: err}
	}

	return resp, nil
}

// drain reads a bounded error body and closes it.
func drain(resp *http.Response) []byte {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return data
}
