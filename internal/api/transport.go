package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/apierr"
	"github.com/tillpoint/posadmin/internal/audit"
	"github.com/tillpoint/posadmin/internal/token"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// dispatch sends the call with a valid access token. A 401 answer to an
// authenticated request triggers one token refresh and one replay; the
// replay's outcome is final.
func (c *Client) dispatch(ctx context.Context, cl *call) (*Response, error) {
	accessToken, err := c.tokens.ValidAccessToken(ctx)
	if err != nil {
		return nil, c.refreshFailed(ctx, cl, err)
	}

	resp, err := c.attempt(ctx, cl, accessToken)

	var rejected *apierr.ResponseError
	if accessToken == "" || !errors.As(err, &rejected) || rejected.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	log.Ctx(ctx).Debug().
		Str("method", cl.method).
		Str("url", cl.url).
		Msg("access token rejected, refreshing")

	fresh, refreshErr := c.tokens.RefreshAfterReject(ctx, accessToken)
	if refreshErr != nil {
		if ctx.Err() == nil {
			c.expireSession(ctx, refreshErr)
		}
		return nil, err
	}

	audit.Log(ctx).Refreshed = true

	return c.attempt(ctx, cl, fresh)
}

// refreshFailed converts a failure to obtain a token before dispatch. Unless
// the caller gave up, the session is gone and the request is reported as
// unauthorized.
func (c *Client) refreshFailed(ctx context.Context, cl *call, err error) error {
	if ctx.Err() != nil {
		return &apierr.RequestError{Method: cl.method, URL: cl.url, Err: err}
	}

	c.expireSession(ctx, err)

	rejected := &apierr.ResponseError{
		Method:     cl.method,
		URL:        cl.url,
		StatusCode: http.StatusUnauthorized,
	}

	var refreshErr *token.RefreshError
	if errors.As(err, &refreshErr) {
		rejected.Body = []byte(refreshErr.Body)
	}

	return rejected
}

func (c *Client) expireSession(ctx context.Context, cause error) {
	log.Ctx(ctx).Warn().Err(cause).Msg("token refresh failed, session expired")

	c.tokens.Clear()
	if c.onSessionExpired != nil {
		c.onSessionExpired(ctx)
	}
}

// attempt sends the call, retrying with exponential backoff when no
// response was received. Responses of any status are never retried.
func (c *Client) attempt(ctx context.Context, cl *call, accessToken string) (*Response, error) {
	if cl.retries == 0 {
		return c.roundTrip(ctx, cl, accessToken)
	}

	op := func() (*Response, error) {
		resp, err := c.roundTrip(ctx, cl, accessToken)
		if err == nil {
			return resp, nil
		}

		var reqErr *apierr.RequestError
		if !errors.As(err, &reqErr) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(cl.retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Debug().Err(err).
				Str("url", cl.url).
				Dur("retry_in", next).
				Msg("request failed without response, retrying")
		}),
	)
	if err != nil {
		var reqErr *apierr.RequestError
		var respErr *apierr.ResponseError
		if !errors.As(err, &reqErr) && !errors.As(err, &respErr) {
			// the retry loop itself stopped, usually on cancellation
			err = &apierr.RequestError{Method: cl.method, URL: cl.url, Err: err}
		}
		return nil, err
	}

	return resp, nil
}

// roundTrip performs a single HTTP exchange.
func (c *Client) roundTrip(ctx context.Context, cl *call, accessToken string) (*Response, error) {
	audit.Log(ctx).Attempts++

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &apierr.RequestError{Method: cl.method, URL: cl.url, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	if cl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cl.timeout)
		defer cancel()
	}

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body.data)
		if cl.body.multipart {
			body = c.trackProgress(body, cl)
		}
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, cl.target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.ContentLength = int64(len(cl.body.data))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cl.headers {
		req.Header.Set(k, v)
	}
	if cl.body != nil && cl.body.multipart {
		req.Header.Set("Content-Type", cl.body.contentType)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if csrf := c.csrfToken(); csrf != "" {
		req.Header.Set("X-CSRFToken", csrf)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apierr.RequestError{Method: cl.method, URL: cl.url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &apierr.RequestError{Method: cl.method, URL: cl.url, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	audit.Log(ctx).Status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apierr.ResponseError{
			Method:     cl.method,
			URL:        cl.url,
			StatusCode: resp.StatusCode,
			Body:       data,
		}
	}

	return &Response{
		Data:      envelopeData(data),
		Status:    resp.StatusCode,
		Message:   statusText(resp),
		Timestamp: c.now(),
	}, nil
}

// statusText returns the reason phrase of the status line.
func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	text = strings.TrimSpace(text)
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

// progressReader reports body bytes as the transport consumes them.
type progressReader struct {
	r      io.Reader
	total  int64
	loaded int64
	report func(UploadProgress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)

		pct := 0
		if p.total > 0 {
			pct = int(p.loaded * 100 / p.total)
		}
		p.report(UploadProgress{Loaded: p.loaded, Total: p.total, Percentage: pct})
	}
	return n, err
}

func (c *Client) trackProgress(r io.Reader, cl *call) io.Reader {
	return &progressReader{
		r:     r,
		total: int64(len(cl.body.data)),
		report: func(p UploadProgress) {
			c.loading.SetUploadProgress(cl.key, p.Percentage)
			if cl.progress != nil {
				cl.progress(p)
			}
		},
	}
}
