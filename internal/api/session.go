package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/apierr"
	"github.com/tillpoint/posadmin/internal/audit"
	"github.com/tillpoint/posadmin/internal/token"
)

// Login exchanges credentials for a token pair and installs it. Earlier
// cached responses belong to the previous session and are dropped.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, entry := audit.Context(ctx)
	entry.Begin(http.MethodPost, c.loginPath)
	defer entry.End(ctx)()

	key := c.loginPath
	c.loading.SetGlobalLoading(true)
	defer c.loading.SetGlobalLoading(false)

	target, err := c.resolve(c.loginPath, nil)
	if err != nil {
		return c.fail(ctx, err, http.MethodPost, key)
	}

	if timeout := c.cfg.AuthTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	entry.Attempts++
	grant, err := token.PostGrant(ctx, c.httpClient, target, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return c.fail(ctx, grantError(err, c.loginPath), http.MethodPost, key)
	}

	if err := c.tokens.SetFromGrant(grant); err != nil {
		return c.fail(ctx, err, http.MethodPost, key)
	}

	entry.Status = http.StatusOK
	c.ClearCache(ctx)

	log.Ctx(ctx).Info().Str("username", username).Msg("logged in")

	return nil
}

// grantError maps a failed grant exchange onto the transport error shapes
// the error manager understands.
func grantError(err error, path string) error {
	var rejected *token.RefreshError
	if errors.As(err, &rejected) {
		return &apierr.ResponseError{
			Method:     http.MethodPost,
			URL:        path,
			StatusCode: rejected.Status,
			Body:       []byte(rejected.Body),
		}
	}

	var transport *url.Error
	if errors.As(err, &transport) {
		return &apierr.RequestError{Method: http.MethodPost, URL: path, Err: err}
	}

	return err
}
