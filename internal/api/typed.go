package api

import (
	"context"
	"net/http"
)

// Decode unmarshals the data of resp into a T. Decoding failures are
// recorded with the client's error manager like any other failure.
func Decode[T any](ctx context.Context, c *Client, req Request, resp *Response) (T, error) {
	var out T
	if err := resp.Decode(&out); err != nil {
		return out, c.errors.Handle(ctx, err, req.Method+" "+req.URL)
	}
	return out, nil
}

func doAs[T any](ctx context.Context, c *Client, req Request) (T, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](ctx, c, req, resp)
}

// GetAs performs a GET and returns only the decoded data.
func GetAs[T any](ctx context.Context, c *Client, url string, cfg RequestConfig) (T, error) {
	return doAs[T](ctx, c, Request{Method: http.MethodGet, URL: url, Config: cfg})
}

func PostAs[T any](ctx context.Context, c *Client, url string, body any, cfg RequestConfig) (T, error) {
	return doAs[T](ctx, c, Request{Method: http.MethodPost, URL: url, Body: body, Config: cfg})
}

func PutAs[T any](ctx context.Context, c *Client, url string, body any, cfg RequestConfig) (T, error) {
	return doAs[T](ctx, c, Request{Method: http.MethodPut, URL: url, Body: body, Config: cfg})
}

func PatchAs[T any](ctx context.Context, c *Client, url string, body any, cfg RequestConfig) (T, error) {
	return doAs[T](ctx, c, Request{Method: http.MethodPatch, URL: url, Body: body, Config: cfg})
}

func DeleteAs[T any](ctx context.Context, c *Client, url string, cfg RequestConfig) (T, error) {
	return doAs[T](ctx, c, Request{Method: http.MethodDelete, URL: url, Config: cfg})
}
