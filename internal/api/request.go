package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Request describes one call to the API. URL is relative to the configured
// base URL unless it is absolute.
type Request struct {
	Method string
	URL    string
	Body   any
	Config RequestConfig

	form *form
}

// RequestConfig holds the per-call options.
type RequestConfig struct {
	// Params are sent as the query string and form part of the cache key.
	Params  map[string]any
	Headers map[string]string

	// Cache stores and serves the response. Only GET requests are cached.
	Cache    bool
	CacheTTL time.Duration

	// Timeout overrides the timeout chosen from the endpoint class.
	Timeout time.Duration

	// Schema names a registered validation schema the body must satisfy
	// before the request is sent.
	Schema string

	ShowGlobalLoading bool
	OnUploadProgress  func(UploadProgress)

	// Retries is the number of extra attempts made when no response is
	// received. Zero uses API_RETRY_ATTEMPTS; a negative value disables
	// retries.
	Retries int
}

// UploadProgress reports bytes of the request body sent so far.
type UploadProgress struct {
	Loaded     int64 `json:"loaded"`
	Total      int64 `json:"total"`
	Percentage int   `json:"percentage"`
}

// Response is the envelope returned for every successful request. Data is
// the response body as received; non-JSON bodies are carried as a JSON
// string.
type Response struct {
	Data      json.RawMessage `json:"data" yaml:"-"`
	Status    int             `json:"status" yaml:"status"`
	Message   string          `json:"message" yaml:"message"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func (r *Response) clone() *Response {
	out := *r
	out.Data = bytes.Clone(r.Data)
	return &out
}

func envelopeData(body []byte) json.RawMessage {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

// call is a request prepared for dispatch. It is immutable so that retries
// and the post-refresh replay send exactly the same request.
type call struct {
	method   string
	url      string
	target   string
	key      string
	headers  map[string]string
	body     *payload
	timeout  time.Duration
	retries  int
	progress func(UploadProgress)
}

type payload struct {
	data        []byte
	contentType string
	multipart   bool
}

func (c *Client) prepare(method, key string, req Request) (*call, error) {
	target, err := c.resolve(req.URL, req.Config.Params)
	if err != nil {
		return nil, err
	}

	cl := &call{
		method:   method,
		url:      req.URL,
		target:   target,
		key:      key,
		headers:  req.Config.Headers,
		progress: req.Config.OnUploadProgress,
	}

	switch {
	case req.form != nil:
		cl.body = &payload{data: req.form.data, contentType: req.form.contentType, multipart: true}
	case req.Body != nil:
		data, err := encodeBody(req.Body)
		if err != nil {
			return nil, err
		}
		cl.body = &payload{data: data, contentType: "application/json"}
	}

	cl.timeout = c.timeoutFor(req, cl.body)

	cl.retries = req.Config.Retries
	if cl.retries == 0 {
		cl.retries = c.cfg.RetryAttempts
	}
	cl.retries = max(cl.retries, 0)

	return cl, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return data, nil
}

// resolve joins path to the base URL and appends params as the query.
func (c *Client) resolve(path string, params map[string]any) (string, error) {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", path, err)
	}

	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			for _, s := range queryValues(v) {
				q.Add(k, s)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func queryValues(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, queryValues(item)...)
		}
		return out
	case bool:
		return []string{strconv.FormatBool(val)}
	case float64:
		return []string{strconv.FormatFloat(val, 'f', -1, 64)}
	default:
		return []string{fmt.Sprint(val)}
	}
}

type endpointClass int

const (
	classDefault endpointClass = iota
	classAuth
	classUpload
	classDownload
	classRealtime
)

// classify picks the endpoint class from the first path segment.
func classify(path string) endpointClass {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		path = u.Path
	}

	segment, _, _ := strings.Cut(strings.TrimLeft(path, "/"), "/")
	segment, _, _ = strings.Cut(segment, "?")

	switch {
	case slices.Contains([]string{"auth", "login", "logout", "register"}, segment):
		return classAuth
	case slices.Contains([]string{"upload", "files"}, segment):
		return classUpload
	case slices.Contains([]string{"download", "export"}, segment):
		return classDownload
	case slices.Contains([]string{"ws", "realtime", "notifications"}, segment):
		return classRealtime
	default:
		return classDefault
	}
}

// timeoutFor returns the request timeout. Zero means no timeout.
func (c *Client) timeoutFor(req Request, body *payload) time.Duration {
	if req.Config.Timeout > 0 {
		return req.Config.Timeout
	}

	if body != nil && body.multipart {
		if req.form.multiple {
			return c.cfg.MultiUploadTimeout()
		}
		return c.cfg.UploadTimeout()
	}

	switch classify(req.URL) {
	case classAuth:
		return c.cfg.AuthTimeout()
	case classUpload:
		return c.cfg.UploadTimeout()
	case classDownload:
		return c.cfg.DownloadTimeout()
	case classRealtime:
		return 0
	default:
		return c.cfg.Timeout()
	}
}
