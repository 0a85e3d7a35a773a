package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tillpoint/posadmin/internal/config"
)

func TestClassify(t *testing.T) {
	cases := map[string]endpointClass{
		"/auth/refresh":              classAuth,
		"login":                      classAuth,
		"/register/":                 classAuth,
		"/files/123":                 classUpload,
		"/upload":                    classUpload,
		"/export/sales?from=2024":    classDownload,
		"/download":                  classDownload,
		"/notifications/stream":      classRealtime,
		"/products":                  classDefault,
		"":                           classDefault,
		"https://pos.test/api/login": classDefault,
		"https://pos.test/auth/x":    classAuth,
	}

	for path, expected := range cases {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, expected, classify(path))
		})
	}
}

func TestTimeoutFor(t *testing.T) {
	c := New(config.APIConfig{
		BaseURL:                   "http://pos.test/api",
		TimeoutSeconds:            30,
		AuthTimeoutSeconds:        10,
		DownloadTimeoutSeconds:    60,
		UploadTimeoutSeconds:      300,
		MultiUploadTimeoutSeconds: 600,
	}, Dependencies{})

	single := &payload{multipart: true}

	cases := []struct {
		name     string
		req      Request
		body     *payload
		expected time.Duration
	}{
		{name: "default", req: Request{URL: "/products"}, expected: 30 * time.Second},
		{name: "auth", req: Request{URL: "/auth/login"}, expected: 10 * time.Second},
		{name: "download", req: Request{URL: "/export/sales"}, expected: time.Minute},
		{name: "realtime has none", req: Request{URL: "/ws"}, expected: 0},
		{name: "single upload", req: Request{URL: "/products/1/image", form: &form{}}, body: single, expected: 5 * time.Minute},
		{name: "multi upload", req: Request{URL: "/imports", form: &form{multiple: true}}, body: single, expected: 10 * time.Minute},
		{name: "override", req: Request{URL: "/auth/login", Config: RequestConfig{Timeout: time.Second}}, expected: time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, c.timeoutFor(tc.req, tc.body))
		})
	}
}

func TestResolve(t *testing.T) {
	c := New(config.APIConfig{BaseURL: "http://pos.test/api/"}, Dependencies{})

	target, err := c.resolve("/products", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://pos.test/api/products", target)

	target, err = c.resolve("products?sort=name", map[string]any{"page": 1, "active": true, "ratio": 0.5, "skip": nil})
	require.NoError(t, err)
	assert.Equal(t, "http://pos.test/api/products?active=true&page=1&ratio=0.5&sort=name", target)

	target, err = c.resolve("https://cdn.pos.test/menu.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.pos.test/menu.json", target)
}

func TestEnvelopeData(t *testing.T) {
	assert.Nil(t, envelopeData(nil))
	assert.Nil(t, envelopeData([]byte("  \n")))
	assert.JSONEq(t, `{"a":1}`, string(envelopeData([]byte(`{"a":1}`))))
	assert.JSONEq(t, `"not json"`, string(envelopeData([]byte("not json"))))
}

func TestPrepare_Retries(t *testing.T) {
	c := New(config.APIConfig{BaseURL: "http://pos.test/api", TimeoutSeconds: 30, RetryAttempts: 2}, Dependencies{})

	cases := map[int]int{0: 2, 4: 4, -1: 0}
	for requested, expected := range cases {
		cl, err := c.prepare("GET", "GET:/x", Request{URL: "/x", Config: RequestConfig{Retries: requested}})
		require.NoError(t, err)
		assert.Equal(t, expected, cl.retries, "requested %d", requested)
	}
}

func TestPrepare_BodyEncoding(t *testing.T) {
	c := New(config.APIConfig{BaseURL: "http://pos.test/api", TimeoutSeconds: 30}, Dependencies{})

	cl, err := c.prepare("POST", "POST:/x", Request{URL: "/x", Body: map[string]int{"qty": 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"qty":2}`, string(cl.body.data))
	assert.Equal(t, "application/json", cl.body.contentType)

	cl, err = c.prepare("POST", "POST:/x", Request{URL: "/x", Body: []byte(`{"raw":true}`)})
	require.NoError(t, err)
	assert.Equal(t, `{"raw":true}`, string(cl.body.data))

	_, err = c.prepare("POST", "POST:/x", Request{URL: "/x", Body: make(chan int)})
	assert.ErrorContains(t, err, "failed to encode request body")
}
