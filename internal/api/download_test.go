package api_test

import (
	"bytes"
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tillpoint/posadmin/internal/api"
	"github.com/tillpoint/posadmin/internal/loading"
	"github.com/tillpoint/posadmin/internal/testhelpers"
)

const salesCSV = "date,total\n2026-03-01,1520.50\n"

func csvExport(mock *testhelpers.MockAPIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !mock.Authorized(r) {
			testhelpers.WriteJSONStatus(w, http.StatusUnauthorized, map[string]string{"message": "Token expired", "code": "TOKEN_EXPIRED"})
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(salesCSV))
	}
}

func TestDownload_StreamsBodyWithCredentials(t *testing.T) {
	f := setup(t, api.WithCSRFToken(func() string { return "csrf-abc" }))
	var month string
	f.mock.Handle("GET /export/sales", func(w http.ResponseWriter, r *http.Request) {
		month = r.URL.Query().Get("month")
		csvExport(f.mock)(w, r)
	})
	f.client.SetAuthTokens("access-1", "refresh-1", 3600)

	var out bytes.Buffer
	n, err := f.client.Download(context.Background(), "/export/sales", map[string]any{"month": "2026-03"}, &out)

	require.NoError(t, err)
	assert.Equal(t, int64(len(salesCSV)), n)
	assert.Equal(t, salesCSV, out.String())
	assert.Equal(t, "2026-03", month)
	assert.Equal(t, "Bearer access-1", f.mock.LastAuthHeader())
	assert.Equal(t, "csrf-abc", f.mock.LastCSRFHeader())
	assert.False(t, f.loading.IsRequestLoading(loading.RequestKey(http.MethodGet, "/export/sales")))
}

func TestDownload_RefreshesAndReplaysOnce(t *testing.T) {
	f := setup(t)
	f.mock.Handle("GET /export/sales", csvExport(f.mock))
	f.client.SetAuthTokens("stale", "refresh-1", 3600)

	var out bytes.Buffer
	_, err := f.client.Download(context.Background(), "/export/sales", nil, &out)

	require.NoError(t, err)
	assert.Equal(t, salesCSV, out.String())
	assert.Equal(t, 2, f.mock.RequestCount(http.MethodGet, "/export/sales"))
	assert.Equal(t, 1, f.mock.RequestCount(http.MethodPost, "/auth/refresh"))
	assert.Equal(t, "Bearer access-2", f.mock.LastAuthHeader())
}

func TestDownload_RefreshFailureExpiresSession(t *testing.T) {
	var expired atomic.Int32
	f := setup(t, api.WithSessionExpired(func(context.Context) { expired.Add(1) }))
	f.mock.Handle("GET /export/sales", csvExport(f.mock))
	f.mock.SetRefreshStatus(http.StatusUnauthorized)
	f.client.SetAuthTokens("stale", "refresh-1", 3600)

	var out bytes.Buffer
	_, err := f.client.Download(context.Background(), "/export/sales", nil, &out)

	e := requireAPIError(t, err)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Equal(t, "TOKEN_EXPIRED", e.Code)
	assert.Empty(t, out.String())
	assert.Equal(t, int32(1), expired.Load())
	assert.False(t, f.client.IsAuthenticated())
}

func TestDownload_RequiresSession(t *testing.T) {
	f := setup(t)
	f.mock.Handle("GET /export/sales", csvExport(f.mock))

	_, err := f.client.Download(context.Background(), "/export/sales", nil, &bytes.Buffer{})

	e := requireAPIError(t, err)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Zero(t, f.mock.RequestCount(http.MethodGet, "/export/sales"))
}

func TestDownload_ServerErrorNormalized(t *testing.T) {
	f := setup(t)
	f.mock.Handle("GET /export/missing", func(w http.ResponseWriter, r *http.Request) {
		testhelpers.WriteJSONStatus(w, http.StatusNotFound, map[string]string{"message": "Not found", "code": "NOT_FOUND"})
	})
	f.client.SetAuthTokens("access-1", "refresh-1", 3600)

	var out bytes.Buffer
	_, err := f.client.Download(context.Background(), "/export/missing", nil, &out)

	e := requireAPIError(t, err)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.Equal(t, "NOT_FOUND", e.Code)
	assert.Equal(t, "Not found", e.Message)
	assert.Empty(t, out.String())
	require.Len(t, f.errors.Errors(), 1)
}
