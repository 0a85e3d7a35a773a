package observe_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tillpoint/posadmin/internal/config"
	"github.com/tillpoint/posadmin/internal/observe"
	"github.com/tillpoint/posadmin/internal/testhelpers"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func TestConfigure_Disabled(t *testing.T) {
	testhelpers.SetupLogger(t)

	shutdown, err := observe.Configure(context.Background(), config.ObserveConfig{Enabled: false, SDKLogLevel: "warn"})

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_Stdout(t *testing.T) {
	testhelpers.SetupLogger(t)

	shutdown, err := observe.Configure(context.Background(), config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "posadmin-test",
		SDKLogLevel:               "bogus",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 60,
	})

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_UnknownType(t *testing.T) {
	testhelpers.SetupLogger(t)

	_, err := observe.Configure(context.Background(), config.ObserveConfig{Enabled: true, Type: "carrier-pigeon"})

	assert.ErrorContains(t, err, "unknown exporter type")
}

func TestHTTPTransport(t *testing.T) {
	base := http.DefaultTransport

	cases := []struct {
		name    string
		cfg     config.ObserveConfig
		wrapped bool
	}{
		{name: "disabled", cfg: config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true}, wrapped: false},
		{name: "transport off", cfg: config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false}, wrapped: false},
		{name: "enabled", cfg: config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true}, wrapped: true},
		{name: "with connection trace", cfg: config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true, HTTPConnectionTraceEnabled: true}, wrapped: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := observe.HTTPTransport(base, tc.cfg)

			_, isOtel := rt.(*otelhttp.Transport)
			assert.Equal(t, tc.wrapped, isOtel)
		})
	}
}
