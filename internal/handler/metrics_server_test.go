package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/metrics"
)

// Prometheus collectors register globally, so the test binary shares
// one metrics instance.
var (
	handlerMetricsOnce sync.Once
	handlerMetrics     *metrics.Metrics
)

func testMetrics() *metrics.Metrics {
	handlerMetricsOnce.Do(func() {
		handlerMetrics = metrics.NewMetrics()
	})
	return handlerMetrics
}

func TestMetricsServer_ServesConfiguredPath(t *testing.T) {
	ms := NewMetricsServer(0, "/metrics", testMetrics(), zap.NewNop())

	server := httptest.NewServer(ms.httpServer.Handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# HELP")
}

func TestMetricsServer_UnknownPathIs404(t *testing.T) {
	ms := NewMetricsServer(0, "/metrics", testMetrics(), zap.NewNop())

	server := httptest.NewServer(ms.httpServer.Handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/other")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsServer_StopIsGraceful(t *testing.T) {
	ms := NewMetricsServer(0, "/metrics", testMetrics(), zap.NewNop())
	ms.Start()

	assert.NoError(t, ms.Stop())
}
