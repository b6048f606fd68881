package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Relayed("call-offer")
		m.Dropped("call-offer", ReasonUnreachable)
		m.SetConnections(3)
		m.PresenceBroadcast()
		m.Kicked()
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.Relayed("call-offer")
	m.Relayed("call-offer")
	m.Dropped("ice-candidate", ReasonUnreachable)
	m.SetConnections(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayed.WithLabelValues("call-offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("ice-candidate", ReasonUnreachable)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Relayed("call-end")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `chatcall_signal_relayed_total{type="call-end"} 1`))
}
