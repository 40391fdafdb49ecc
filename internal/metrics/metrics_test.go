package metrics

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	require.NotNil(t, m)
	assert.NotNil(t, m.Registry())
	assert.NotNil(t, m.TurnsTotal)
	assert.NotNil(t, m.ProviderCalls)
	assert.NotNil(t, m.CacheRequests)
}

func TestMetrics_Isolated(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordTurn("coding_agent", "openai", OutcomeSuccess, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.TurnsTotal.WithLabelValues("coding_agent", "openai", OutcomeSuccess)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TurnsTotal.WithLabelValues("coding_agent", "openai", OutcomeSuccess)))
}

func TestMetrics_RecordTurnWithoutProvider(t *testing.T) {
	m := NewMetrics()
	m.RecordTurn("coding_agent", "", OutcomeError, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("coding_agent", "none", OutcomeError)))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordTurn("a", "p", OutcomeSuccess, time.Second)
		m.RecordProviderCall("a", "p", OutcomeError, time.Second)
		m.SetProviderHealth("p", 2)
		m.RecordCache("hit")
		m.RecordToolInvocation("calculator", OutcomeSuccess, time.Millisecond)
		m.RecordRetrieval(OutcomeEmpty)
		m.SetActiveSessions(3)
		m.Reset()
	})
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.RecordProviderCall("a", "p1", OutcomeError, time.Millisecond)
	m.SetActiveSessions(4)

	m.Reset()

	assert.Equal(t, 0, testutil.CollectAndCount(m.ProviderCalls))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordCache("hit")
	m.RecordToolInvocation("calculator", OutcomeSuccess, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "zombiecoder_cache_requests_total"))
	assert.True(t, strings.Contains(string(body), "zombiecoder_tool_invocations_total"))
}

func TestMetrics_WriteText(t *testing.T) {
	m := NewMetrics()
	m.RecordRetrieval(OutcomeSuccess)

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), `zombiecoder_retrieval_requests_total{outcome="success"} 1`)
}
