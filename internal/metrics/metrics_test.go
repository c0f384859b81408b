package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.LoginAttempt("password", "success")
	m.LoginAttempt("password", "rejected")
	m.LoginAttempt("password", "rejected")
	m.GateDecision("protected", "redirect")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues("password", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues("password", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues("protected", "redirect")))
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.GateDecision("api", "pass")

	srv := m.Server(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gatehouse_gate_decisions_total{action="pass",class="api"} 1`)
}

func TestSeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.LoginAttempt("sso", "success")

	assert.Equal(t, 0.0, testutil.ToFloat64(b.loginAttempts.WithLabelValues("sso", "success")))
}
