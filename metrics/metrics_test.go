package metrics

import (
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pactflow/outbox"
	"pactflow/pact"
)

var (
	_ pact.Observer   = (*Registry)(nil)
	_ outbox.Observer = (*Registry)(nil)
)

func TestRegistry_Counters(t *testing.T) {
	r := New()

	r.ObserveTransition("create", "", "DEPLOYED")
	r.ObserveTransition("sign", "DEPLOYED", "PAYER_SIGNED")
	r.ObserveTransition("sign", "DEPLOYED", "PAYER_SIGNED")
	r.ObserveFailure("sign", "invalid_signature")
	r.ObserveEscrow("deposit_net", big.NewInt(100))
	r.ObserveEscrow("commission", big.NewInt(1))
	r.ObserveEscrow("commission", big.NewInt(0))
	r.ObservePublish("processed", 3)
	r.ObservePublish("failed", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("NONE", "DEPLOYED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("DEPLOYED", "PAYER_SIGNED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("sign", "invalid_signature")))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.escrow.WithLabelValues("deposit_net")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.escrow.WithLabelValues("commission")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.published.WithLabelValues("processed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.published.WithLabelValues("failed")))
}

func TestRegistry_Handler(t *testing.T) {
	r := New()
	r.ObserveTransition("start", "ALL_SIGNED", "ACTIVE")
	r.ObserveRequest("POST", "/v1/pacts/{id}/start", "200", 0.01)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pactflow_transitions_total{from="ALL_SIGNED",to="ACTIVE"} 1`), body)
	assert.Contains(t, body, "pactflow_http_request_duration_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}
