package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAttempt("constant-product", "ok", time.Millisecond)
	m.Retry()
	m.ObserveRequest("ok", time.Second)
	m.TokenLookup("hit")
	m.CatalogLookup("miss")
}

func TestCountersRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveAttempt("concentrated-liquidity", "no_liquidity", 20*time.Millisecond)
	m.ObserveAttempt("concentrated-liquidity", "no_liquidity", 30*time.Millisecond)
	m.Retry()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.quoteAttempts.WithLabelValues("concentrated-liquidity", "no_liquidity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quoteRetries))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
