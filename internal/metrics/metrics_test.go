package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Restarts.WithLabelValues("logged_out").Inc()
	m.WebhookAttempts.Add(3)
	m.ConnectionState.WithLabelValues("dev-1").Set(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Restarts.WithLabelValues("logged_out")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WebhookAttempts))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "gateway_restarts_total")
	assert.Contains(t, names, "gateway_webhook_attempts_total")
	assert.Contains(t, names, "gateway_connection_state")
}

func TestNew_NilRegisterer(t *testing.T) {
	m := New(nil)
	m.WebhookDeliveries.WithLabelValues("delivered").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("delivered")))
}
