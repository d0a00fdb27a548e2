package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gateway"

// Metrics коллекторы шлюза. Регистрируются в переданном Registerer,
// в тестах это свой prometheus.NewRegistry().
type Metrics struct {
	ConnectionState   *prometheus.GaugeVec
	Restarts          *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
	WebhookAttempts   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "Current connection state per device (0 uninitialized, 1 connecting, 2 open, 3 closed, 4 terminated)",
			},
			[]string{"device"},
		),
		Restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restarts_total",
				Help:      "Connection restarts by disconnect reason",
			},
			[]string{"reason"},
		),
		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_processed_total",
				Help:      "Inbound messages normalized, by message type",
			},
			[]string{"type"},
		),
		WebhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Webhook deliveries by result (delivered, dropped)",
			},
			[]string{"result"},
		),
		WebhookAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_attempts_total",
				Help:      "Webhook POST attempts including retries",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionState,
			m.Restarts,
			m.MessagesProcessed,
			m.WebhookDeliveries,
			m.WebhookAttempts,
		)
	}
	return m
}
