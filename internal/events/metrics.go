package events

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	PublishTotal *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_publish_total",
				Help: "Total audit event publish attempts.",
			},
			[]string{"topic", "status"},
		),
	}
	registry.MustRegister(m.PublishTotal)
	return m
}

func (m *Metrics) observe(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PublishTotal.WithLabelValues(topic, status).Inc()
}
