package bridge

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pagewatch_bridge_sessions_active",
		Help: "Page sessions currently connected",
	})

	sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_bridge_sessions_total",
		Help: "Page sessions by outcome (opened, rejected)",
	}, []string{"outcome"})

	messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_bridge_messages_total",
		Help: "Page messages received by type",
	}, []string{"type"})

	messageErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_bridge_message_errors_total",
		Help: "Page messages that could not be applied, by type",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(sessionsActive)
	prometheus.MustRegister(sessionsTotal)
	prometheus.MustRegister(messagesTotal)
	prometheus.MustRegister(messageErrorsTotal)

	sessionsTotal.WithLabelValues("opened").Add(0)
	sessionsTotal.WithLabelValues("rejected").Add(0)
}
