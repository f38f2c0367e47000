package collector

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_collector_requests_total",
		Help: "Ingest requests by method and result (accepted, rejected)",
	}, []string{"method", "result"})

	recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_collector_records_total",
		Help: "Records accepted by type and subtype",
	}, []string{"type", "subtype"})

	duplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pagewatch_collector_duplicates_total",
		Help: "Records dropped because their id was seen before",
	})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_collector_errors_total",
		Help: "Ingest failures by type (read, decompress, decode, invalid)",
	}, []string{"type"})

	uniqueSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pagewatch_collector_unique_sessions",
		Help: "Estimated distinct session ids seen",
	})

	uniqueUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pagewatch_collector_unique_users",
		Help: "Estimated distinct user or visitor ids seen",
	})

	silentApps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pagewatch_collector_silent_apps",
		Help: "App ids with no records within the silence threshold",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(recordsTotal)
	prometheus.MustRegister(duplicatesTotal)
	prometheus.MustRegister(errorsTotal)
	prometheus.MustRegister(uniqueSessions)
	prometheus.MustRegister(uniqueUsers)
	prometheus.MustRegister(silentApps)

	for _, t := range []string{"read", "decompress", "decode", "invalid"} {
		errorsTotal.WithLabelValues(t).Add(0)
	}
}
