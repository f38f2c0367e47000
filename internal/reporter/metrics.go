package reporter

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_reporter_attempts_total",
		Help: "Delivery attempts by strategy and result (accepted, rejected, failed)",
	}, []string{"strategy", "result"})

	deliveryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_reporter_errors_total",
		Help: "Delivery errors by strategy and error type, including background failures",
	}, []string{"strategy", "error_type"})

	batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_reporter_batches_total",
		Help: "Batches handed to the reporter by outcome (accepted, dropped)",
	}, []string{"outcome"})

	bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_reporter_bytes_total",
		Help: "Bytes put on the wire by strategy",
	}, []string{"strategy"})

	inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pagewatch_reporter_in_flight",
		Help: "Background deliveries currently in flight",
	})
)

func init() {
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(deliveryErrorsTotal)
	prometheus.MustRegister(batchesTotal)
	prometheus.MustRegister(bytesTotal)
	prometheus.MustRegister(inFlight)
}
