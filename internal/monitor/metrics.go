package monitor

import "github.com/prometheus/client_golang/prometheus"

// Flush triggers.
const (
	triggerSize     = "size"
	triggerInterval = "interval"
	triggerUnload   = "unload"
	triggerError    = "error"
	triggerManual   = "manual"
	triggerDestroy  = "destroy"
)

var (
	recordsAcceptedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_records_accepted_total",
		Help: "Records that passed sampling and were enqueued, by type",
	}, []string{"type"})

	recordsSampledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_records_sampled_out_total",
		Help: "Records dropped by the sampling gate, by type",
	}, []string{"type"})

	flushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagewatch_flushes_total",
		Help: "Queue flushes that handed a batch to the reporter, by trigger",
	}, []string{"trigger"})

	batchesFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pagewatch_batches_dropped_total",
		Help: "Batches the reporter could not hand off",
	})

	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagewatch_batch_records",
		Help:    "Records per flushed batch",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	queueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pagewatch_queue_records",
		Help: "Records waiting in the most recently updated monitor queue",
	})
)

func init() {
	prometheus.MustRegister(recordsAcceptedTotal)
	prometheus.MustRegister(recordsSampledTotal)
	prometheus.MustRegister(flushesTotal)
	prometheus.MustRegister(batchesFailedTotal)
	prometheus.MustRegister(batchSize)
	prometheus.MustRegister(queueLength)
}
