package compression

import "github.com/prometheus/client_golang/prometheus"

var (
	poolGets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagewatch_compression_pool_gets_total",
			Help: "Codec pool Get calls by codec",
		},
		[]string{"codec"},
	)
	poolNews = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagewatch_compression_pool_new_total",
			Help: "Codecs created because the pool was empty",
		},
		[]string{"codec"},
	)
)

func init() {
	prometheus.MustRegister(poolGets, poolNews)
}
