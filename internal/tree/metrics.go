package tree

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matijazezelj/arbor/pkg/models"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_tree_mutations_total",
		Help: "Structural mutations by encoding, operation and result",
	}, []string{"kind", "op", "result"})

	mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbor_tree_mutation_duration_seconds",
		Help:    "Structural mutation latency including lock wait",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"kind", "op"})

	// direction is "lft" or "rgt"
	shiftedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_tree_shifted_rows_total",
		Help: "Rows moved by nested set interval shifts",
	}, []string{"direction"})
)

func observe(kind models.Kind, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	mutationsTotal.WithLabelValues(string(kind), op, result).Inc()
	mutationDuration.WithLabelValues(string(kind), op).Observe(time.Since(start).Seconds())
}
