package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DrC0ns0le/cyclicping/internal/stats"
)

// Observer exports every sample the statistics engine sees.
type Observer struct {
	samples  *prometheus.HistogramVec
	last     *prometheus.GaugeVec
	rejected *prometheus.CounterVec
}

func unitName(u stats.Unit) string {
	if u == stats.Milliseconds {
		return "milliseconds"
	}
	return "microseconds"
}

// NewObserver registers the latency collectors of one run with reg.
func NewObserver(reg prometheus.Registerer, transport string, unit stats.Unit) *Observer {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"transport": transport}
	suffix := unitName(unit)

	return &Observer{
		samples: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cyclicping_latency_" + suffix,
			Help:        "Distribution of accepted latency samples in " + suffix,
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 21),
		}, []string{"category"}),
		last: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "cyclicping_latency_last_" + suffix,
			Help:        "Most recent accepted latency sample in " + suffix,
			ConstLabels: labels,
		}, []string{"category"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "cyclicping_samples_rejected_total",
			Help:        "Samples excluded from the statistics",
			ConstLabels: labels,
		}, []string{"category"}),
	}
}

func (o *Observer) Observe(c stats.Category, value uint32) {
	o.samples.WithLabelValues(c.String()).Observe(float64(value))
	o.last.WithLabelValues(c.String()).Set(float64(value))
}

func (o *Observer) Reject(c stats.Category) {
	o.rejected.WithLabelValues(c.String()).Inc()
}
