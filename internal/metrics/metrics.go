package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ItemsProcessed *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	RequestSeconds *prometheus.HistogramVec
	ActiveWorkers  prometheus.Gauge
	CacheLookups   *prometheus.CounterVec
	Resolutions    *prometheus.CounterVec
	Retries        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ItemsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_items_processed_total",
			Help: "Total number of batch items that reached a final state.",
		}, []string{"status"}),
		ProviderErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_provider_errors_total",
			Help: "Total number of errors received from the geocoding providers.",
		}, []string{"provider"}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meridian_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding providers.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "endpoint"}),
		ActiveWorkers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meridian_active_workers",
			Help: "Current number of workers processing batch items.",
		}),
		CacheLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_cache_lookups_total",
			Help: "Result cache lookups by outcome.",
		}, []string{"result"}),
		Resolutions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_resolutions_total",
			Help: "Address resolutions by match method.",
		}, []string{"method"}),
		Retries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meridian_batch_retries_total",
			Help: "Total number of batch item retries.",
		}),
	}
}
