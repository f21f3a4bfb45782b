package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: how many times we served from the exact cache.
	ExactHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exact_hits_total",
			Help: "Total number of exact cache hits.",
		},
	)

	// Counter: how many times the similarity scan found a reusable record.
	StoreHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "store_hits_total",
			Help: "Total number of similarity-tier store hits.",
		},
	)

	// Counter: how many times we had to pay for a full generation.
	FallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fallback_computations_total",
			Help: "Total number of fallback compute-and-persist operations.",
		},
	)

	// Counter: stored embeddings whose length differed from the query vector.
	// Non-zero means corrupted records in the store.
	DimensionMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "embedding_dimension_mismatch_total",
			Help: "Total number of stored embeddings skipped due to dimension mismatch.",
		},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		ExactHitsTotal,
		StoreHitsTotal,
		FallbackTotal,
		DimensionMismatchTotal,
		GatewayLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()

		GatewayLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
