package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/twoframe/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const outcomeConverted = "converted"

type metrics struct {
	registry         *prometheus.Registry
	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	conversionsTotal *prometheus.CounterVec
	sourceBytes      prometheus.Histogram
	outputBytes      prometheus.Histogram
	pixelsTotal      prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sizeBuckets := prometheus.ExponentialBuckets(1024, 4, 10)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twoframe_http_requests_total",
			Help: "Total HTTP requests handled by the conversion endpoint.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "twoframe_http_request_duration_seconds",
			Help:    "Conversion endpoint latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		conversionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twoframe_conversions_total",
			Help: "Conversions by outcome: converted or the failing error kind.",
		}, []string{"outcome"}),
		sourceBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "twoframe_source_bytes",
			Help:    "Size of fetched source images in bytes.",
			Buckets: sizeBuckets,
		}),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "twoframe_output_bytes",
			Help:    "Size of produced GIF documents in bytes.",
			Buckets: sizeBuckets,
		}),
		pixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twoframe_pixels_converted_total",
			Help: "Total source pixels converted.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.conversionsTotal,
		m.sourceBytes,
		m.outputBytes,
		m.pixelsTotal,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeConversion(result pipeline.Result) {
	m.conversionsTotal.WithLabelValues(outcomeConverted).Inc()
	m.sourceBytes.Observe(float64(result.SourceBytes))
	m.outputBytes.Observe(float64(len(result.GIF)))
	m.pixelsTotal.Add(float64(result.Width * result.Height))
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := newStatusRecorder(w)
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func routeLabel(path string) string {
	if path == "/" {
		return "/"
	}
	return "unmatched"
}
