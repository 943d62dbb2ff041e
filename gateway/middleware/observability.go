package middleware

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ObservabilityConfig struct {
	ServiceName string
	LogRequests bool
}

// Observability wraps routes with a span and HTTP request metrics. Metrics
// register into the default registry so one /metrics scrape covers the engine
// counters and the gateway surface together.
type Observability struct {
	cfg       ObservabilityConfig
	logger    *log.Logger
	tracer    trace.Tracer
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

var (
	httpMetricsOnce sync.Once
	httpRequests    *prometheus.CounterVec
	httpDurations   *prometheus.HistogramVec
)

func httpMetrics() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	httpMetricsOnce.Do(func() {
		httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hyd",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed by the ops gateway.",
		}, []string{"route", "method", "status"})
		httpDurations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hyd",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"})
		prometheus.MustRegister(httpRequests, httpDurations)
	})
	return httpRequests, httpDurations
}

func NewObservability(cfg ObservabilityConfig, logger *log.Logger) *Observability {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hyd-gateway"
	}
	requests, durations := httpMetrics()
	return &Observability{
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer(cfg.ServiceName),
		requests:  requests,
		durations: durations,
	}
}

func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()
			duration := time.Since(start).Seconds()
			o.requests.WithLabelValues(route, r.Method, http.StatusText(recorder.status)).Inc()
			o.durations.WithLabelValues(route, r.Method).Observe(duration)
			if o.cfg.LogRequests {
				o.logger.Printf("%s %s -> %d (%.2fms)", r.Method, r.URL.Path, recorder.status, duration*1000)
			}
		})
	}
}

// MetricsHandler serves the default registry, including the engine metrics.
func (o *Observability) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
