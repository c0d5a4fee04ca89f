package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	answersTotal        *prometheus.CounterVec
	answerModeTotal     *prometheus.CounterVec
	answerConfidence    *prometheus.HistogramVec
	stageDuration       *prometheus.HistogramVec
	cacheLookupsTotal   *prometheus.CounterVec
	rescueTotal         *prometheus.CounterVec
	fastTrackTotal      *prometheus.CounterVec
	judgeAttempts       *prometheus.HistogramVec
	strategyResults     *prometheus.HistogramVec
	degradedTotal       *prometheus.CounterVec
	expansionTimeouts   *prometheus.CounterVec
	graphBridgeTimeouts *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marginalia",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marginalia",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total answer requests by final verdict.",
		},
		[]string{"service", "verdict"},
	)
	answerModeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "answer",
			Name:      "mode_total",
			Help:      "Total answers by answer mode.",
		},
		[]string{"service", "mode"},
	)
	answerConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marginalia",
			Subsystem: "answer",
			Name:      "confidence",
			Help:      "Distribution of top-result confidence per answer.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 5.5, 6, 7, 8, 10},
		},
		[]string{"service"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marginalia",
			Subsystem: "answer",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each answer pipeline stage in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	cacheLookupsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total answer cache lookups by outcome.",
		},
		[]string{"service", "outcome"},
	)
	rescueTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "retrieval",
			Name:      "rescue_total",
			Help:      "Total rescue strategy activations by kind.",
		},
		[]string{"service", "kind"},
	)
	fastTrackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "answer",
			Name:      "fast_track_total",
			Help:      "Total answers that skipped evaluation via fast track.",
		},
		[]string{"service"},
	)
	judgeAttempts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marginalia",
			Subsystem: "answer",
			Name:      "generation_attempts",
			Help:      "Distribution of generate-evaluate attempts per answer.",
			Buckets:   []float64{1, 2, 3, 4},
		},
		[]string{"service"},
	)
	strategyResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marginalia",
			Subsystem: "retrieval",
			Name:      "results_per_strategy",
			Help:      "Distribution of fused results contributed per strategy.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "strategy"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "answer",
			Name:      "degraded_total",
			Help:      "Total answers served in degraded mode.",
		},
		[]string{"service"},
	)
	expansionTimeouts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "retrieval",
			Name:      "expansion_timeouts_total",
			Help:      "Total query expansions abandoned at the time budget.",
		},
		[]string{"service"},
	)
	graphBridgeTimeouts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "retrieval",
			Name:      "graph_bridge_timeouts_total",
			Help:      "Total graph bridge lookups abandoned at the time budget.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		answersTotal,
		answerModeTotal,
		answerConfidence,
		stageDuration,
		cacheLookupsTotal,
		rescueTotal,
		fastTrackTotal,
		judgeAttempts,
		strategyResults,
		degradedTotal,
		expansionTimeouts,
		graphBridgeTimeouts,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		answersTotal:        answersTotal,
		answerModeTotal:     answerModeTotal,
		answerConfidence:    answerConfidence,
		stageDuration:       stageDuration,
		cacheLookupsTotal:   cacheLookupsTotal,
		rescueTotal:         rescueTotal,
		fastTrackTotal:      fastTrackTotal,
		judgeAttempts:       judgeAttempts,
		strategyResults:     strategyResults,
		degradedTotal:       degradedTotal,
		expansionTimeouts:   expansionTimeouts,
		graphBridgeTimeouts: graphBridgeTimeouts,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/conversations/"):
		return "/v1/conversations/{conversation_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordAnswer(service, verdict, mode string, confidence float64, degraded bool) {
	if verdict == "" {
		verdict = "unknown"
	}
	if mode == "" {
		mode = "unknown"
	}
	m.answersTotal.WithLabelValues(service, verdict).Inc()
	m.answerModeTotal.WithLabelValues(service, mode).Inc()
	m.answerConfidence.WithLabelValues(service).Observe(confidence)
	if degraded {
		m.degradedTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordStage(service, stage string, duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordCacheLookup(service string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordRescue(service, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.rescueTotal.WithLabelValues(service, kind).Inc()
}

func (m *HTTPServerMetrics) RecordFastTrack(service string) {
	m.fastTrackTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordGenerationAttempts(service string, attempts int) {
	if attempts <= 0 {
		return
	}
	m.judgeAttempts.WithLabelValues(service).Observe(float64(attempts))
}

func (m *HTTPServerMetrics) RecordStrategyMix(service string, mix map[string]int) {
	for strategy, count := range mix {
		m.strategyResults.WithLabelValues(service, strategy).Observe(float64(count))
	}
}

func (m *HTTPServerMetrics) RecordExpansionTimeout(service string) {
	m.expansionTimeouts.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordGraphBridgeTimeout(service string) {
	m.graphBridgeTimeouts.WithLabelValues(service).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
