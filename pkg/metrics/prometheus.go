package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pickflow"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	candidates    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchSuccess  *prometheus.GaugeVec
	selected      prometheus.Gauge
	averageScore  prometheus.Gauge
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight *prometheus.GaugeVec
	httpSize     *prometheus.HistogramVec
}

// New creates a recorder whose collectors are registered on reg.
// A nil reg falls back to the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		candidates: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_total",
				Help:      "Candidates processed, by outcome",
			},
			[]string{"result"},
		),
		batchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall time of one batch",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"batch"},
		),
		batchSuccess: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_success_rate",
				Help:      "Success rate of the most recent run of a batch",
			},
			[]string{"batch"},
		),
		selected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selection_size",
			Help:      "Number of instruments in the latest selection",
		}),
		averageScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selection_average_score",
			Help:      "Average composite score of the latest selection",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method", "class"},
		),
		httpInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_in_flight_requests",
				Help: "Current number of in-flight HTTP requests",
			},
			[]string{"route", "method"},
		),
		httpSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{200, 500, 1_000, 2_000, 5_000, 10_000, 50_000, 100_000, 500_000, 1_000_000},
			},
			[]string{"route", "method", "class"},
		),
	}
}

// RecordCandidate counts one candidate outcome (selected, filtered, failed).
func (r *Recorder) RecordCandidate(result string) {
	r.candidates.WithLabelValues(result).Inc()
}

// RecordBatch records the duration and success rate of one batch.
func (r *Recorder) RecordBatch(index int, seconds float64, successRate float64) {
	label := strconv.Itoa(index)
	r.batchDuration.WithLabelValues(label).Observe(seconds)
	r.batchSuccess.WithLabelValues(label).Set(successRate)
}

// RecordSelection records the size and average score of the final selection.
func (r *Recorder) RecordSelection(count int, averageScore float64) {
	r.selected.Set(float64(count))
	r.averageScore.Set(averageScore)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// HTTPStarted marks a request as in flight.
func (r *Recorder) HTTPStarted(route, method string) {
	r.httpInFlight.WithLabelValues(route, method).Inc()
}

// HTTPFinished records a completed request and clears its in-flight mark.
func (r *Recorder) HTTPFinished(route, method string, status int, seconds float64, bytes int64) {
	class := StatusClass(status)
	r.httpInFlight.WithLabelValues(route, method).Dec()
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method, class).Observe(seconds)
	r.httpSize.WithLabelValues(route, method, class).Observe(float64(bytes))
}

func StatusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
