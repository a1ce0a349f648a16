package diag

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Peruz/flintec-lpp/pipeline"
)

// Metrics counts pipeline runs on a private registry, so that a batch run can
// dump them to a textfile and the server can expose them.
type Metrics struct {
	registry *prometheus.Registry

	runs            prometheus.Counter
	failures        *prometheus.CounterVec
	masked          *prometheus.CounterVec
	badMissing      prometheus.Counter
	inserted        prometheus.Counter
	filled          prometheus.Counter
	aborted         *prometheus.CounterVec
	remaining       prometheus.Gauge
	runDuration     prometheus.Histogram
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	acquireReadings *prometheus.CounterVec
}

// NewMetrics registers the collectors on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flintec_runs_total",
			Help: "Total pipeline runs that completed.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flintec_failures_total",
			Help: "Total pipeline runs aborted, by error class.",
		}, []string{"code"}),
		masked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flintec_masked_samples_total",
			Help: "Samples set to NaN, by masking rule.",
		}, []string{"rule"}),
		badMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flintec_bad_timestamps_not_found_total",
			Help: "Listed bad timestamps absent from the series.",
		}),
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flintec_inserted_samples_total",
			Help: "NaN samples inserted to close gaps.",
		}),
		filled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flintec_filled_samples_total",
			Help: "Missing samples that received an estimate.",
		}),
		aborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flintec_imputation_aborted_total",
			Help: "Positions left missing for lack of data, by reason.",
		}, []string{"reason"}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flintec_remaining_nan",
			Help: "NaN values left in the output of the last run.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flintec_run_duration_seconds",
			Help:    "Histogram of pipeline run durations.",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flintec_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flintec_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		acquireReadings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flintec_acquired_rows_total",
			Help: "Rows written by the acquisition logger, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.runs,
		m.failures,
		m.masked,
		m.badMissing,
		m.inserted,
		m.filled,
		m.aborted,
		m.remaining,
		m.runDuration,
		m.httpRequests,
		m.httpDuration,
		m.acquireReadings,
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records the outcome of a completed run.
func (m *Metrics) Observe(rep pipeline.Report) {
	if m == nil {
		return
	}
	m.runs.Inc()
	for rule, n := range rep.Masked.ByRule {
		m.masked.WithLabelValues(rule).Add(float64(n))
	}
	m.badMissing.Add(float64(rep.BadMissing))
	m.inserted.Add(float64(rep.Repair.Inserted))
	m.filled.Add(float64(rep.Impute.Filled))
	m.aborted.WithLabelValues("missing_count").Add(float64(rep.Impute.AbortedByCount))
	m.aborted.WithLabelValues("missing_weight").Add(float64(rep.Impute.AbortedByWeight))
	m.remaining.Set(float64(rep.Remaining))
	m.runDuration.Observe(rep.Duration.Seconds())
}

// Failure counts an aborted run under its error class.
func (m *Metrics) Failure(err error) {
	if m == nil || err == nil {
		return
	}
	m.failures.WithLabelValues(string(Classify(err))).Inc()
}

// Acquired counts one row written by the acquisition logger.
func (m *Metrics) Acquired(outcome string) {
	if m == nil {
		return
	}
	m.acquireReadings.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their durations under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
