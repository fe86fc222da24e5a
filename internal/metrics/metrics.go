// Package metrics holds the Prometheus collectors for suite runs.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultPass  = "pass"
	ResultFail  = "fail"
	ResultError = "error"
)

// Recorder registers the suite collectors on its own registry so that
// concurrent suites and tests do not share counters.
type Recorder struct {
	registry *prometheus.Registry

	// AssertionsTotal counts evaluated assertions by result.
	AssertionsTotal *prometheus.CounterVec
	// CasesTotal counts finished test cases by result.
	CasesTotal *prometheus.CounterVec
	// QueryDuration observes assertion query latency by engine.
	QueryDuration *prometheus.HistogramVec
	// PipelineRowsTotal counts rows loaded by the local runner.
	PipelineRowsTotal prometheus.Counter
}

// NewRecorder returns a Recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		AssertionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtharness_assertions_total",
			Help: "Total number of evaluated assertions, by result.",
		}, []string{"result"}),
		CasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtharness_cases_total",
			Help: "Total number of finished test cases, by result.",
		}, []string{"result"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vtharness_query_duration_seconds",
			Help:    "Assertion query latency, by engine.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"engine"}),
		PipelineRowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtharness_pipeline_rows_total",
			Help: "Total number of rows written by the local runner.",
		}),
	}
}

// Registry exposes the collectors for gathering.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveAssertion records one assertion outcome and its query latency.
func (r *Recorder) ObserveAssertion(engine string, passed bool, seconds float64) {
	if r == nil {
		return
	}
	r.AssertionsTotal.WithLabelValues(result(passed)).Inc()
	r.QueryDuration.WithLabelValues(engine).Observe(seconds)
}

// ObserveCase records one finished case. err is a run error, as opposed to
// a failed assertion.
func (r *Recorder) ObserveCase(passed bool, err error) {
	if r == nil {
		return
	}
	label := result(passed)
	if err != nil {
		label = ResultError
	}
	r.CasesTotal.WithLabelValues(label).Inc()
}

// AddPipelineRows adds rows written by the local runner.
func (r *Recorder) AddPipelineRows(n int) {
	if r == nil {
		return
	}
	r.PipelineRowsTotal.Add(float64(n))
}

// WriteTextfile writes the registry in the text exposition format, for the
// node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func result(passed bool) string {
	if passed {
		return ResultPass
	}
	return ResultFail
}
