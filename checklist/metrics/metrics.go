// Package metrics provides Prometheus counters for checklist cycles.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analysis outcome label values.
const (
	OutcomeOK   = "ok"
	OutcomeFail = "fail"
)

// Recorder implements the checklist flow's metrics hooks using Prometheus.
type Recorder struct {
	cycles   *prometheus.CounterVec
	verdicts *prometheus.CounterVec
	photos   prometheus.Counter
	analysis *prometheus.HistogramVec
}

// NewRecorder registers checklist metrics on reg. A nil reg uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checklist_cycles_total",
				Help: "Finished checklist cycles by analysis outcome",
			},
			[]string{"outcome"},
		),
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checklist_verdicts_total",
				Help: "Recorded checklist item verdicts by kind",
			},
			[]string{"verdict"},
		),
		photos: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checklist_photos_total",
				Help: "Photos attached to commented checklist items",
			},
		),
		analysis: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checklist_analysis_duration_seconds",
				Help:    "Latency of analysis backend calls",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"outcome"},
		),
	}
}

// ObserveVerdict counts one recorded verdict.
func (r *Recorder) ObserveVerdict(verdict string) {
	r.verdicts.WithLabelValues(verdict).Inc()
}

// ObservePhoto counts one attached photo.
func (r *Recorder) ObservePhoto() {
	r.photos.Inc()
}

// ObserveCycle records a finished cycle and the analysis call latency.
func (r *Recorder) ObserveCycle(analysisOK bool, took time.Duration) {
	outcome := OutcomeOK
	if !analysisOK {
		outcome = OutcomeFail
	}
	r.cycles.WithLabelValues(outcome).Inc()
	r.analysis.WithLabelValues(outcome).Observe(took.Seconds())
}
