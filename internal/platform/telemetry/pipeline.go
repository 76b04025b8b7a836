package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics are the risk-pipeline collectors.
type PipelineMetrics struct {
	AssessmentsTotal *prometheus.CounterVec   // runs by outcome (ok, incomplete, scoring_error, ...)
	DiagnosesTotal   *prometheus.CounterVec   // diagnosis bands by disease
	VisualTotal      *prometheus.CounterVec   // visual findings by tag and status
	Duration         prometheus.Histogram     // end-to-end pipeline latency
	ScoreDuration    *prometheus.HistogramVec // per-model scoring latency
	QueueRejections  prometheus.Counter       // runs refused because the worker queue was full
	InFlight         prometheus.Gauge         // runs currently holding a worker
}

// NewPipelineMetrics registers the pipeline collectors on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	f := promauto.With(reg)
	return &PipelineMetrics{
		AssessmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_assessments_total",
			Help:      "Risk pipeline runs by outcome",
		}, []string{"outcome"}),
		DiagnosesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_diagnoses_total",
			Help:      "Diagnosis bands assigned, by disease",
		}, []string{"disease", "band"}),
		VisualTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_visual_findings_total",
			Help:      "Visual findings by disease tag and status",
		}, []string{"tag", "status"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_pipeline_duration_seconds",
			Help:      "End-to-end risk pipeline latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ScoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_model_score_duration_seconds",
			Help:      "Model scoring latency by model and modality",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"model", "modality"}),
		QueueRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_queue_rejections_total",
			Help:      "Pipeline runs rejected because the worker queue was full",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_pipeline_in_flight",
			Help:      "Pipeline runs currently executing",
		}),
	}
}

// RecordOutcome counts one finished run.
func (m *PipelineMetrics) RecordOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AssessmentsTotal.WithLabelValues(outcome).Inc()
	m.Duration.Observe(seconds)
}

// RecordDiagnosis counts one assigned band.
func (m *PipelineMetrics) RecordDiagnosis(disease, band string) {
	if m == nil {
		return
	}
	m.DiagnosesTotal.WithLabelValues(disease, band).Inc()
}

// UnregisteredTag labels visual findings whose tag has no registered model.
// Tags arrive from stored image rows, so they are collapsed to keep the
// series count bounded by the registry.
const UnregisteredTag = "unregistered"

// RecordVisual counts one visual finding.
func (m *PipelineMetrics) RecordVisual(tag, status string) {
	if m == nil {
		return
	}
	m.VisualTotal.WithLabelValues(tag, status).Inc()
}

// ObserveScore records one model call.
func (m *PipelineMetrics) ObserveScore(model, modality string, seconds float64) {
	if m == nil {
		return
	}
	m.ScoreDuration.WithLabelValues(model, modality).Observe(seconds)
}

// RecordRejection counts a run refused by the worker pool.
func (m *PipelineMetrics) RecordRejection() {
	if m == nil {
		return
	}
	m.QueueRejections.Inc()
}

// Started and Finished bracket a run for the in-flight gauge.
func (m *PipelineMetrics) Started() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *PipelineMetrics) Finished() {
	if m != nil {
		m.InFlight.Dec()
	}
}
