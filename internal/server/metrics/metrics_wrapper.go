package metrics

import (
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PrometheusMetricsWrapper is a simple wrapper around the Prometheus
// metrics associated with training sessions and the server itself.
type PrometheusMetricsWrapper struct {
	logger *zap.Logger

	TrainingSessionsAccepted  *prometheus.CounterVec
	TrainingSessionsCompleted *prometheus.CounterVec
	PredictionsGenerated      *prometheus.CounterVec

	TrainingSessionDurationSeconds *prometheus.HistogramVec

	ActiveTrainingSessions prometheus.Gauge
}

// NewPrometheusMetricsWrapper creates and registers all the metrics
// encapsulated by the PrometheusMetricsWrapper struct. Registration errors
// are collected rather than aborting, so a double registration (e.g. in
// tests) still yields a usable wrapper.
func NewPrometheusMetricsWrapper(atom *zap.AtomicLevel) (*PrometheusMetricsWrapper, []error) {
	metricsWrapper := &PrometheusMetricsWrapper{
		TrainingSessionsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_backend",
			Subsystem: "training",
			Name:      "sessions_accepted_total",
		}, []string{"outcome"}),
		TrainingSessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_backend",
			Subsystem: "training",
			Name:      "sessions_finished_total",
		}, []string{"status"}),
		PredictionsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_backend",
			Subsystem: "prediction",
			Name:      "predictions_generated_total",
		}, []string{"outcome"}),

		TrainingSessionDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forecast_backend",
			Subsystem: "training",
			Name:      "session_duration_seconds",
			Buckets: []float64{1, 5, 15, 30, 60 /* 1 min */, 300 /* 5 min */, 600, /* 10 min */
				1800 /* 30 min */, 3600 /* 1 hr */, 21600 /* 6 hr */, 86400 /* 24 hr */},
		}, []string{"status"}),

		ActiveTrainingSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forecast_backend",
			Subsystem: "training",
			Name:      "active_sessions",
			Help:      "Number of sessions currently in a non-terminal state.",
		}),
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	metricsWrapper.logger = zap.New(core, zap.Development())

	errs := make([]error, 0)

	collectors := map[string]prometheus.Collector{
		"TrainingSessionsAccepted":       metricsWrapper.TrainingSessionsAccepted,
		"TrainingSessionsCompleted":      metricsWrapper.TrainingSessionsCompleted,
		"PredictionsGenerated":           metricsWrapper.PredictionsGenerated,
		"TrainingSessionDurationSeconds": metricsWrapper.TrainingSessionDurationSeconds,
		"ActiveTrainingSessions":         metricsWrapper.ActiveTrainingSessions,
	}
	for name, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			metricsWrapper.logger.Error("Failed to register Prometheus metric.",
				zap.String("metric", name), zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return metricsWrapper, errs
	}
	return metricsWrapper, nil
}

// SessionAccepted records one accepted or rejected training submission.
func (m *PrometheusMetricsWrapper) SessionAccepted(outcome string) {
	m.TrainingSessionsAccepted.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// SessionFinished records a session reaching a terminal state along with
// its total wall-clock duration.
func (m *PrometheusMetricsWrapper) SessionFinished(status string, durationSeconds float64) {
	m.TrainingSessionsCompleted.With(prometheus.Labels{"status": status}).Inc()
	m.TrainingSessionDurationSeconds.With(prometheus.Labels{"status": status}).Observe(durationSeconds)
}

// PredictionGenerated records one prediction request outcome.
func (m *PrometheusMetricsWrapper) PredictionGenerated(outcome string) {
	m.PredictionsGenerated.With(prometheus.Labels{"outcome": outcome}).Inc()
}
