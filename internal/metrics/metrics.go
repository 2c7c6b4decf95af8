package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels recovered events and clean analysis sweeps.
	OutcomeSuccess = "success"
	// OutcomeError labels exhausted chains and failed sweeps.
	OutcomeError = "error"
)

var (
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "events_ingested_total",
			Help:      "Error events accepted from the capture boundary, partitioned by severity.",
		},
		[]string{"severity"},
	)

	recoveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "recovery_attempts_total",
			Help:      "Individual strategy attempts, partitioned by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "recoveries_total",
			Help:      "Completed recovery chains, partitioned by overall outcome.",
		},
		[]string{"outcome"},
	)

	recoveryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_heal",
			Name:      "recovery_seconds",
			Help:      "Full-chain recovery latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "escalations_total",
			Help:      "Chains exhausted without success and escalated to the alert gateway.",
		},
	)

	anomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "anomalies_detected_total",
			Help:      "Persisted anomaly records, partitioned by severity.",
		},
		[]string{"severity"},
	)

	predictionsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "predictions_emitted_total",
			Help:      "Error predictions above the alert threshold.",
		},
	)

	predictionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "prediction_outcomes_total",
			Help:      "Reconciled prediction outcomes, partitioned by result.",
		},
		[]string{"outcome"},
	)

	forecastsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "forecasts_generated_total",
			Help:      "Metric forecasts produced by the batch and inline paths.",
		},
	)

	alertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "alerts_sent_total",
			Help:      "Alerts delivered to the gateway, partitioned by kind.",
		},
		[]string{"kind"},
	)

	alertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts withheld by the suppression window.",
		},
	)

	analysisRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "analysis_runs_total",
			Help:      "Orchestrated analysis passes, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "analysis_skipped_total",
			Help:      "Scheduler ticks skipped because the previous sweep was still running.",
		},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_heal",
			Name:      "analysis_seconds",
			Help:      "Full-analysis latency per service in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "http_requests_total",
			Help:      "HTTP API requests, partitioned by route and status code.",
		},
		[]string{"path", "code"},
	)
)

// Register attaches mirador-heal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		recoveryAttemptsTotal,
		recoveriesTotal,
		recoveryDurationSeconds,
		escalationsTotal,
		anomaliesDetectedTotal,
		predictionsEmittedTotal,
		predictionOutcomesTotal,
		forecastsGeneratedTotal,
		alertsSentTotal,
		alertsSuppressedTotal,
		analysisRunsTotal,
		analysisSkippedTotal,
		analysisDurationSeconds,
		httpRequestsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest counts an accepted error event.
func ObserveIngest(severity string) {
	eventsIngestedTotal.WithLabelValues(severity).Inc()
}

// ObserveAttempt counts a single strategy attempt.
func ObserveAttempt(strategy, outcome string) {
	recoveryAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveRecovery records a completed chain's duration and outcome.
func ObserveRecovery(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	recoveriesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	recoveryDurationSeconds.Observe(duration.Seconds())
}

// ObserveEscalation counts an exhausted chain escalation.
func ObserveEscalation() {
	escalationsTotal.Inc()
}

// ObserveAnomaly counts a persisted anomaly record.
func ObserveAnomaly(severity string) {
	anomaliesDetectedTotal.WithLabelValues(severity).Inc()
}

// ObservePrediction counts an emitted prediction.
func ObservePrediction() {
	predictionsEmittedTotal.Inc()
}

// ObservePredictionOutcome counts a reconciled prediction.
func ObservePredictionOutcome(outcome string) {
	predictionOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveForecast counts a generated forecast.
func ObserveForecast() {
	forecastsGeneratedTotal.Inc()
}

// ObserveAlert counts a delivered alert by kind.
func ObserveAlert(kind string) {
	alertsSentTotal.WithLabelValues(kind).Inc()
}

// ObserveAlertSuppressed counts an alert withheld by suppression.
func ObserveAlertSuppressed() {
	alertsSuppressedTotal.Inc()
}

// ObserveAnalysis records an analysis pass duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysisRunsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveAnalysisSkipped counts a scheduler tick skipped by the overlap guard.
func ObserveAnalysisSkipped() {
	analysisSkippedTotal.Inc()
}

// ObserveHTTPRequest counts one served HTTP request by route and status.
func ObserveHTTPRequest(path, code string) {
	httpRequestsTotal.WithLabelValues(path, code).Inc()
}
