package models

import "time"

// AnomalyType enumerates the shapes of metric deviation the detector reports.
type AnomalyType string

const (
	AnomalySpike            AnomalyType = "spike"
	AnomalyDrop             AnomalyType = "drop"
	AnomalyTrendChange      AnomalyType = "trend_change"
	AnomalyPatternDeviation AnomalyType = "pattern_deviation"
)

// AnomalyRecord is one persisted detection for a (service, metric) pair.
// Mutated only by acknowledgement.
type AnomalyRecord struct {
	ID                  string
	Service             string
	MetricName          string
	AnomalyScore        float64
	IsAnomaly           bool
	SeverityLevel       Severity
	AnomalyType         AnomalyType
	DeviationPct        float64
	Confidence          float64
	DetectedAt          time.Time
	RootCauseHypothesis string
	Acknowledged        bool
	AcknowledgedBy      string
	AcknowledgedAt      time.Time
}

// PredictionOutcome records how a prediction reconciled against reality.
type PredictionOutcome string

const (
	OutcomePending     PredictionOutcome = ""
	OutcomeOccurred    PredictionOutcome = "occurred"
	OutcomeDidNotOccur PredictionOutcome = "did_not_occur"
)

// ErrorPrediction is an emitted forecast of a future error. Probability
// and Confidence are independent axes: confidence reflects how much
// history backed the estimate, not how likely the error is.
type ErrorPrediction struct {
	ID                 string
	Service            string
	PredictedErrorType string
	Probability        float64
	Confidence         float64
	TimeHorizon        time.Duration
	PredictedAt        time.Time
	RecommendedActions []string
	Outcome            PredictionOutcome
	Accuracy           *float64
}

// Due reports whether the prediction's horizon has elapsed at the given time.
func (p ErrorPrediction) Due(now time.Time) bool {
	return p.Outcome == OutcomePending && !now.Before(p.PredictedAt.Add(p.TimeHorizon))
}

// TrendDirection labels the slope of a smoothed series.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

// ForecastPoint is one forecast step with its confidence interval.
type ForecastPoint struct {
	Timestamp time.Time
	Value     float64
	Lower     float64
	Upper     float64
}

// Forecast is a short-horizon projection of one metric.
type Forecast struct {
	ID             string
	Service        string
	MetricName     string
	Points         []ForecastPoint
	TrendDirection TrendDirection
	PeakValue      float64
	GeneratedAt    time.Time
}

// ActionPriority ranks preventive actions for operator triage.
type ActionPriority string

const (
	PriorityLow      ActionPriority = "low"
	PriorityMedium   ActionPriority = "medium"
	PriorityHigh     ActionPriority = "high"
	PriorityCritical ActionPriority = "critical"
)

// PreventiveStatus tracks a preventive action's lifecycle.
type PreventiveStatus string

const (
	PreventiveRecommended PreventiveStatus = "recommended"
	PreventiveScheduled   PreventiveStatus = "scheduled"
	PreventiveExecuted    PreventiveStatus = "executed"
	PreventiveSkipped     PreventiveStatus = "skipped"
)

// PreventiveAction is a recommended remediation derived from analysis,
// distinct from the reactive RecoveryAction chain.
type PreventiveAction struct {
	ID                  string
	Service             string
	ActionType          string
	Description         string
	Priority            ActionPriority
	Status              PreventiveStatus
	CanBeAutomated      bool
	TriggeringInsightID string
	CreatedAt           time.Time
}

// ErrorPattern is a recurring (service, error_type) signature mined from
// event history.
type ErrorPattern struct {
	ID          string
	Service     string
	ErrorType   string
	Occurrences int
	Severity    Severity
	Prevalence  float64
	FirstSeen   time.Time
	LastSeen    time.Time
}

// AnalysisReport aggregates one orchestrated analysis pass for a service.
type AnalysisReport struct {
	Service           string
	Anomalies         []AnomalyRecord
	Predictions       []ErrorPrediction
	Forecasts         []Forecast
	PreventiveActions []PreventiveAction
	Insights          []string
	StartedAt         time.Time
	CompletedAt       time.Time
}

// ServiceHealth is a per-service rollup for the dashboard boundary.
type ServiceHealth struct {
	Service       string
	ErrorRate     float64
	OpenAnomalies int
	Unresolved    int
	LastAnalysis  time.Time
	Tier          Severity
}
