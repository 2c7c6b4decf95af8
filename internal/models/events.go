package models

import "time"

// Severity captures urgency tiers used for events, anomalies, and alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a raw string onto a Severity, defaulting to low.
func ParseSeverity(value string) Severity {
	switch Severity(value) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(value)
	default:
		return SeverityLow
	}
}

// Rank orders severities for comparison; higher means more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Elevate returns the next severity tier up, capped at critical.
func (s Severity) Elevate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Strategy enumerates the recovery operations the executor can sequence.
type Strategy string

const (
	StrategyRetry              Strategy = "retry"
	StrategyTimeoutIncrease    Strategy = "timeout_increase"
	StrategyCacheClear         Strategy = "cache_clear"
	StrategyPoolIncrease       Strategy = "connection_pool_increase"
	StrategyResourceScale      Strategy = "resource_scale"
	StrategyCircuitBreak       Strategy = "circuit_break"
	StrategyServiceFallback    Strategy = "service_fallback"
	StrategyQueuePriorityBoost Strategy = "queue_priority_boost"
	StrategyRequestThrottle    Strategy = "request_throttle"
	StrategyServiceRestart     Strategy = "service_restart"
)

// KnownStrategies lists every strategy the executor understands.
func KnownStrategies() []Strategy {
	return []Strategy{
		StrategyRetry,
		StrategyTimeoutIncrease,
		StrategyCacheClear,
		StrategyPoolIncrease,
		StrategyResourceScale,
		StrategyCircuitBreak,
		StrategyServiceFallback,
		StrategyQueuePriorityBoost,
		StrategyRequestThrottle,
		StrategyServiceRestart,
	}
}

// ErrorEvent is one observed application error entering the subsystem.
// Immutable after creation apart from the resolution fields, which the
// recovery path sets when a strategy chain succeeds.
type ErrorEvent struct {
	ID         string
	Service    string
	ErrorType  string
	Severity   Severity
	Message    string
	Context    map[string]string
	OccurredAt time.Time
	Resolved   bool
	ResolvedBy Strategy
	ResolvedAt time.Time
}

// ActionStatus tracks a RecoveryAction through its lifecycle.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionExecuting ActionStatus = "executing"
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
)

// RecoveryAction records one attempted remedy within an event's chain.
type RecoveryAction struct {
	ID           string
	EventID      string
	Strategy     Strategy
	Parameters   map[string]any
	Status       ActionStatus
	Attempt      int
	StartedAt    time.Time
	FinishedAt   time.Time
	ResultDetail string
}

// RecoveryOutcome is the executor's summary for one error event.
type RecoveryOutcome struct {
	EventID   string
	Actions   []RecoveryAction
	Recovered bool
}

// Escalation is raised when a chain exhausts without success. Reasons
// carries the failure detail of every attempted strategy so operators
// are never left without diagnostics.
type Escalation struct {
	ID          string
	EventID     string
	Service     string
	Severity    Severity
	Reasons     []string
	EscalatedAt time.Time
}

// MetricSample is one numeric observation from the metrics boundary.
type MetricSample struct {
	Service    string
	MetricName string
	Value      float64
	Timestamp  time.Time
}
