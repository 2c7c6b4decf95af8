// Package services exposes the fault-response engine as one facade the
// HTTP layer calls into. It owns input validation and the glue between
// ingest, classification, recovery, and the analysis pipeline; the
// domain logic itself lives in the packages underneath.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/classify"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/store"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// ErrInvalid marks rejected input so transport layers can map it to a
// client error instead of a server fault.
var ErrInvalid = errors.New("invalid request")

// Store defines the persistence surface the facade reads and writes.
type Store interface {
	SaveEvent(ctx context.Context, ev *models.ErrorEvent) error
	GetEvent(ctx context.Context, id string) (*models.ErrorEvent, error)
	GetRecentEvents(ctx context.Context, service string, since time.Time, limit int) ([]models.ErrorEvent, error)
	CountRecentEvents(ctx context.Context, service string, since time.Time) (int, error)
	CountUnresolvedEvents(ctx context.Context, service string) (int, error)
	SaveSamples(ctx context.Context, samples []models.MetricSample) error
	GetSampleStats(ctx context.Context, service, metric string, since time.Time) (store.SampleStats, error)
	GetServices(ctx context.Context, since time.Time) ([]string, error)
	GetRecentAnomalies(ctx context.Context, service string, limit int) ([]models.AnomalyRecord, error)
	CountOpenAnomalies(ctx context.Context, service string) (int, error)
	AcknowledgeAnomaly(ctx context.Context, id, by string, at time.Time) error
	GetRecentPredictions(ctx context.Context, service string, limit int) ([]models.ErrorPrediction, error)
	GetRecentForecasts(ctx context.Context, service string, limit int) ([]models.Forecast, error)
	GetActions(ctx context.Context, f store.ActionFilter) ([]models.RecoveryAction, error)
	GetRecentPreventiveActions(ctx context.Context, service string, limit int) ([]models.PreventiveAction, error)
	UpdatePreventiveStatus(ctx context.Context, id string, status models.PreventiveStatus) error
	GetPatterns(ctx context.Context, service string) ([]models.ErrorPattern, error)
	GetRecentEscalations(ctx context.Context, limit int) ([]models.Escalation, error)
	GetLastAnalysis(ctx context.Context, service string) (time.Time, error)
}

// Recoverer runs a strategy chain for one event.
type Recoverer interface {
	Execute(ctx context.Context, ev *models.ErrorEvent, chain []models.Strategy) (*models.RecoveryOutcome, error)
}

// Analyzer runs the batch analysis pipeline for one service.
type Analyzer interface {
	RunFullAnalysis(ctx context.Context, service string) (*models.AnalysisReport, error)
}

// ErrorReport is the capture-boundary input for one error event.
type ErrorReport struct {
	Service    string
	ErrorType  string
	Message    string
	Severity   string
	Context    map[string]string
	OccurredAt time.Time
}

// ErrorReceipt summarises ingest plus the inline recovery run.
type ErrorReceipt struct {
	Event    models.ErrorEvent
	Category classify.Category
	Chain    []models.Strategy
	Outcome  *models.RecoveryOutcome
}

// HealService is the facade over ingest, recovery, and analysis.
type HealService struct {
	logger       *slog.Logger
	store        Store
	classifier   *classify.Classifier
	executor     Recoverer
	orchestrator Analyzer
	latencies    *utils.LatencyTracker

	// discoveryWindow bounds how far back service discovery looks when
	// sweeping every service or building the health rollup.
	discoveryWindow time.Duration
}

// NewHealService constructs the facade.
func NewHealService(logger *slog.Logger, st Store, classifier *classify.Classifier, executor Recoverer, orchestrator Analyzer) *HealService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealService{
		logger:          logger,
		store:           st,
		classifier:      classifier,
		executor:        executor,
		orchestrator:    orchestrator,
		latencies:       utils.NewLatencyTracker(1024),
		discoveryWindow: 24 * time.Hour,
	}
}

// ReportError ingests one error event, classifies it, and runs the
// recovery chain inline. The event is persisted before any strategy
// executes so the audit trail survives a crash mid-chain.
func (s *HealService) ReportError(ctx context.Context, report ErrorReport) (*ErrorReceipt, error) {
	if report.Service == "" {
		return nil, fmt.Errorf("%w: service is required", ErrInvalid)
	}
	if report.ErrorType == "" {
		return nil, fmt.Errorf("%w: error_type is required", ErrInvalid)
	}

	occurredAt := report.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	classification := s.classifier.Classify(report.ErrorType, models.ParseSeverity(report.Severity))
	ev := models.ErrorEvent{
		ID:         uuid.NewString(),
		Service:    report.Service,
		ErrorType:  report.ErrorType,
		Severity:   classification.Severity,
		Message:    report.Message,
		Context:    report.Context,
		OccurredAt: occurredAt,
	}
	if err := s.store.SaveEvent(ctx, &ev); err != nil {
		return nil, utils.NewAppError("services.ReportError", "persist event", err)
	}
	metrics.ObserveIngest(string(ev.Severity))

	start := time.Now()
	outcome, err := s.executor.Execute(ctx, &ev, classification.Chain)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("recovery aborted", "event_id", ev.ID, "error", err)
		return nil, utils.NewAppError("services.ReportError", "run recovery chain", err)
	}
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("recovery latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	return &ErrorReceipt{
		Event:    ev,
		Category: classification.Category,
		Chain:    classification.Chain,
		Outcome:  outcome,
	}, nil
}

// IngestSamples stores a batch of metric samples, stamping any that
// arrive without a timestamp. Returns the number accepted.
func (s *HealService) IngestSamples(ctx context.Context, samples []models.MetricSample) (int, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: no samples supplied", ErrInvalid)
	}
	now := time.Now().UTC()
	for i := range samples {
		if samples[i].Service == "" || samples[i].MetricName == "" {
			return 0, fmt.Errorf("%w: sample %d missing service or metric", ErrInvalid, i)
		}
		if samples[i].Timestamp.IsZero() {
			samples[i].Timestamp = now
		}
	}
	if err := s.store.SaveSamples(ctx, samples); err != nil {
		return 0, utils.NewAppError("services.IngestSamples", "persist samples", err)
	}
	return len(samples), nil
}

// MetricStats summarises one (service, metric) series over a window.
func (s *HealService) MetricStats(ctx context.Context, service, metric string, since time.Time) (store.SampleStats, error) {
	if service == "" || metric == "" {
		return store.SampleStats{}, fmt.Errorf("%w: service and metric are required", ErrInvalid)
	}
	return s.store.GetSampleStats(ctx, service, metric, since)
}

// RunAnalysis triggers the batch pipeline. With a service it analyzes
// just that service; without one it sweeps every service seen recently,
// carrying on past per-service failures.
func (s *HealService) RunAnalysis(ctx context.Context, service string) ([]models.AnalysisReport, error) {
	if s.orchestrator == nil {
		return nil, errors.New("analysis pipeline not configured")
	}
	if service != "" {
		report, err := s.orchestrator.RunFullAnalysis(ctx, service)
		if err != nil {
			return nil, utils.NewAppError("services.RunAnalysis", "analyze "+service, err)
		}
		return []models.AnalysisReport{*report}, nil
	}

	names, err := s.store.GetServices(ctx, time.Now().UTC().Add(-s.discoveryWindow))
	if err != nil {
		return nil, utils.NewAppError("services.RunAnalysis", "discover services", err)
	}
	reports := make([]models.AnalysisReport, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := s.orchestrator.RunFullAnalysis(ctx, name)
		if err != nil {
			s.logger.Error("analysis failed", "service", name, "error", err)
			continue
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

// Event returns one stored error event by id.
func (s *HealService) Event(ctx context.Context, id string) (*models.ErrorEvent, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalid)
	}
	return s.store.GetEvent(ctx, id)
}

// Anomalies lists recent anomaly records, optionally per service.
func (s *HealService) Anomalies(ctx context.Context, service string, limit int) ([]models.AnomalyRecord, error) {
	return s.store.GetRecentAnomalies(ctx, service, limit)
}

// AcknowledgeAnomaly marks an anomaly as seen by an operator.
func (s *HealService) AcknowledgeAnomaly(ctx context.Context, id, by string) error {
	if id == "" {
		return fmt.Errorf("%w: anomaly id is required", ErrInvalid)
	}
	if by == "" {
		by = "operator"
	}
	return s.store.AcknowledgeAnomaly(ctx, id, by, time.Now().UTC())
}

// Predictions lists recent error predictions, including settled outcomes.
func (s *HealService) Predictions(ctx context.Context, service string, limit int) ([]models.ErrorPrediction, error) {
	return s.store.GetRecentPredictions(ctx, service, limit)
}

// Forecasts lists recent metric forecasts.
func (s *HealService) Forecasts(ctx context.Context, service string, limit int) ([]models.Forecast, error) {
	return s.store.GetRecentForecasts(ctx, service, limit)
}

// Actions lists the recovery action log, filtered by event or service.
func (s *HealService) Actions(ctx context.Context, filter store.ActionFilter) ([]models.RecoveryAction, error) {
	return s.store.GetActions(ctx, filter)
}

// PreventiveActions lists recommended preventive work.
func (s *HealService) PreventiveActions(ctx context.Context, service string, limit int) ([]models.PreventiveAction, error) {
	return s.store.GetRecentPreventiveActions(ctx, service, limit)
}

// UpdatePreventiveStatus moves a preventive action through its lifecycle.
func (s *HealService) UpdatePreventiveStatus(ctx context.Context, id string, status models.PreventiveStatus) error {
	if id == "" {
		return fmt.Errorf("%w: action id is required", ErrInvalid)
	}
	switch status {
	case models.PreventiveRecommended, models.PreventiveScheduled, models.PreventiveExecuted, models.PreventiveSkipped:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	return s.store.UpdatePreventiveStatus(ctx, id, status)
}

// Patterns lists mined error patterns, optionally per service.
func (s *HealService) Patterns(ctx context.Context, service string) ([]models.ErrorPattern, error) {
	return s.store.GetPatterns(ctx, service)
}

// Escalations lists recent escalations across services.
func (s *HealService) Escalations(ctx context.Context, limit int) ([]models.Escalation, error) {
	return s.store.GetRecentEscalations(ctx, limit)
}

// HealthRollup builds the per-service dashboard summary. Error rate is
// events per hour over the trailing hour.
func (s *HealService) HealthRollup(ctx context.Context) ([]models.ServiceHealth, error) {
	now := time.Now().UTC()
	names, err := s.store.GetServices(ctx, now.Add(-s.discoveryWindow))
	if err != nil {
		return nil, utils.NewAppError("services.HealthRollup", "discover services", err)
	}

	rollup := make([]models.ServiceHealth, 0, len(names))
	for _, name := range names {
		recent, err := s.store.CountRecentEvents(ctx, name, now.Add(-time.Hour))
		if err != nil {
			return nil, utils.NewAppError("services.HealthRollup", "count events for "+name, err)
		}
		open, err := s.store.CountOpenAnomalies(ctx, name)
		if err != nil {
			return nil, utils.NewAppError("services.HealthRollup", "count anomalies for "+name, err)
		}
		unresolved, err := s.store.CountUnresolvedEvents(ctx, name)
		if err != nil {
			return nil, utils.NewAppError("services.HealthRollup", "count unresolved for "+name, err)
		}
		last, err := s.store.GetLastAnalysis(ctx, name)
		if err != nil {
			return nil, utils.NewAppError("services.HealthRollup", "last analysis for "+name, err)
		}

		rate := float64(recent)
		rollup = append(rollup, models.ServiceHealth{
			Service:       name,
			ErrorRate:     rate,
			OpenAnomalies: open,
			Unresolved:    unresolved,
			LastAnalysis:  last,
			Tier:          healthTier(rate, open, unresolved),
		})
	}
	return rollup, nil
}

// healthTier folds the rollup counts into one severity for triage.
// Unacknowledged anomalies dominate; a high raw error rate alone only
// reaches medium when every event recovered.
func healthTier(errorRate float64, openAnomalies, unresolved int) models.Severity {
	switch {
	case openAnomalies > 0 && unresolved > 0:
		return models.SeverityCritical
	case openAnomalies > 0:
		return models.SeverityHigh
	case unresolved > 0 || errorRate >= 30:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// RecoveryLatencyP95 reports the current p95 inline recovery latency.
func (s *HealService) RecoveryLatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
