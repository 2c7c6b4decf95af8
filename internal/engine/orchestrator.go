// Package engine coordinates the analysis sweep: anomaly detection,
// error prediction, metric forecasting, preventive recommendations,
// and the maintenance passes that settle predictions and re-escalate
// stale incidents.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/alerting"
	"github.com/miradorstack/mirador-heal/internal/classify"
	"github.com/miradorstack/mirador-heal/internal/detect"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/patterns"
	"github.com/miradorstack/mirador-heal/internal/predict"
	"github.com/miradorstack/mirador-heal/internal/recovery"
	"github.com/miradorstack/mirador-heal/internal/rootcause"
	"github.com/miradorstack/mirador-heal/internal/store"
)

// Store defines the persistence operations the orchestrator needs.
type Store interface {
	GetServices(ctx context.Context, since time.Time) ([]string, error)
	GetServiceMetrics(ctx context.Context, service string, since time.Time) ([]string, error)
	GetSampleWindow(ctx context.Context, service, metric string, since time.Time) ([]models.MetricSample, error)
	GetRecentEvents(ctx context.Context, service string, since time.Time, limit int) ([]models.ErrorEvent, error)
	GetOpenAnomaly(ctx context.Context, service, metric string, since time.Time) (*models.AnomalyRecord, error)
	SaveAnomaly(ctx context.Context, a *models.AnomalyRecord) error
	SavePrediction(ctx context.Context, p *models.ErrorPrediction) error
	GetRecentPredictions(ctx context.Context, service string, limit int) ([]models.ErrorPrediction, error)
	GetDuePredictions(ctx context.Context, now time.Time) ([]models.ErrorPrediction, error)
	SettlePrediction(ctx context.Context, id string, outcome models.PredictionOutcome, accuracy float64) error
	SaveForecast(ctx context.Context, f *models.Forecast) error
	SavePreventiveAction(ctx context.Context, p *models.PreventiveAction) error
	SaveEscalation(ctx context.Context, e *models.Escalation) error
	GetRecentEscalations(ctx context.Context, limit int) ([]models.Escalation, error)
	UpsertPattern(ctx context.Context, p *models.ErrorPattern) error
	DeleteOldSamples(ctx context.Context, cutoff time.Time) (int64, error)
	RecordAnalysisRun(ctx context.Context, service string, at time.Time) error
}

// AlertSink delivers alerts raised during a sweep.
type AlertSink interface {
	Send(ctx context.Context, alert alerting.Alert) error
	Escalate(ctx context.Context, esc *models.Escalation) error
}

// Options bounds the sweep windows.
type Options struct {
	Window              time.Duration // sample window fed to the detector
	DedupWindow         time.Duration // an open anomaly inside it suppresses a new record
	EscalationAfter     time.Duration // unresolved events older than this re-escalate
	Retention           time.Duration // samples older than this are deleted
	CriticalProbability float64       // predictions at or above get critical preventive priority
}

func (o *Options) applyDefaults() {
	if o.Window <= 0 {
		o.Window = 30 * time.Minute
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 30 * time.Minute
	}
	if o.EscalationAfter <= 0 {
		o.EscalationAfter = 30 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if o.CriticalProbability <= 0 {
		o.CriticalProbability = 0.9
	}
}

// Orchestrator runs the full analysis flow for one service at a time.
type Orchestrator struct {
	logger     *slog.Logger
	store      Store
	detector   *detect.Detector
	classifier *classify.Classifier
	predictor  *predict.Predictor
	forecaster *predict.Forecaster
	analyzer   *rootcause.Analyzer
	miner      *patterns.Miner
	alerts     AlertSink
	opts       Options
}

// NewOrchestrator wires the sweep. Nil analysis components fall back
// to default construction; a nil alert sink disables delivery.
func NewOrchestrator(
	logger *slog.Logger,
	st Store,
	detector *detect.Detector,
	classifier *classify.Classifier,
	predictor *predict.Predictor,
	forecaster *predict.Forecaster,
	analyzer *rootcause.Analyzer,
	miner *patterns.Miner,
	alerts AlertSink,
	opts Options,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = detect.NewDetector(detect.Config{}, logger)
	}
	if predictor == nil {
		predictor = predict.NewPredictor(predict.Config{}, logger)
	}
	if forecaster == nil {
		forecaster = predict.NewForecaster(predict.ForecastConfig{}, logger)
	}
	if analyzer == nil {
		analyzer = rootcause.NewAnalyzer(logger)
	}
	if miner == nil && st != nil {
		miner = patterns.NewMiner(0, logger, patterns.StoreFunc(st.UpsertPattern))
	}
	if alerts == nil {
		alerts = noopAlerts{}
	}
	opts.applyDefaults()

	return &Orchestrator{
		logger:     logger,
		store:      st,
		detector:   detector,
		classifier: classifier,
		predictor:  predictor,
		forecaster: forecaster,
		analyzer:   analyzer,
		miner:      miner,
		alerts:     alerts,
		opts:       opts,
	}
}

// RunFullAnalysis sweeps one service: detects metric anomalies,
// predicts the next error, forecasts each metric, derives preventive
// actions, and mines recurrence patterns. Individual persist or alert
// failures are logged and skipped; only a failing read aborts the
// sweep.
func (o *Orchestrator) RunFullAnalysis(ctx context.Context, service string) (*models.AnalysisReport, error) {
	if o.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	started := time.Now().UTC()
	report := &models.AnalysisReport{Service: service, StartedAt: started}

	metricNames, err := o.store.GetServiceMetrics(ctx, service, started.Add(-o.opts.Window))
	if err != nil {
		metrics.ObserveAnalysis(time.Since(started), metrics.OutcomeError)
		return nil, fmt.Errorf("list metrics for %s: %w", service, err)
	}

	windows := make(map[string][]models.MetricSample, len(metricNames))
	for _, metricName := range metricNames {
		window, err := o.store.GetSampleWindow(ctx, service, metricName, started.Add(-o.opts.Window))
		if err != nil {
			metrics.ObserveAnalysis(time.Since(started), metrics.OutcomeError)
			return nil, fmt.Errorf("load %s window for %s: %w", metricName, service, err)
		}
		windows[metricName] = window

		o.detectAnomaly(ctx, report, service, metricName, window, started)
		o.forecastMetric(ctx, report, service, metricName, window, started)
	}

	events, err := o.store.GetRecentEvents(ctx, service, started.Add(-o.predictor.Lookback()), 0)
	if err != nil {
		metrics.ObserveAnalysis(time.Since(started), metrics.OutcomeError)
		return nil, fmt.Errorf("load events for %s: %w", service, err)
	}
	o.predictError(ctx, report, service, events, windows, started)

	minedPatterns, err := o.miner.Mine(ctx, events)
	if err != nil {
		o.logger.Warn("pattern mining failed", "service", service, "error", err)
	}

	report.Insights = o.buildInsights(report, events, minedPatterns)
	report.CompletedAt = time.Now().UTC()

	if err := o.store.RecordAnalysisRun(ctx, service, report.CompletedAt); err != nil {
		o.logger.Warn("recording analysis run failed", "service", service, "error", err)
	}

	metrics.ObserveAnalysis(time.Since(started), metrics.OutcomeSuccess)
	o.logger.Info("analysis sweep complete",
		"service", service,
		"anomalies", len(report.Anomalies),
		"predictions", len(report.Predictions),
		"forecasts", len(report.Forecasts),
		"duration", report.CompletedAt.Sub(started),
	)
	return report, nil
}

func (o *Orchestrator) detectAnomaly(ctx context.Context, report *models.AnalysisReport, service, metricName string, window []models.MetricSample, now time.Time) {
	rec, found := o.detector.Evaluate(service, metricName, window)
	if !found {
		return
	}

	open, err := o.store.GetOpenAnomaly(ctx, service, metricName, now.Add(-o.opts.DedupWindow))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("anomaly dedup lookup failed", "service", service, "metric", metricName, "error", err)
	}
	if open != nil {
		o.logger.Debug("anomaly already open, skipping",
			"service", service,
			"metric", metricName,
			"open_id", open.ID,
		)
		return
	}

	rec.ID = uuid.NewString()
	rec.RootCauseHypothesis = o.analyzer.Hypothesis(metricName, rec.AnomalyType)
	if err := o.store.SaveAnomaly(ctx, rec); err != nil {
		o.logger.Warn("anomaly persist failed", "service", service, "metric", metricName, "error", err)
		return
	}
	metrics.ObserveAnomaly(string(rec.SeverityLevel))
	report.Anomalies = append(report.Anomalies, *rec)

	if err := o.alerts.Send(ctx, alerting.AnomalyAlert(*rec)); err != nil {
		o.logger.Warn("anomaly alert failed", "service", service, "metric", metricName, "error", err)
	}

	if action := o.preventiveFromAnomaly(*rec, now); action != nil {
		o.savePreventive(ctx, report, action)
	}
}

func (o *Orchestrator) forecastMetric(ctx context.Context, report *models.AnalysisReport, service, metricName string, window []models.MetricSample, now time.Time) {
	forecast, ok := o.forecaster.Forecast(service, metricName, window, now)
	if !ok {
		return
	}
	forecast.ID = uuid.NewString()
	if err := o.store.SaveForecast(ctx, forecast); err != nil {
		o.logger.Warn("forecast persist failed", "service", service, "metric", metricName, "error", err)
		return
	}
	metrics.ObserveForecast()
	report.Forecasts = append(report.Forecasts, *forecast)
}

func (o *Orchestrator) predictError(ctx context.Context, report *models.AnalysisReport, service string, events []models.ErrorEvent, windows map[string][]models.MetricSample, now time.Time) {
	fv := predict.ExtractFeatures(service, events, latencyWindow(windows), o.predictor.Lookback(), now)
	if o.classifier != nil && fv.TopErrorType != "" {
		classification := o.classifier.Classify(fv.TopErrorType, models.SeverityLow)
		fv.KnownErrorType = classification.Category != classify.CategoryUnknown
	}

	pred := o.predictor.Predict(fv, now)
	if pred == nil {
		return
	}

	recent, err := o.store.GetRecentPredictions(ctx, service, 20)
	if err != nil {
		o.logger.Warn("prediction dedup lookup failed", "service", service, "error", err)
	}
	if open := openPrediction(recent, pred.PredictedErrorType, now); open != nil {
		o.logger.Debug("prediction already open, skipping",
			"service", service,
			"error_type", pred.PredictedErrorType,
			"open_id", open.ID,
		)
		return
	}

	pred.ID = uuid.NewString()
	if o.classifier != nil {
		classification := o.classifier.Classify(pred.PredictedErrorType, models.SeverityLow)
		pred.RecommendedActions = recommendedActions(classification.Chain)
	}

	if err := o.store.SavePrediction(ctx, pred); err != nil {
		o.logger.Warn("prediction persist failed", "service", service, "error", err)
		return
	}
	metrics.ObservePrediction()
	report.Predictions = append(report.Predictions, *pred)

	if err := o.alerts.Send(ctx, alerting.PredictionAlert(*pred)); err != nil {
		o.logger.Warn("prediction alert failed", "service", service, "error", err)
	}

	o.savePreventive(ctx, report, o.preventiveFromPrediction(*pred, now))
}

// openPrediction finds a pending prediction of the same error type
// whose horizon has not yet lapsed.
func openPrediction(recent []models.ErrorPrediction, errorType string, now time.Time) *models.ErrorPrediction {
	for i := range recent {
		p := &recent[i]
		if p.PredictedErrorType != errorType || p.Outcome != models.OutcomePending {
			continue
		}
		if now.Before(p.PredictedAt.Add(p.TimeHorizon)) {
			return p
		}
	}
	return nil
}

// latencyWindow picks the series that best reflects service load:
// a response-time style metric when one exists, else the first window.
func latencyWindow(windows map[string][]models.MetricSample) []models.MetricSample {
	names := make([]string, 0, len(windows))
	for name := range windows {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lowered := strings.ToLower(name)
		if strings.Contains(lowered, "response_time") || strings.Contains(lowered, "latency") || strings.Contains(lowered, "duration") {
			return windows[name]
		}
	}
	if len(names) > 0 {
		return windows[names[0]]
	}
	return nil
}

// recommendedActions orders a strategy chain by historical success so
// the most promising remedy leads the recommendation.
func recommendedActions(chain []models.Strategy) []string {
	ordered := append([]models.Strategy(nil), chain...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return recovery.SuccessEstimate(ordered[i]) > recovery.SuccessEstimate(ordered[j])
	})
	out := make([]string, len(ordered))
	for i, strategy := range ordered {
		out[i] = string(strategy)
	}
	return out
}

func (o *Orchestrator) savePreventive(ctx context.Context, report *models.AnalysisReport, action *models.PreventiveAction) {
	if action == nil {
		return
	}
	if err := o.store.SavePreventiveAction(ctx, action); err != nil {
		o.logger.Warn("preventive action persist failed", "service", action.Service, "error", err)
		return
	}
	report.PreventiveActions = append(report.PreventiveActions, *action)
}

// preventiveFromAnomaly recommends a remedy for severe detections.
// Nothing is derived for medium and low anomalies; those stay
// observations.
func (o *Orchestrator) preventiveFromAnomaly(rec models.AnomalyRecord, now time.Time) *models.PreventiveAction {
	if rec.SeverityLevel != models.SeverityCritical && rec.SeverityLevel != models.SeverityHigh {
		return nil
	}

	actionType := preventiveActionType(rec.MetricName, rec.AnomalyType)
	priority := models.PriorityHigh
	if rec.SeverityLevel == models.SeverityCritical {
		priority = models.PriorityCritical
	}
	return &models.PreventiveAction{
		ID:                  uuid.NewString(),
		Service:             rec.Service,
		ActionType:          actionType,
		Description:         fmt.Sprintf("%s on %s: %s", rec.AnomalyType, rec.MetricName, rec.RootCauseHypothesis),
		Priority:            priority,
		Status:              models.PreventiveRecommended,
		CanBeAutomated:      actionType != manualReview,
		TriggeringInsightID: rec.ID,
		CreatedAt:           now,
	}
}

func (o *Orchestrator) preventiveFromPrediction(pred models.ErrorPrediction, now time.Time) *models.PreventiveAction {
	actionType := manualReview
	if len(pred.RecommendedActions) > 0 {
		actionType = pred.RecommendedActions[0]
	}
	priority := models.PriorityMedium
	switch {
	case pred.Probability >= o.opts.CriticalProbability:
		priority = models.PriorityCritical
	case pred.Probability >= 0.8:
		priority = models.PriorityHigh
	}
	return &models.PreventiveAction{
		ID:                  uuid.NewString(),
		Service:             pred.Service,
		ActionType:          actionType,
		Description:         fmt.Sprintf("preempt %s (probability %.2f within %s)", pred.PredictedErrorType, pred.Probability, pred.TimeHorizon),
		Priority:            priority,
		Status:              models.PreventiveRecommended,
		CanBeAutomated:      actionType != manualReview,
		TriggeringInsightID: pred.ID,
		CreatedAt:           now,
	}
}

const manualReview = "manual_review"

// preventiveActionType maps a metric anomaly onto the strategy most
// likely to relieve it. Metrics the table does not recognize get a
// manual review instead of a guessed automation.
func preventiveActionType(metricName string, kind models.AnomalyType) string {
	lowered := strings.ToLower(metricName)
	switch {
	case strings.Contains(lowered, "memory"), strings.Contains(lowered, "heap"), strings.Contains(lowered, "cpu"):
		return string(models.StrategyResourceScale)
	case strings.Contains(lowered, "connection"), strings.Contains(lowered, "pool"):
		return string(models.StrategyPoolIncrease)
	case strings.Contains(lowered, "queue"), strings.Contains(lowered, "backlog"), strings.Contains(lowered, "lag"):
		return string(models.StrategyQueuePriorityBoost)
	case strings.Contains(lowered, "error"):
		return string(models.StrategyCircuitBreak)
	case strings.Contains(lowered, "response_time"), strings.Contains(lowered, "latency"), strings.Contains(lowered, "duration"):
		if kind == models.AnomalyTrendChange {
			return string(models.StrategyResourceScale)
		}
		return string(models.StrategyCacheClear)
	default:
		return manualReview
	}
}

func (o *Orchestrator) buildInsights(report *models.AnalysisReport, events []models.ErrorEvent, minedPatterns []models.ErrorPattern) []string {
	var insights []string

	if n := len(report.Anomalies); n > 0 {
		worst := report.Anomalies[0]
		for _, a := range report.Anomalies[1:] {
			if a.SeverityLevel.Rank() > worst.SeverityLevel.Rank() {
				worst = a
			}
		}
		insights = append(insights, fmt.Sprintf("metric anomalies: %d (worst: %s %s on %s)",
			n, worst.SeverityLevel, worst.AnomalyType, worst.MetricName))
	}

	for _, pred := range report.Predictions {
		insights = append(insights, fmt.Sprintf("%s expected within %s (probability %.2f)",
			pred.PredictedErrorType, pred.TimeHorizon, pred.Probability))
	}

	if len(minedPatterns) > 0 {
		top := minedPatterns[0]
		insights = append(insights, fmt.Sprintf("recurring signature %s x%d (%.0f%% of recent events)",
			top.ErrorType, top.Occurrences, top.Prevalence*100))
	}

	if latest := latestUnresolved(events); latest != nil {
		ranked := o.analyzer.Rank(*latest, events, 3)
		if strategy, count := rootcause.CommonResolution(ranked); count > 0 {
			insights = append(insights, fmt.Sprintf("similar incidents most often resolved by %s (%d of %d)",
				strategy, count, len(ranked)))
		}
	}

	return insights
}

func latestUnresolved(events []models.ErrorEvent) *models.ErrorEvent {
	var latest *models.ErrorEvent
	for i := range events {
		ev := &events[i]
		if ev.Resolved {
			continue
		}
		if latest == nil || ev.OccurredAt.After(latest.OccurredAt) {
			latest = ev
		}
	}
	return latest
}

type noopAlerts struct{}

func (noopAlerts) Send(context.Context, alerting.Alert) error          { return nil }
func (noopAlerts) Escalate(context.Context, *models.Escalation) error { return nil }
