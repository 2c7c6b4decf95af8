// Package store persists error events, recovery history, metric samples,
// and analysis artifacts. PostgresStore is the production backend;
// MemoryStore serves tests and DB-less development with the same method
// set, so consumers declare the narrow interface they need and accept
// either.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: not found")

// Store is the full method set shared by both backends. It exists so the
// entrypoint can hold whichever backend configuration selected behind one
// variable; packages consuming storage keep declaring their own narrow
// interfaces.
type Store interface {
	Close()
	Health(ctx context.Context) error

	SaveEvent(ctx context.Context, ev *models.ErrorEvent) error
	MarkEventResolved(ctx context.Context, eventID string, strategy models.Strategy, at time.Time) error
	GetEvent(ctx context.Context, id string) (*models.ErrorEvent, error)
	GetRecentEvents(ctx context.Context, service string, since time.Time, limit int) ([]models.ErrorEvent, error)
	CountUnresolvedEvents(ctx context.Context, service string) (int, error)
	CountRecentEvents(ctx context.Context, service string, since time.Time) (int, error)

	SaveAction(ctx context.Context, a *models.RecoveryAction) error
	GetActions(ctx context.Context, f ActionFilter) ([]models.RecoveryAction, error)
	SaveEscalation(ctx context.Context, e *models.Escalation) error
	GetRecentEscalations(ctx context.Context, limit int) ([]models.Escalation, error)

	SaveSamples(ctx context.Context, samples []models.MetricSample) error
	GetSampleWindow(ctx context.Context, service, metric string, since time.Time) ([]models.MetricSample, error)
	GetSampleStats(ctx context.Context, service, metric string, since time.Time) (SampleStats, error)
	GetServices(ctx context.Context, since time.Time) ([]string, error)
	GetServiceMetrics(ctx context.Context, service string, since time.Time) ([]string, error)
	DeleteOldSamples(ctx context.Context, cutoff time.Time) (int64, error)

	SaveAnomaly(ctx context.Context, a *models.AnomalyRecord) error
	GetOpenAnomaly(ctx context.Context, service, metric string, since time.Time) (*models.AnomalyRecord, error)
	GetRecentAnomalies(ctx context.Context, service string, limit int) ([]models.AnomalyRecord, error)
	CountOpenAnomalies(ctx context.Context, service string) (int, error)
	AcknowledgeAnomaly(ctx context.Context, id, by string, at time.Time) error

	SavePrediction(ctx context.Context, p *models.ErrorPrediction) error
	GetRecentPredictions(ctx context.Context, service string, limit int) ([]models.ErrorPrediction, error)
	GetDuePredictions(ctx context.Context, now time.Time) ([]models.ErrorPrediction, error)
	SettlePrediction(ctx context.Context, id string, outcome models.PredictionOutcome, accuracy float64) error
	SaveForecast(ctx context.Context, f *models.Forecast) error
	GetRecentForecasts(ctx context.Context, service string, limit int) ([]models.Forecast, error)

	SavePreventiveAction(ctx context.Context, p *models.PreventiveAction) error
	GetRecentPreventiveActions(ctx context.Context, service string, limit int) ([]models.PreventiveAction, error)
	UpdatePreventiveStatus(ctx context.Context, id string, status models.PreventiveStatus) error

	UpsertPattern(ctx context.Context, p *models.ErrorPattern) error
	GetPatterns(ctx context.Context, service string) ([]models.ErrorPattern, error)

	RecordAnalysisRun(ctx context.Context, service string, at time.Time) error
	GetLastAnalysis(ctx context.Context, service string) (time.Time, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// SampleStats summarises one (service, metric) window straight from SQL
// aggregates so baselines never require loading full windows.
type SampleStats struct {
	Service    string
	MetricName string
	Count      int64
	Avg        float64
	Min        float64
	Max        float64
	StdDev     float64
}

// ActionFilter narrows recovery action listings.
type ActionFilter struct {
	EventID string
	Service string
	Limit   int
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

func withinWindow(ts, since time.Time) bool {
	return since.IsZero() || ts.After(since)
}
