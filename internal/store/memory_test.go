package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func TestMemoryStoreEventLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []models.ErrorEvent{
		{ID: "ev-1", Service: "checkout", ErrorType: "ConnectionError", Severity: models.SeverityHigh, OccurredAt: base},
		{ID: "ev-2", Service: "checkout", ErrorType: "DatabaseError", Severity: models.SeverityCritical, OccurredAt: base.Add(time.Minute)},
		{ID: "ev-3", Service: "billing", ErrorType: "APIError", Severity: models.SeverityMedium, OccurredAt: base.Add(2 * time.Minute)},
	}
	for i := range events {
		if err := s.SaveEvent(ctx, &events[i]); err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}

	got, err := s.GetRecentEvents(ctx, "checkout", time.Time{}, 10)
	if err != nil {
		t.Fatalf("GetRecentEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 checkout events, got %d", len(got))
	}
	if got[0].ID != "ev-2" {
		t.Errorf("expected newest event first, got %s", got[0].ID)
	}

	if err := s.MarkEventResolved(ctx, "ev-1", models.StrategyRetry, base.Add(5*time.Minute)); err != nil {
		t.Fatalf("MarkEventResolved: %v", err)
	}
	ev, err := s.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !ev.Resolved || ev.ResolvedBy != models.StrategyRetry {
		t.Errorf("resolution not recorded: %+v", ev)
	}

	unresolved, err := s.CountUnresolvedEvents(ctx, "checkout")
	if err != nil {
		t.Fatalf("CountUnresolvedEvents: %v", err)
	}
	if unresolved != 1 {
		t.Errorf("expected 1 unresolved checkout event, got %d", unresolved)
	}

	if err := s.MarkEventResolved(ctx, "missing", models.StrategyRetry, base); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown event, got %v", err)
	}
}

func TestMemoryStoreSampleStats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var samples []models.MetricSample
	for i := 0; i < 12; i++ {
		samples = append(samples, models.MetricSample{
			Service: "api", MetricName: "response_time_ms", Value: 700,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	for i := 0; i < 12; i++ {
		samples = append(samples, models.MetricSample{
			Service: "api", MetricName: "response_time_ms", Value: 900,
			Timestamp: base.Add(time.Duration(12+i) * time.Minute),
		})
	}
	if err := s.SaveSamples(ctx, samples); err != nil {
		t.Fatalf("SaveSamples: %v", err)
	}

	stats, err := s.GetSampleStats(ctx, "api", "response_time_ms", time.Time{})
	if err != nil {
		t.Fatalf("GetSampleStats: %v", err)
	}
	if stats.Count != 24 {
		t.Fatalf("expected 24 samples, got %d", stats.Count)
	}
	if math.Abs(stats.Avg-800) > 1e-9 {
		t.Errorf("expected mean 800, got %f", stats.Avg)
	}
	if math.Abs(stats.StdDev-100) > 1e-9 {
		t.Errorf("expected stddev 100, got %f", stats.StdDev)
	}
	if stats.Min != 700 || stats.Max != 900 {
		t.Errorf("unexpected min/max: %f/%f", stats.Min, stats.Max)
	}

	window, err := s.GetSampleWindow(ctx, "api", "response_time_ms", time.Time{})
	if err != nil {
		t.Fatalf("GetSampleWindow: %v", err)
	}
	for i := 1; i < len(window); i++ {
		if window[i].Timestamp.Before(window[i-1].Timestamp) {
			t.Fatalf("window not ordered at index %d", i)
		}
	}

	removed, err := s.DeleteOldSamples(ctx, base.Add(12*time.Minute))
	if err != nil {
		t.Fatalf("DeleteOldSamples: %v", err)
	}
	if removed != 12 {
		t.Errorf("expected 12 removed samples, got %d", removed)
	}
}

func TestMemoryStoreServiceDiscovery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	err := s.SaveSamples(ctx, []models.MetricSample{
		{Service: "api", MetricName: "response_time_ms", Value: 100, Timestamp: now},
		{Service: "api", MetricName: "error_rate", Value: 0.1, Timestamp: now},
		{Service: "worker", MetricName: "queue_depth", Value: 40, Timestamp: now},
	})
	if err != nil {
		t.Fatalf("SaveSamples: %v", err)
	}

	if err := s.SaveEvent(ctx, &models.ErrorEvent{
		ID: "ev-errors-only", Service: "batch", ErrorType: "TimeoutError", OccurredAt: now,
	}); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	services, err := s.GetServices(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetServices: %v", err)
	}
	if len(services) != 3 || services[0] != "api" || services[1] != "batch" || services[2] != "worker" {
		t.Fatalf("unexpected services: %v", services)
	}

	metrics, err := s.GetServiceMetrics(ctx, "api", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetServiceMetrics: %v", err)
	}
	if len(metrics) != 2 || metrics[0] != "error_rate" || metrics[1] != "response_time_ms" {
		t.Fatalf("unexpected metrics: %v", metrics)
	}
}

func TestMemoryStoreAnomalyDedupLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	first := models.AnomalyRecord{
		ID: "an-1", Service: "api", MetricName: "response_time_ms",
		AnomalyScore: 0.9, IsAnomaly: true, SeverityLevel: models.SeverityCritical,
		DetectedAt: now.Add(-10 * time.Minute),
	}
	if err := s.SaveAnomaly(ctx, &first); err != nil {
		t.Fatalf("SaveAnomaly: %v", err)
	}

	open, err := s.GetOpenAnomaly(ctx, "api", "response_time_ms", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("GetOpenAnomaly: %v", err)
	}
	if open.ID != "an-1" {
		t.Fatalf("expected an-1, got %s", open.ID)
	}

	// Outside the window the record no longer blocks a fresh detection.
	if _, err := s.GetOpenAnomaly(ctx, "api", "response_time_ms", now.Add(-5*time.Minute)); err != ErrNotFound {
		t.Errorf("expected ErrNotFound outside window, got %v", err)
	}

	if err := s.AcknowledgeAnomaly(ctx, "an-1", "oncall", now); err != nil {
		t.Fatalf("AcknowledgeAnomaly: %v", err)
	}
	if _, err := s.GetOpenAnomaly(ctx, "api", "response_time_ms", now.Add(-30*time.Minute)); err != ErrNotFound {
		t.Errorf("acknowledged anomaly should not be open, got %v", err)
	}

	n, err := s.CountOpenAnomalies(ctx, "api")
	if err != nil {
		t.Fatalf("CountOpenAnomalies: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 open anomalies after ack, got %d", n)
	}
}

func TestMemoryStorePredictionSettlement(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	pred := models.ErrorPrediction{
		ID: "pr-1", Service: "api", PredictedErrorType: "DatabaseTimeout",
		Probability: 0.8, Confidence: 0.7, TimeHorizon: 30 * time.Minute,
		PredictedAt: now.Add(-time.Hour),
	}
	if err := s.SavePrediction(ctx, &pred); err != nil {
		t.Fatalf("SavePrediction: %v", err)
	}

	due, err := s.GetDuePredictions(ctx, now)
	if err != nil {
		t.Fatalf("GetDuePredictions: %v", err)
	}
	if len(due) != 1 || due[0].ID != "pr-1" {
		t.Fatalf("expected pr-1 due, got %v", due)
	}

	if err := s.SettlePrediction(ctx, "pr-1", models.OutcomeOccurred, 0.8); err != nil {
		t.Fatalf("SettlePrediction: %v", err)
	}

	due, err = s.GetDuePredictions(ctx, now)
	if err != nil {
		t.Fatalf("GetDuePredictions after settle: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("settled prediction still due: %v", due)
	}

	preds, err := s.GetRecentPredictions(ctx, "api", 10)
	if err != nil {
		t.Fatalf("GetRecentPredictions: %v", err)
	}
	if preds[0].Outcome != models.OutcomeOccurred || preds[0].Accuracy == nil || *preds[0].Accuracy != 0.8 {
		t.Errorf("settlement not recorded: %+v", preds[0])
	}
}

func TestMemoryStorePatternUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	p := models.ErrorPattern{
		ID: "pat-1", Service: "api", ErrorType: "ConnectionError",
		Occurrences: 3, Severity: models.SeverityHigh, Prevalence: 0.3,
		FirstSeen: now.Add(-time.Hour), LastSeen: now.Add(-30 * time.Minute),
	}
	if err := s.UpsertPattern(ctx, &p); err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}

	p.Occurrences = 7
	p.LastSeen = now
	p.ID = "pat-ignored"
	if err := s.UpsertPattern(ctx, &p); err != nil {
		t.Fatalf("UpsertPattern refresh: %v", err)
	}

	patterns, err := s.GetPatterns(ctx, "api")
	if err != nil {
		t.Fatalf("GetPatterns: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected single pattern row, got %d", len(patterns))
	}
	if patterns[0].ID != "pat-1" {
		t.Errorf("upsert must keep the original ID, got %s", patterns[0].ID)
	}
	if patterns[0].Occurrences != 7 || !patterns[0].LastSeen.Equal(now) {
		t.Errorf("refresh not applied: %+v", patterns[0])
	}
}
