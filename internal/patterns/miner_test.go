package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

type fakePatternStore struct {
	upserted []models.ErrorPattern
}

func (f *fakePatternStore) UpsertPattern(ctx context.Context, pattern *models.ErrorPattern) error {
	f.upserted = append(f.upserted, *pattern)
	return nil
}

func eventAt(service, errorType string, severity models.Severity, at time.Time) models.ErrorEvent {
	return models.ErrorEvent{
		Service:    service,
		ErrorType:  errorType,
		Severity:   severity,
		OccurredAt: at,
	}
}

func TestMinerAggregatesSignatures(t *testing.T) {
	store := &fakePatternStore{}
	miner := NewMiner(2, nil, store)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	events := []models.ErrorEvent{
		eventAt("checkout", "ConnectionError", models.SeverityMedium, now.Add(-3*time.Hour)),
		eventAt("checkout", "ConnectionError", models.SeverityHigh, now.Add(-2*time.Hour)),
		eventAt("checkout", "ConnectionError", models.SeverityMedium, now.Add(-time.Hour)),
		eventAt("billing", "DatabaseTimeout", models.SeverityHigh, now.Add(-30*time.Minute)),
		eventAt("billing", "DatabaseTimeout", models.SeverityHigh, now.Add(-10*time.Minute)),
		eventAt("search", "ValidationError", models.SeverityLow, now.Add(-5*time.Minute)),
	}

	patterns, err := miner.Mine(context.Background(), events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("mined %d patterns, want 2 (single occurrence is noise)", len(patterns))
	}

	first := patterns[0]
	if first.Service != "checkout" || first.ErrorType != "ConnectionError" {
		t.Fatalf("most frequent signature = %s/%s", first.Service, first.ErrorType)
	}
	if first.Occurrences != 3 {
		t.Fatalf("occurrences = %d, want 3", first.Occurrences)
	}
	if first.Severity != models.SeverityHigh {
		t.Fatalf("severity should carry the worst seen, got %q", first.Severity)
	}
	if first.Prevalence != 0.5 {
		t.Fatalf("prevalence = %v, want 0.5", first.Prevalence)
	}
	if !first.FirstSeen.Equal(now.Add(-3 * time.Hour)) {
		t.Fatalf("first seen = %v", first.FirstSeen)
	}
	if !first.LastSeen.Equal(now.Add(-time.Hour)) {
		t.Fatalf("last seen = %v", first.LastSeen)
	}
	if first.ID == "" {
		t.Fatal("mined pattern must carry an ID")
	}

	if patterns[1].Service != "billing" || patterns[1].Occurrences != 2 {
		t.Fatalf("second pattern = %s x%d", patterns[1].Service, patterns[1].Occurrences)
	}
	if len(store.upserted) != 2 {
		t.Fatalf("upserted %d patterns, want 2", len(store.upserted))
	}
}

func TestMinerNilStoreDryRun(t *testing.T) {
	miner := NewMiner(2, nil, nil)
	now := time.Now()

	events := []models.ErrorEvent{
		eventAt("checkout", "APIError", models.SeverityLow, now.Add(-2*time.Minute)),
		eventAt("checkout", "APIError", models.SeverityLow, now.Add(-time.Minute)),
	}
	patterns, err := miner.Mine(context.Background(), events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("mined %d patterns, want 1", len(patterns))
	}
}

func TestMinerEmptyInput(t *testing.T) {
	miner := NewMiner(2, nil, nil)
	patterns, err := miner.Mine(context.Background(), nil)
	if err != nil || patterns != nil {
		t.Fatalf("empty input should mine nothing, got %v, %v", patterns, err)
	}
}

func TestStoreFuncAdapter(t *testing.T) {
	called := 0
	var fn StoreFunc = func(ctx context.Context, pattern *models.ErrorPattern) error {
		called++
		return nil
	}
	miner := NewMiner(2, nil, fn)

	now := time.Now()
	events := []models.ErrorEvent{
		eventAt("a", "TimeoutError", models.SeverityMedium, now.Add(-2*time.Minute)),
		eventAt("a", "TimeoutError", models.SeverityMedium, now.Add(-time.Minute)),
	}
	if _, err := miner.Mine(context.Background(), events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != 1 {
		t.Fatalf("adapter called %d times, want 1", called)
	}
}
