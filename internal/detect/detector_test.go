package detect

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func sampleWindow(values []float64) []models.MetricSample {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	window := make([]models.MetricSample, len(values))
	for i, v := range values {
		window[i] = models.MetricSample{
			Service:    "api",
			MetricName: "response_time_ms",
			Value:      v,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}
	}
	return window
}

// baselineValues builds 24 samples with mean 800 and population stddev
// exactly 100.
func baselineValues() []float64 {
	values := make([]float64, 0, 24)
	for i := 0; i < 12; i++ {
		values = append(values, 700)
	}
	for i := 0; i < 12; i++ {
		values = append(values, 900)
	}
	return values
}

func TestDetectorCriticalSpike(t *testing.T) {
	d := NewDetector(Config{}, nil)
	window := sampleWindow(append(baselineValues(), 1400))

	record, ok := d.Evaluate("api", "response_time_ms", window)
	if !ok {
		t.Fatal("expected an anomaly record")
	}
	if !record.IsAnomaly {
		t.Error("record must be flagged anomalous")
	}
	if record.AnomalyScore != 1.0 {
		t.Errorf("z=6 should saturate the score, got %f", record.AnomalyScore)
	}
	if record.SeverityLevel != models.SeverityCritical {
		t.Errorf("expected critical severity, got %s", record.SeverityLevel)
	}
	if record.AnomalyType != models.AnomalySpike {
		t.Errorf("expected spike, got %s", record.AnomalyType)
	}
	if !record.DetectedAt.Equal(window[len(window)-1].Timestamp) {
		t.Error("detection time must come from the newest sample")
	}
}

func TestDetectorDrop(t *testing.T) {
	d := NewDetector(Config{}, nil)
	window := sampleWindow(append(baselineValues(), 200))

	record, ok := d.Evaluate("api", "response_time_ms", window)
	if !ok {
		t.Fatal("expected an anomaly record")
	}
	if record.AnomalyType != models.AnomalyDrop {
		t.Errorf("expected drop, got %s", record.AnomalyType)
	}
	if record.SeverityLevel != models.SeverityCritical {
		t.Errorf("expected critical severity, got %s", record.SeverityLevel)
	}
}

func TestDetectorQuietWindow(t *testing.T) {
	d := NewDetector(Config{}, nil)
	window := sampleWindow(append(baselineValues(), 850))

	if record, ok := d.Evaluate("api", "response_time_ms", window); ok {
		t.Fatalf("ordinary sample should not be anomalous: %+v", record)
	}
}

func TestDetectorCutoffBoundary(t *testing.T) {
	d := NewDetector(Config{}, nil)

	// z exactly at the 2.5 threshold maps to score 0.625, above the
	// 0.5 cutoff.
	atThreshold := sampleWindow(append(baselineValues(), 1050))
	record, ok := d.Evaluate("api", "response_time_ms", atThreshold)
	if !ok {
		t.Fatal("z at threshold should produce a record")
	}
	if record.AnomalyScore < 0.62 || record.AnomalyScore > 0.63 {
		t.Errorf("expected score 0.625, got %f", record.AnomalyScore)
	}
	if record.SeverityLevel != models.SeverityMedium {
		t.Errorf("expected medium severity, got %s", record.SeverityLevel)
	}

	// Just under the threshold nothing qualifies.
	underThreshold := sampleWindow(append(baselineValues(), 1040))
	if _, ok := d.Evaluate("api", "response_time_ms", underThreshold); ok {
		t.Error("z below threshold must not produce a record")
	}
}

func TestDetectorInsufficientSamples(t *testing.T) {
	d := NewDetector(Config{}, nil)
	window := sampleWindow([]float64{100, 110, 105, 98, 102})

	if _, ok := d.Evaluate("api", "response_time_ms", window); ok {
		t.Error("short windows must yield no record, not a false positive")
	}
	if _, ok := d.Evaluate("api", "response_time_ms", nil); ok {
		t.Error("empty window must yield no record")
	}
}

func TestDetectorTrendChange(t *testing.T) {
	d := NewDetector(Config{}, nil)

	values := make([]float64, 0, 25)
	for i := 0; i < 20; i++ {
		values = append(values, 100)
	}
	// A sustained 60% level shift: each step too small for the z-score
	// test, but the short-window mean gives it away.
	for i := 0; i < 5; i++ {
		values = append(values, 160)
	}

	record, ok := d.Evaluate("api", "error_rate", sampleWindow(values))
	if !ok {
		t.Fatal("expected a trend anomaly")
	}
	if record.AnomalyType != models.AnomalyTrendChange {
		t.Errorf("expected trend_change, got %s", record.AnomalyType)
	}
	if record.SeverityLevel != models.SeverityMedium {
		t.Errorf("expected medium severity for a 60%% shift, got %s", record.SeverityLevel)
	}
}

func TestDetectorPatternDeviation(t *testing.T) {
	d := NewDetector(Config{}, nil)

	values := make([]float64, 0, 25)
	for i := 0; i < 20; i++ {
		values = append(values, 100)
	}
	// Mean holds at 100 but the series starts thrashing.
	values = append(values, 60, 140, 60, 140, 100)

	record, ok := d.Evaluate("api", "queue_depth", sampleWindow(values))
	if !ok {
		t.Fatal("expected a pattern deviation")
	}
	if record.AnomalyType != models.AnomalyPatternDeviation {
		t.Errorf("expected pattern_deviation, got %s", record.AnomalyType)
	}
}

func TestSeverityMonotoneInScore(t *testing.T) {
	scores := []float64{0.3, 0.5, 0.69, 0.7, 0.84, 0.85, 1.0}
	prev := 0
	for _, score := range scores {
		rank := severityFromScore(score).Rank()
		if rank < prev {
			t.Fatalf("severity rank decreased at score %f", score)
		}
		prev = rank
	}
	if severityFromScore(0.49) != models.SeverityLow {
		t.Error("sub-cutoff scores tier low")
	}
	if severityFromScore(0.85) != models.SeverityCritical {
		t.Error("0.85 must tier critical")
	}
}
