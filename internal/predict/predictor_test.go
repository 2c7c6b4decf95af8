package predict

import (
	"math"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// risingEvents spreads an increasing count of events across the
// lookback: bucket i of ten receives i events.
func risingEvents(service, errorType string, lookback time.Duration, now time.Time) []models.ErrorEvent {
	start := now.Add(-lookback)
	bucket := lookback / trendBuckets
	var events []models.ErrorEvent
	for i := 0; i < trendBuckets; i++ {
		for j := 0; j < i; j++ {
			events = append(events, models.ErrorEvent{
				Service:    service,
				ErrorType:  errorType,
				Severity:   models.SeverityMedium,
				OccurredAt: start.Add(time.Duration(i)*bucket + time.Minute),
			})
		}
	}
	return events
}

func steadyEvents(service, errorType string, perBucket int, lookback time.Duration, now time.Time) []models.ErrorEvent {
	start := now.Add(-lookback)
	bucket := lookback / trendBuckets
	var events []models.ErrorEvent
	for i := 0; i < trendBuckets; i++ {
		for j := 0; j < perBucket; j++ {
			events = append(events, models.ErrorEvent{
				Service:    service,
				ErrorType:  errorType,
				OccurredAt: start.Add(time.Duration(i)*bucket + time.Minute),
			})
		}
	}
	return events
}

func TestPredictQuietServiceEmitsNothing(t *testing.T) {
	p := NewPredictor(Config{}, nil)
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	fv := ExtractFeatures("checkout", nil, nil, p.Lookback(), now)
	if fv.TopErrorType != "" {
		t.Fatalf("expected no top error type, got %q", fv.TopErrorType)
	}
	if pred := p.Predict(fv, now); pred != nil {
		t.Fatalf("quiet service produced prediction: %+v", pred)
	}
}

func TestPredictRisingErrorRate(t *testing.T) {
	p := NewPredictor(Config{}, nil)
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	events := risingEvents("checkout", "DatabaseTimeout", p.Lookback(), now)

	fv := ExtractFeatures("checkout", events, nil, p.Lookback(), now)
	fv.KnownErrorType = true

	if !approxEqual(fv.TrendSlope, 1.0, 1e-9) {
		t.Fatalf("steadily rising counts should saturate the trend, got %v", fv.TrendSlope)
	}

	pred := p.Predict(fv, now)
	if pred == nil {
		t.Fatal("rising error rate should cross the emission threshold")
	}
	if pred.PredictedErrorType != "DatabaseTimeout" {
		t.Fatalf("predicted type = %q, want DatabaseTimeout", pred.PredictedErrorType)
	}
	if pred.Probability < p.Threshold() {
		t.Fatalf("emitted prediction below threshold: %v", pred.Probability)
	}
	// 45 events over 4h: strength 0.6469, probability 0.8234.
	if !approxEqual(pred.Probability, 0.82343, 1e-4) {
		t.Fatalf("probability = %v, want ~0.8234", pred.Probability)
	}
	if pred.TimeHorizon != horizonNear {
		t.Fatalf("horizon = %v, want %v", pred.TimeHorizon, horizonNear)
	}
	// Known type plus 45 observations: 0.5 + 0.2 + 0.225.
	if !approxEqual(pred.Confidence, 0.925, 1e-9) {
		t.Fatalf("confidence = %v, want 0.925", pred.Confidence)
	}
	if pred.Outcome != models.OutcomePending {
		t.Fatalf("new prediction outcome = %q, want pending", pred.Outcome)
	}
	if len(pred.RecommendedActions) != 0 {
		t.Fatalf("predictor should leave recommendations to callers, got %v", pred.RecommendedActions)
	}
}

func TestPredictStableHistoryStaysQuiet(t *testing.T) {
	p := NewPredictor(Config{}, nil)
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	events := steadyEvents("checkout", "ConnectionError", 2, p.Lookback(), now)

	fv := ExtractFeatures("checkout", events, nil, p.Lookback(), now)
	if !approxEqual(fv.TrendSlope, 0, 1e-9) {
		t.Fatalf("flat counts should have zero trend, got %v", fv.TrendSlope)
	}
	if pred := p.Predict(fv, now); pred != nil {
		t.Fatalf("stable history should not predict, got probability %v", pred.Probability)
	}
}

func TestPredictHorizonTiers(t *testing.T) {
	p := NewPredictor(Config{}, nil)
	now := time.Now()

	cases := []struct {
		name    string
		fv      FeatureVector
		horizon time.Duration
	}{
		{
			name:    "saturated signal is imminent",
			fv:      FeatureVector{Service: "a", TopErrorType: "MemoryError", TrendSlope: 1, BaseRate: 1, LoadFactor: 1},
			horizon: horizonImminent,
		},
		{
			name:    "trend alone is near term",
			fv:      FeatureVector{Service: "a", TopErrorType: "MemoryError", TrendSlope: 1},
			horizon: horizonNear,
		},
		{
			name:    "weaker mix gets the broad horizon",
			fv:      FeatureVector{Service: "a", TopErrorType: "MemoryError", TrendSlope: 0.5, BaseRate: 0.6},
			horizon: horizonBroad,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred := p.Predict(tc.fv, now)
			if pred == nil {
				t.Fatal("expected a prediction")
			}
			if pred.TimeHorizon != tc.horizon {
				t.Fatalf("horizon = %v, want %v", pred.TimeHorizon, tc.horizon)
			}
		})
	}
}

func TestPredictProbabilityMonotonicInTrend(t *testing.T) {
	p := NewPredictor(Config{}, nil)
	now := time.Now()

	weak := p.Predict(FeatureVector{Service: "a", TopErrorType: "APIError", TrendSlope: 0.5, BaseRate: 1, LoadFactor: 1}, now)
	strong := p.Predict(FeatureVector{Service: "a", TopErrorType: "APIError", TrendSlope: 0.9, BaseRate: 1, LoadFactor: 1}, now)
	if weak == nil || strong == nil {
		t.Fatal("both vectors should predict")
	}
	if strong.Probability <= weak.Probability {
		t.Fatalf("stronger trend must raise probability: %v vs %v", strong.Probability, weak.Probability)
	}
}

func TestPredictConfidenceCap(t *testing.T) {
	p := NewPredictor(Config{}, nil)
	fv := FeatureVector{
		Service:        "a",
		TopErrorType:   "ConnectionError",
		TrendSlope:     1,
		KnownErrorType: true,
		SampleCount:    10000,
	}
	pred := p.Predict(fv, time.Now())
	if pred == nil {
		t.Fatal("expected a prediction")
	}
	if !approxEqual(pred.Confidence, 0.95, 1e-9) {
		t.Fatalf("confidence should cap at 0.95, got %v", pred.Confidence)
	}
}

func TestReconcileOccurred(t *testing.T) {
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	pred := models.ErrorPrediction{
		Service:            "checkout",
		PredictedErrorType: "ConnectionError",
		Probability:        0.8,
		TimeHorizon:        2 * time.Hour,
		PredictedAt:        at,
	}
	events := []models.ErrorEvent{
		{Service: "checkout", ErrorType: "ValidationError", OccurredAt: at.Add(10 * time.Minute)},
		{Service: "checkout", ErrorType: "ConnectionError", OccurredAt: at.Add(30 * time.Minute)},
	}

	outcome, accuracy := Reconcile(pred, events)
	if outcome != models.OutcomeOccurred {
		t.Fatalf("outcome = %q, want occurred", outcome)
	}
	if !approxEqual(accuracy, 0.8, 1e-9) {
		t.Fatalf("accuracy = %v, want the stated probability", accuracy)
	}
}

func TestReconcileMissed(t *testing.T) {
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	pred := models.ErrorPrediction{
		Service:            "checkout",
		PredictedErrorType: "ConnectionError",
		Probability:        0.9,
		TimeHorizon:        time.Hour,
		PredictedAt:        at,
	}
	events := []models.ErrorEvent{
		// Wrong service, wrong type, before the window, after the window.
		{Service: "billing", ErrorType: "ConnectionError", OccurredAt: at.Add(10 * time.Minute)},
		{Service: "checkout", ErrorType: "DatabaseError", OccurredAt: at.Add(10 * time.Minute)},
		{Service: "checkout", ErrorType: "ConnectionError", OccurredAt: at.Add(-10 * time.Minute)},
		{Service: "checkout", ErrorType: "ConnectionError", OccurredAt: at.Add(2 * time.Hour)},
	}

	outcome, accuracy := Reconcile(pred, events)
	if outcome != models.OutcomeDidNotOccur {
		t.Fatalf("outcome = %q, want did_not_occur", outcome)
	}
	if !approxEqual(accuracy, 0.1, 1e-9) {
		t.Fatalf("a confident miss should score low, got %v", accuracy)
	}
}

func TestExtractFeaturesTopTypeTieBreak(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	var events []models.ErrorEvent
	for i := 0; i < 3; i++ {
		events = append(events,
			models.ErrorEvent{Service: "a", ErrorType: "TimeoutError", OccurredAt: now.Add(-time.Hour)},
			models.ErrorEvent{Service: "a", ErrorType: "ConnectionError", OccurredAt: now.Add(-time.Hour)},
		)
	}

	fv := ExtractFeatures("a", events, nil, 4*time.Hour, now)
	if fv.TopErrorType != "ConnectionError" {
		t.Fatalf("tie should break lexicographically, got %q", fv.TopErrorType)
	}
	if !approxEqual(fv.ErrorTypeRatios["TimeoutError"], 0.5, 1e-9) {
		t.Fatalf("ratio = %v, want 0.5", fv.ErrorTypeRatios["TimeoutError"])
	}
}

func TestExtractFeaturesLoadAndPercentile(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	var samples []models.MetricSample
	for i := 1; i <= 10; i++ {
		samples = append(samples, models.MetricSample{
			Service:    "a",
			MetricName: "response_time_ms",
			Value:      float64(i * 10),
			Timestamp:  now.Add(time.Duration(i-10) * time.Minute),
		})
	}

	fv := ExtractFeatures("a", nil, samples, 4*time.Hour, now)
	if !approxEqual(fv.ResponseP95, 90, 1e-9) {
		t.Fatalf("p95 = %v, want 90", fv.ResponseP95)
	}
	// Last five samples average 80 against a peak of 100.
	if !approxEqual(fv.LoadFactor, 0.8, 1e-9) {
		t.Fatalf("load factor = %v, want 0.8", fv.LoadFactor)
	}
	if fv.SampleCount != 10 {
		t.Fatalf("sample count = %d, want 10", fv.SampleCount)
	}
}
