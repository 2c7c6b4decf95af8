package predict

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func sampleSeries(values []float64, gap time.Duration, end time.Time) []models.MetricSample {
	samples := make([]models.MetricSample, len(values))
	start := end.Add(-time.Duration(len(values)-1) * gap)
	for i, v := range values {
		samples[i] = models.MetricSample{
			Service:    "checkout",
			MetricName: "response_time_ms",
			Value:      v,
			Timestamp:  start.Add(time.Duration(i) * gap),
		}
	}
	return samples
}

func TestForecastInsufficientHistory(t *testing.T) {
	f := NewForecaster(ForecastConfig{}, nil)
	end := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	samples := sampleSeries([]float64{100, 101, 99}, time.Minute, end)

	if fc, ok := f.Forecast("checkout", "response_time_ms", samples, end); ok || fc != nil {
		t.Fatalf("three samples should not forecast, got %+v", fc)
	}
}

func TestForecastFlatSeries(t *testing.T) {
	f := NewForecaster(ForecastConfig{Steps: 12}, nil)
	end := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	samples := sampleSeries([]float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}, time.Minute, end)

	fc, ok := f.Forecast("checkout", "response_time_ms", samples, end)
	if !ok {
		t.Fatal("expected a forecast")
	}
	if len(fc.Points) != 12 {
		t.Fatalf("points = %d, want 12", len(fc.Points))
	}
	if got := fc.Points[0].Timestamp; !got.Equal(end.Add(time.Minute)) {
		t.Fatalf("first point at %v, want one interval past the last sample", got)
	}
	if got := fc.Points[11].Timestamp; !got.Equal(end.Add(12 * time.Minute)) {
		t.Fatalf("last point at %v, want twelve intervals out", got)
	}
	for i, pt := range fc.Points {
		if !approxEqual(pt.Value, 100, 1e-9) {
			t.Fatalf("point %d value = %v, want the smoothed level", i, pt.Value)
		}
		if !approxEqual(pt.Lower, 100, 1e-9) || !approxEqual(pt.Upper, 100, 1e-9) {
			t.Fatalf("a noiseless series should have a collapsed interval, got [%v, %v]", pt.Lower, pt.Upper)
		}
	}
	if fc.TrendDirection != models.TrendFlat {
		t.Fatalf("trend = %q, want flat", fc.TrendDirection)
	}
	if !approxEqual(fc.PeakValue, 100, 1e-9) {
		t.Fatalf("peak = %v, want 100", fc.PeakValue)
	}
}

func TestForecastIntervalWidensWithDistance(t *testing.T) {
	f := NewForecaster(ForecastConfig{}, nil)
	end := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	samples := sampleSeries([]float64{90, 110, 92, 108, 95, 105, 91, 109, 94, 106}, time.Minute, end)

	fc, ok := f.Forecast("checkout", "response_time_ms", samples, end)
	if !ok {
		t.Fatal("expected a forecast")
	}
	prev := -1.0
	for i, pt := range fc.Points {
		width := pt.Upper - pt.Lower
		if width <= 0 {
			t.Fatalf("point %d has empty interval on a noisy series", i)
		}
		if width <= prev {
			t.Fatalf("interval must widen with the horizon: point %d width %v after %v", i, width, prev)
		}
		if pt.Lower > pt.Value || pt.Value > pt.Upper {
			t.Fatalf("point %d value %v outside [%v, %v]", i, pt.Value, pt.Lower, pt.Upper)
		}
		prev = width
	}
}

func TestForecastTrendDirections(t *testing.T) {
	f := NewForecaster(ForecastConfig{}, nil)
	end := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		values []float64
		want   models.TrendDirection
	}{
		{"rising", []float64{100, 110, 120, 130, 140, 150, 160, 170, 180, 190}, models.TrendUp},
		{"falling", []float64{190, 180, 170, 160, 150, 140, 130, 120, 110, 100}, models.TrendDown},
		{"steady", []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}, models.TrendFlat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc, ok := f.Forecast("checkout", "response_time_ms", sampleSeries(tc.values, time.Minute, end), end)
			if !ok {
				t.Fatal("expected a forecast")
			}
			if fc.TrendDirection != tc.want {
				t.Fatalf("trend = %q, want %q", fc.TrendDirection, tc.want)
			}
		})
	}
}

func TestForecastIrregularCadenceUsesMedianGap(t *testing.T) {
	f := NewForecaster(ForecastConfig{}, nil)
	end := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	// Mostly minute cadence with one five-minute hole.
	samples := []models.MetricSample{
		{Service: "a", MetricName: "m", Value: 100, Timestamp: end.Add(-9 * time.Minute)},
		{Service: "a", MetricName: "m", Value: 101, Timestamp: end.Add(-8 * time.Minute)},
		{Service: "a", MetricName: "m", Value: 99, Timestamp: end.Add(-7 * time.Minute)},
		{Service: "a", MetricName: "m", Value: 100, Timestamp: end.Add(-2 * time.Minute)},
		{Service: "a", MetricName: "m", Value: 101, Timestamp: end.Add(-time.Minute)},
		{Service: "a", MetricName: "m", Value: 100, Timestamp: end},
	}

	fc, ok := f.Forecast("a", "m", samples, end)
	if !ok {
		t.Fatal("expected a forecast")
	}
	if got := fc.Points[0].Timestamp; !got.Equal(end.Add(time.Minute)) {
		t.Fatalf("first point at %v, the hole should not stretch the cadence", got)
	}
}
