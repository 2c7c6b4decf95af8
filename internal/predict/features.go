// Package predict estimates the probability, type, and horizon of future
// errors from recent history, and projects metric forecasts with
// exponential smoothing. Feature extraction and the probability mapping
// are deterministic: the same inputs always produce the same prediction.
package predict

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// trendBuckets is the number of sub-windows the lookback is divided
// into when fitting the error-rate slope.
const trendBuckets = 10

// FeatureVector is the extracted signal for one service.
type FeatureVector struct {
	Service         string
	HourOfDay       int
	DayOfWeek       time.Weekday
	TrendSlope      float64 // normalized to [-1, 1]
	BaseRate        float64 // top-type events per minute over the lookback
	LoadFactor      float64 // [0, 1], recent load against the window peak
	ErrorTypeRatios map[string]float64
	TopErrorType    string
	KnownErrorType  bool // set by callers that can consult the classifier
	ResponseP95     float64
	SampleCount     int // events plus metric samples backing the vector
}

// ExtractFeatures builds the feature vector from events and metric
// samples inside the lookback window ending at now.
func ExtractFeatures(service string, events []models.ErrorEvent, samples []models.MetricSample, lookback time.Duration, now time.Time) FeatureVector {
	if lookback <= 0 {
		lookback = 4 * time.Hour
	}

	fv := FeatureVector{
		Service:         service,
		HourOfDay:       now.Hour(),
		DayOfWeek:       now.Weekday(),
		ErrorTypeRatios: map[string]float64{},
		SampleCount:     len(events) + len(samples),
	}

	if len(events) > 0 {
		counts := make(map[string]int, 8)
		for _, ev := range events {
			counts[ev.ErrorType]++
		}
		top := ""
		topCount := 0
		for errorType, n := range counts {
			fv.ErrorTypeRatios[errorType] = float64(n) / float64(len(events))
			// Ties break lexicographically so extraction stays
			// deterministic across map iteration orders.
			if n > topCount || (n == topCount && (top == "" || errorType < top)) {
				top = errorType
				topCount = n
			}
		}
		fv.TopErrorType = top
		fv.BaseRate = float64(topCount) / lookback.Minutes()
		fv.TrendSlope = trendSlope(events, lookback, now)
	}

	if len(samples) > 0 {
		values := make([]float64, len(samples))
		for i, sample := range samples {
			values[i] = sample.Value
		}
		fv.ResponseP95 = percentile(values, 95)
		fv.LoadFactor = loadFactor(values)
	}
	return fv
}

// trendSlope fits a least-squares line over per-bucket event counts and
// normalizes by the mean count, clamped to [-1, 1]. A clearly rising
// error rate saturates at 1.
func trendSlope(events []models.ErrorEvent, lookback time.Duration, now time.Time) float64 {
	start := now.Add(-lookback)
	bucket := lookback / trendBuckets

	counts := make([]float64, trendBuckets)
	for _, ev := range events {
		if ev.OccurredAt.Before(start) || ev.OccurredAt.After(now) {
			continue
		}
		idx := int(ev.OccurredAt.Sub(start) / bucket)
		if idx >= trendBuckets {
			idx = trendBuckets - 1
		}
		counts[idx]++
	}

	slope := leastSquaresSlope(counts)
	mean := 0.0
	for _, c := range counts {
		mean += c
	}
	mean /= trendBuckets

	return clamp(slope*trendBuckets/(mean+1), -1, 1)
}

// leastSquaresSlope fits y = a + b*x over x = 0..n-1 and returns b.
func leastSquaresSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// percentile returns the p-th percentile of values using the same
// nearest-rank index the latency tracker uses.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	index := int((p / 100.0) * float64(len(sorted)-1))
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// loadFactor compares the mean of the newest five values against the
// window peak.
func loadFactor(values []float64) float64 {
	peak := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0
	}

	span := 5
	if len(values) < span {
		span = len(values)
	}
	recent := values[len(values)-span:]
	sum := 0.0
	for _, v := range recent {
		sum += v
	}
	return clamp(sum/float64(span)/peak, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
