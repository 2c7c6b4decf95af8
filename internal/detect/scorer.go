// Package detect scores rolling metric windows for anomalies. Scorers
// are interchangeable: each judges the newest sample (or newest span)
// against the window's history and reports a normalized score, and the
// detector keeps the maximum.
package detect

import (
	"math"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Verdict is one scorer's judgement of a window.
type Verdict struct {
	Score        float64
	Statistic    float64
	Kind         models.AnomalyType
	DeviationPct float64
}

// Scorer computes a normalized anomaly score for a window of values,
// ordered oldest first. ok is false when the window is too short for
// the method.
type Scorer interface {
	Name() string
	Score(window []float64) (Verdict, bool)
}

// stdDevFloor keeps perfectly flat baselines from dividing by zero.
const stdDevFloor = 0.01

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, stdDevFloor
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(values))

	stdDev := math.Sqrt(variance)
	if stdDev < stdDevFloor {
		stdDev = stdDevFloor
	}
	return mean, stdDev
}

// zScoreScorer flags the newest sample when it sits further than
// threshold standard deviations from the baseline mean. The baseline is
// every sample except the one under test.
type zScoreScorer struct {
	threshold  float64
	minSamples int
}

func (s *zScoreScorer) Name() string { return "zscore" }

func (s *zScoreScorer) Score(window []float64) (Verdict, bool) {
	if len(window) < s.minSamples+1 {
		return Verdict{}, false
	}
	baseline := window[:len(window)-1]
	last := window[len(window)-1]

	mean, stdDev := meanStdDev(baseline)
	z := (last - mean) / stdDev

	v := Verdict{Statistic: z, Kind: models.AnomalySpike}
	if z < 0 {
		v.Kind = models.AnomalyDrop
	}
	denom := math.Abs(mean)
	if denom < stdDevFloor {
		denom = stdDevFloor
	}
	v.DeviationPct = (last - mean) / denom * 100

	if math.Abs(z) >= s.threshold {
		v.Score = math.Min(math.Abs(z)/4, 1)
	}
	return v, true
}

// trendScorer compares the mean of a short recent span against the
// longer history and flags relative deviations past the threshold,
// catching drifts too gradual for the z-score test.
type trendScorer struct {
	threshold  float64
	shortSpan  int
	minSamples int
}

func (s *trendScorer) Name() string { return "trend" }

func (s *trendScorer) Score(window []float64) (Verdict, bool) {
	if len(window) < s.minSamples+s.shortSpan {
		return Verdict{}, false
	}
	long := window[:len(window)-s.shortSpan]
	short := window[len(window)-s.shortSpan:]

	longMean, _ := meanStdDev(long)
	shortMean, _ := meanStdDev(short)

	denom := math.Abs(longMean)
	if denom < stdDevFloor {
		denom = stdDevFloor
	}
	deviation := (shortMean - longMean) / denom

	v := Verdict{
		Statistic:    deviation,
		Kind:         models.AnomalyTrendChange,
		DeviationPct: deviation * 100,
	}
	if math.Abs(deviation) > s.threshold {
		v.Score = math.Min(math.Abs(deviation)/(2*s.threshold), 1)
	}
	return v, true
}

// volatilityScorer flags dispersion shifts: the short span's variance
// blowing up against the baseline variance marks a pattern deviation
// even while the mean still looks ordinary.
type volatilityScorer struct {
	ratioThreshold float64
	shortSpan      int
	minSamples     int
}

func (s *volatilityScorer) Name() string { return "volatility" }

func (s *volatilityScorer) Score(window []float64) (Verdict, bool) {
	if len(window) < s.minSamples+s.shortSpan {
		return Verdict{}, false
	}
	long := window[:len(window)-s.shortSpan]
	short := window[len(window)-s.shortSpan:]

	_, longDev := meanStdDev(long)
	_, shortDev := meanStdDev(short)

	ratio := (shortDev * shortDev) / (longDev * longDev)

	v := Verdict{
		Statistic:    ratio,
		Kind:         models.AnomalyPatternDeviation,
		DeviationPct: (ratio - 1) * 100,
	}
	if ratio >= s.ratioThreshold {
		v.Score = math.Min(ratio/(2*s.ratioThreshold), 1)
	}
	return v, true
}
