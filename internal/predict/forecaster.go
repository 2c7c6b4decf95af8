package predict

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// zCritical95 is the two-sided normal critical value for a 95%
// confidence interval.
const zCritical95 = 1.96

// trendSpan is how many smoothed points back the direction check looks.
const trendSpan = 5

// ForecastConfig tunes the exponential-smoothing forecaster. Zero
// values fall back to defaults.
type ForecastConfig struct {
	Alpha      float64 // smoothing factor in (0, 1)
	MinSamples int     // below this no forecast is produced
	Steps      int     // number of future points
}

// Forecaster projects a metric forward with simple exponential
// smoothing. The projection is a flat level; uncertainty is carried by
// the interval, which widens with distance from the last observation.
type Forecaster struct {
	alpha      float64
	minSamples int
	steps      int
	logger     *slog.Logger
}

func NewForecaster(cfg ForecastConfig, logger *slog.Logger) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = 0.3
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 12
	}
	return &Forecaster{alpha: cfg.Alpha, minSamples: cfg.MinSamples, steps: cfg.Steps, logger: logger}
}

// Forecast projects the sample series forward. Samples must be ordered
// oldest first. Returns false when there is too little history to
// smooth.
func (f *Forecaster) Forecast(service, metric string, samples []models.MetricSample, now time.Time) (*models.Forecast, bool) {
	if len(samples) < f.minSamples {
		f.logger.Debug("insufficient history for forecast",
			"service", service,
			"metric", metric,
			"samples", len(samples),
		)
		return nil, false
	}

	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = sample.Value
	}

	smoothed := make([]float64, len(values))
	smoothed[0] = values[0]
	residuals := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		residuals = append(residuals, values[i]-smoothed[i-1])
		smoothed[i] = f.alpha*values[i] + (1-f.alpha)*smoothed[i-1]
	}
	level := smoothed[len(smoothed)-1]
	sigma := populationStdDev(residuals)

	interval := estimateInterval(samples)
	last := samples[len(samples)-1].Timestamp

	points := make([]models.ForecastPoint, 0, f.steps)
	for step := 1; step <= f.steps; step++ {
		halfwidth := zCritical95 * sigma * (1 + float64(step)/float64(f.steps))
		points = append(points, models.ForecastPoint{
			Timestamp: last.Add(time.Duration(step) * interval),
			Value:     level,
			Lower:     level - halfwidth,
			Upper:     level + halfwidth,
		})
	}

	peak := points[0].Value
	for _, pt := range points[1:] {
		if pt.Value > peak {
			peak = pt.Value
		}
	}

	return &models.Forecast{
		Service:        service,
		MetricName:     metric,
		Points:         points,
		TrendDirection: trendDirection(smoothed),
		PeakValue:      peak,
		GeneratedAt:    now,
	}, true
}

// trendDirection compares the newest smoothed value against one
// trendSpan back, with a 1% tolerance so noise reads as flat.
func trendDirection(smoothed []float64) models.TrendDirection {
	end := len(smoothed) - 1
	start := end - trendSpan
	if start < 0 {
		start = 0
	}
	change := smoothed[end] - smoothed[start]
	tolerance := 0.01 * math.Abs(smoothed[end])
	if tolerance < 1e-9 {
		tolerance = 1e-9
	}
	switch {
	case change > tolerance:
		return models.TrendUp
	case change < -tolerance:
		return models.TrendDown
	default:
		return models.TrendFlat
	}
}

// estimateInterval infers the sampling cadence as the median gap
// between consecutive timestamps, defaulting to a minute.
func estimateInterval(samples []models.MetricSample) time.Duration {
	gaps := make([]time.Duration, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		if gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp); gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return time.Minute
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
