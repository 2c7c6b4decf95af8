package detect

import (
	"log/slog"
	"math"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Config tunes the detector's scorers and persistence cutoff.
type Config struct {
	ZScoreThreshold float64
	TrendDeviation  float64
	VolatilityRatio float64
	AnomalyCutoff   float64
	MinSamples      int
	ShortSpan       int
}

// Detector runs every scorer over a window and keeps the maximum
// normalized score. Windows with too little history yield no record
// rather than an error; the orchestrator proceeds with partial results.
type Detector struct {
	cfg     Config
	scorers []Scorer
	logger  *slog.Logger
}

// NewDetector applies defaults for zero config values and builds the
// standard scorer set.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	if cfg.ZScoreThreshold <= 0 {
		cfg.ZScoreThreshold = 2.5
	}
	if cfg.TrendDeviation <= 0 {
		cfg.TrendDeviation = 0.5
	}
	if cfg.VolatilityRatio <= 0 {
		cfg.VolatilityRatio = 4
	}
	if cfg.AnomalyCutoff <= 0 {
		cfg.AnomalyCutoff = 0.5
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.ShortSpan <= 0 {
		cfg.ShortSpan = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		cfg: cfg,
		scorers: []Scorer{
			&zScoreScorer{threshold: cfg.ZScoreThreshold, minSamples: cfg.MinSamples},
			&trendScorer{threshold: cfg.TrendDeviation, shortSpan: cfg.ShortSpan, minSamples: cfg.MinSamples},
			&volatilityScorer{ratioThreshold: cfg.VolatilityRatio, shortSpan: cfg.ShortSpan, minSamples: cfg.MinSamples},
		},
		logger: logger,
	}
}

// Cutoff exposes the is_anomaly threshold for callers that tier results.
func (d *Detector) Cutoff() float64 { return d.cfg.AnomalyCutoff }

// Evaluate scores one (service, metric) window, ordered oldest first.
// It returns a record only when the combined score reaches the cutoff;
// everything below it is not an anomaly and is not persisted.
func (d *Detector) Evaluate(service, metric string, window []models.MetricSample) (*models.AnomalyRecord, bool) {
	if len(window) == 0 {
		return nil, false
	}

	values := make([]float64, len(window))
	for i, sample := range window {
		values[i] = sample.Value
	}

	var (
		best   Verdict
		scored bool
	)
	for _, scorer := range d.scorers {
		v, ok := scorer.Score(values)
		if !ok {
			continue
		}
		scored = true
		if v.Score > best.Score {
			best = v
		}
	}
	if !scored {
		d.logger.Debug("window too short for detection",
			"service", service, "metric", metric, "samples", len(window))
		return nil, false
	}
	if best.Score < d.cfg.AnomalyCutoff {
		return nil, false
	}

	record := &models.AnomalyRecord{
		Service:       service,
		MetricName:    metric,
		AnomalyScore:  best.Score,
		IsAnomaly:     true,
		SeverityLevel: severityFromScore(best.Score),
		AnomalyType:   best.Kind,
		DeviationPct:  best.DeviationPct,
		Confidence:    confidenceFromSamples(len(window)),
		DetectedAt:    window[len(window)-1].Timestamp,
	}
	return record, true
}

// severityFromScore tiers the normalized score. Tiers are monotone so a
// higher score never maps to a lower severity.
func severityFromScore(score float64) models.Severity {
	switch {
	case score >= 0.85:
		return models.SeverityCritical
	case score >= 0.70:
		return models.SeverityHigh
	case score >= 0.50:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// confidenceFromSamples grows with window size and saturates at 0.95.
func confidenceFromSamples(n int) float64 {
	return math.Min(0.5+float64(n)/200, 0.95)
}
