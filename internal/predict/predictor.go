package predict

import (
	"log/slog"
	"math"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Feature weights for the failure-strength score.
const (
	weightTrend = 0.60
	weightBase  = 0.25
	weightLoad  = 0.15
)

// Horizon tiers. Stronger signals predict sooner failures.
const (
	horizonImminent = 30 * time.Minute
	horizonNear     = 2 * time.Hour
	horizonBroad    = 24 * time.Hour
)

// Config tunes the predictor. Zero values fall back to defaults.
type Config struct {
	Threshold float64       // minimum probability to emit a prediction
	Lookback  time.Duration // feature extraction window
}

// Predictor turns a feature vector into at most one error prediction.
type Predictor struct {
	threshold float64
	lookback  time.Duration
	logger    *slog.Logger
}

func NewPredictor(cfg Config, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.70
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 4 * time.Hour
	}
	return &Predictor{threshold: cfg.Threshold, lookback: cfg.Lookback, logger: logger}
}

// Threshold returns the emission cutoff.
func (p *Predictor) Threshold() float64 { return p.threshold }

// Lookback returns the window callers should cover when gathering
// events and samples for ExtractFeatures.
func (p *Predictor) Lookback() time.Duration { return p.lookback }

// Predict maps the feature vector onto a probability and emits a
// prediction when it crosses the threshold. Returns nil when the
// service has no error history or the signal is too weak; a quiet
// service must never produce a prediction.
func (p *Predictor) Predict(fv FeatureVector, now time.Time) *models.ErrorPrediction {
	if fv.TopErrorType == "" {
		return nil
	}

	strength := clamp(
		weightTrend*fv.TrendSlope+
			weightBase*clamp(fv.BaseRate, 0, 1)+
			weightLoad*fv.LoadFactor,
		0, 1)
	probability := 0.5 + 0.5*strength
	if probability < p.threshold {
		p.logger.Debug("prediction below threshold",
			"service", fv.Service,
			"error_type", fv.TopErrorType,
			"probability", probability,
		)
		return nil
	}

	return &models.ErrorPrediction{
		Service:            fv.Service,
		PredictedErrorType: fv.TopErrorType,
		Probability:        probability,
		Confidence:         confidenceFrom(fv),
		TimeHorizon:        horizonFor(strength),
		PredictedAt:        now,
		Outcome:            models.OutcomePending,
	}
}

// confidenceFrom grows with evidence: a classifier-known error type and
// a larger backing sample both raise it, capped at 0.95.
func confidenceFrom(fv FeatureVector) float64 {
	confidence := 0.5
	if fv.KnownErrorType {
		confidence += 0.2
	}
	confidence += math.Min(float64(fv.SampleCount)/200, 0.25)
	return math.Min(confidence, 0.95)
}

func horizonFor(strength float64) time.Duration {
	switch {
	case strength >= 0.8:
		return horizonImminent
	case strength >= 0.6:
		return horizonNear
	default:
		return horizonBroad
	}
}

// Reconcile settles a due prediction against what actually happened in
// its horizon. A matching event scores the stated probability; a miss
// scores the complement.
func Reconcile(pred models.ErrorPrediction, events []models.ErrorEvent) (models.PredictionOutcome, float64) {
	deadline := pred.PredictedAt.Add(pred.TimeHorizon)
	for _, ev := range events {
		if ev.Service != pred.Service || ev.ErrorType != pred.PredictedErrorType {
			continue
		}
		if ev.OccurredAt.After(pred.PredictedAt) && !ev.OccurredAt.After(deadline) {
			return models.OutcomeOccurred, pred.Probability
		}
	}
	return models.OutcomeDidNotOccur, 1 - pred.Probability
}
