// Package recovery sequences remediation strategies for classified error
// events. Handlers declare their parameter schema and delegate the actual
// infrastructure change to an Actuator; the executor owns ordering,
// timeouts, audit records, and escalation.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Actuator applies one infrastructure adjustment on behalf of a strategy.
// The real implementation posts to the automation boundary; tests swap in
// fakes.
type Actuator interface {
	Apply(ctx context.Context, service string, strategy models.Strategy, params map[string]any) error
}

// Handler is one named recovery operation with a declared parameter set.
type Handler interface {
	Strategy() models.Strategy
	Parameters() map[string]any
	Execute(ctx context.Context, ev *models.ErrorEvent) error
}

// HandlerConfig tunes the handlers that carry internal behavior.
type HandlerConfig struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewHandlers builds the full strategy set against one actuator.
func NewHandlers(cfg HandlerConfig, actuator Actuator) map[models.Strategy]Handler {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	handlers := map[models.Strategy]Handler{
		models.StrategyRetry: &retryHandler{
			actuator: actuator,
			attempts: cfg.RetryAttempts,
			delay:    cfg.RetryDelay,
		},
	}
	for strategy, params := range strategyParams {
		handlers[strategy] = &applyHandler{strategy: strategy, actuator: actuator, params: params}
	}
	return handlers
}

// strategyParams declares the parameter schema of every single-shot
// strategy. Values mirror the automation boundary's defaults.
var strategyParams = map[models.Strategy]map[string]any{
	models.StrategyTimeoutIncrease:    {"current_timeout_ms": 5000, "new_timeout_ms": 15000},
	models.StrategyCacheClear:         {"scope": "service"},
	models.StrategyPoolIncrease:       {"current_size": 10, "new_size": 25},
	models.StrategyResourceScale:      {"scale_factor": 1.5},
	models.StrategyCircuitBreak:       {"failure_threshold": 5, "window_seconds": 60},
	models.StrategyServiceFallback:    {"mode": "degraded"},
	models.StrategyQueuePriorityBoost: {"boost_levels": 1},
	models.StrategyRequestThrottle:    {"rate_limit_rpm": 100, "burst": 10},
	models.StrategyServiceRestart:     {"graceful": true, "drain_seconds": 30},
}

// successEstimates carries the observed historical success rate per
// strategy, used to rank recommended actions for predictions.
var successEstimates = map[models.Strategy]float64{
	models.StrategyRetry:              0.70,
	models.StrategyTimeoutIncrease:    0.60,
	models.StrategyCacheClear:         0.50,
	models.StrategyPoolIncrease:       0.65,
	models.StrategyResourceScale:      0.75,
	models.StrategyCircuitBreak:       0.80,
	models.StrategyServiceFallback:    0.85,
	models.StrategyQueuePriorityBoost: 0.55,
	models.StrategyRequestThrottle:    0.60,
	models.StrategyServiceRestart:     0.90,
}

// SuccessEstimate returns the historical success rate for a strategy,
// 0.5 when no figure is recorded.
func SuccessEstimate(strategy models.Strategy) float64 {
	if rate, ok := successEstimates[strategy]; ok {
		return rate
	}
	return 0.5
}

// applyHandler performs one actuation with static parameters.
type applyHandler struct {
	strategy models.Strategy
	actuator Actuator
	params   map[string]any
}

func (h *applyHandler) Strategy() models.Strategy { return h.strategy }

func (h *applyHandler) Parameters() map[string]any {
	out := make(map[string]any, len(h.params))
	for k, v := range h.params {
		out[k] = v
	}
	return out
}

func (h *applyHandler) Execute(ctx context.Context, ev *models.ErrorEvent) error {
	return h.actuator.Apply(ctx, ev.Service, h.strategy, h.Parameters())
}

// retryHandler re-attempts the failed operation with exponential backoff.
// The whole loop occupies a single slot in the outer chain; the chain's
// per-strategy timeout still bounds it.
type retryHandler struct {
	actuator Actuator
	attempts int
	delay    time.Duration
}

func (h *retryHandler) Strategy() models.Strategy { return models.StrategyRetry }

func (h *retryHandler) Parameters() map[string]any {
	return map[string]any{
		"max_attempts":     h.attempts,
		"initial_delay_ms": h.delay.Milliseconds(),
		"backoff":          "exponential",
	}
}

func (h *retryHandler) Execute(ctx context.Context, ev *models.ErrorEvent) error {
	delay := h.delay
	var lastErr error
	for attempt := 1; attempt <= h.attempts; attempt++ {
		if err := h.actuator.Apply(ctx, ev.Service, models.StrategyRetry, map[string]any{"attempt": attempt}); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == h.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("retry exhausted after %d attempts: %w", h.attempts, lastErr)
}
