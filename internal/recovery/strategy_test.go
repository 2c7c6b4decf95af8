package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

type flakyActuator struct {
	failures int
	calls    int
}

func (a *flakyActuator) Apply(ctx context.Context, service string, strategy models.Strategy, params map[string]any) error {
	a.calls++
	if a.calls <= a.failures {
		return errors.New("still failing")
	}
	return nil
}

func TestRetryHandlerRecoversWithinBudget(t *testing.T) {
	actuator := &flakyActuator{failures: 2}
	h := &retryHandler{actuator: actuator, attempts: 3, delay: time.Millisecond}

	err := h.Execute(context.Background(), &models.ErrorEvent{Service: "checkout"})
	if err != nil {
		t.Fatalf("expected recovery on third attempt: %v", err)
	}
	if actuator.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", actuator.calls)
	}
}

func TestRetryHandlerExhaustsAttempts(t *testing.T) {
	actuator := &flakyActuator{failures: 10}
	h := &retryHandler{actuator: actuator, attempts: 3, delay: time.Millisecond}

	err := h.Execute(context.Background(), &models.ErrorEvent{Service: "checkout"})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if actuator.calls != 3 {
		t.Errorf("attempts must stay bounded, got %d", actuator.calls)
	}
	if !strings.Contains(err.Error(), "retry exhausted") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRetryHandlerHonorsContext(t *testing.T) {
	actuator := &flakyActuator{failures: 10}
	h := &retryHandler{actuator: actuator, attempts: 5, delay: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := h.Execute(ctx, &models.ErrorEvent{Service: "checkout"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if actuator.calls >= 5 {
		t.Errorf("backoff loop should stop early, got %d attempts", actuator.calls)
	}
}

func TestNewHandlersCoversEveryStrategy(t *testing.T) {
	handlers := NewHandlers(HandlerConfig{}, &flakyActuator{})
	for _, strategy := range models.KnownStrategies() {
		h, ok := handlers[strategy]
		if !ok {
			t.Fatalf("missing handler for %s", strategy)
		}
		if h.Strategy() != strategy {
			t.Errorf("handler for %s reports %s", strategy, h.Strategy())
		}
		if len(h.Parameters()) == 0 {
			t.Errorf("handler for %s declares no parameters", strategy)
		}
	}
}

func TestHandlerParametersAreCopies(t *testing.T) {
	handlers := NewHandlers(HandlerConfig{}, &flakyActuator{})
	h := handlers[models.StrategyTimeoutIncrease]

	params := h.Parameters()
	params["new_timeout_ms"] = 0

	if h.Parameters()["new_timeout_ms"] != 15000 {
		t.Error("parameter mutation leaked into the handler")
	}
}

func TestSuccessEstimate(t *testing.T) {
	if got := SuccessEstimate(models.StrategyServiceRestart); got != 0.90 {
		t.Errorf("expected 0.90 for service_restart, got %f", got)
	}
	if got := SuccessEstimate(models.Strategy("unknown")); got != 0.5 {
		t.Errorf("expected 0.5 default, got %f", got)
	}
}
