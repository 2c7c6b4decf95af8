package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
)

// EventStore is the persistence surface the executor writes through.
type EventStore interface {
	SaveAction(ctx context.Context, a *models.RecoveryAction) error
	MarkEventResolved(ctx context.Context, eventID string, strategy models.Strategy, at time.Time) error
	SaveEscalation(ctx context.Context, e *models.Escalation) error
}

// EscalationSink receives exhausted-chain escalations, normally the
// alert gateway client.
type EscalationSink interface {
	Escalate(ctx context.Context, esc *models.Escalation) error
}

// Executor runs strategy chains sequentially per event. Events for the
// same service serialize through a per-service mutex so two chains never
// fight over one service's pools or breakers; different services run
// concurrently.
type Executor struct {
	handlers map[models.Strategy]Handler
	store    EventStore
	sink     EscalationSink
	logger   *slog.Logger
	timeout  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutor wires an executor. sink may be nil when no alert boundary
// is configured; escalations are then only persisted and logged.
func NewExecutor(handlers map[models.Strategy]Handler, store EventStore, sink EscalationSink, logger *slog.Logger, timeout time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		handlers: handlers,
		store:    store,
		sink:     sink,
		logger:   logger,
		timeout:  timeout,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Executor) lockFor(service string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[service]
	if !ok {
		l = &sync.Mutex{}
		e.locks[service] = l
	}
	return l
}

// Execute runs the chain until one strategy succeeds or it exhausts.
// Every attempt is persisted for audit. The returned outcome lists the
// attempts in execution order; err is non-nil only when the parent
// context ended before the chain could finish.
func (e *Executor) Execute(ctx context.Context, ev *models.ErrorEvent, chain []models.Strategy) (*models.RecoveryOutcome, error) {
	lock := e.lockFor(ev.Service)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	outcome := &models.RecoveryOutcome{EventID: ev.ID}

	for i, strategy := range chain {
		if err := ctx.Err(); err != nil {
			metrics.ObserveRecovery(time.Since(started), metrics.OutcomeError)
			return outcome, err
		}

		action := models.RecoveryAction{
			ID:         uuid.NewString(),
			EventID:    ev.ID,
			Strategy:   strategy,
			Status:     models.ActionExecuting,
			Attempt:    i + 1,
			StartedAt:  time.Now(),
			Parameters: map[string]any{},
		}

		handler, ok := e.handlers[strategy]
		if !ok {
			action.Status = models.ActionFailed
			action.FinishedAt = time.Now()
			action.ResultDetail = "no handler registered"
			e.record(ctx, &action)
			outcome.Actions = append(outcome.Actions, action)
			metrics.ObserveAttempt(string(strategy), metrics.OutcomeError)
			continue
		}
		action.Parameters = handler.Parameters()

		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		err := handler.Execute(attemptCtx, ev)
		cancel()

		action.FinishedAt = time.Now()
		if err == nil {
			action.Status = models.ActionSucceeded
			action.ResultDetail = "recovered"
			e.record(ctx, &action)
			outcome.Actions = append(outcome.Actions, action)
			outcome.Recovered = true
			metrics.ObserveAttempt(string(strategy), metrics.OutcomeSuccess)

			ev.Resolved = true
			ev.ResolvedBy = strategy
			ev.ResolvedAt = action.FinishedAt
			if err := e.store.MarkEventResolved(ctx, ev.ID, strategy, action.FinishedAt); err != nil {
				e.logger.Warn("failed to persist event resolution", "event_id", ev.ID, "error", err)
			}

			e.logger.Info("event recovered",
				"event_id", ev.ID,
				"service", ev.Service,
				"strategy", strategy,
				"attempts", len(outcome.Actions))
			metrics.ObserveRecovery(time.Since(started), metrics.OutcomeSuccess)
			return outcome, nil
		}

		action.Status = models.ActionFailed
		if errors.Is(err, context.DeadlineExceeded) {
			action.ResultDetail = fmt.Sprintf("timed out after %s", e.timeout)
		} else {
			action.ResultDetail = err.Error()
		}
		e.record(ctx, &action)
		outcome.Actions = append(outcome.Actions, action)
		metrics.ObserveAttempt(string(strategy), metrics.OutcomeError)

		e.logger.Warn("strategy failed",
			"event_id", ev.ID,
			"service", ev.Service,
			"strategy", strategy,
			"detail", action.ResultDetail)
	}

	metrics.ObserveRecovery(time.Since(started), metrics.OutcomeError)
	e.escalate(ctx, ev, outcome)
	return outcome, nil
}

func (e *Executor) record(ctx context.Context, action *models.RecoveryAction) {
	if err := e.store.SaveAction(ctx, action); err != nil {
		e.logger.Warn("failed to persist recovery action",
			"event_id", action.EventID,
			"strategy", action.Strategy,
			"error", err)
	}
}

// escalate raises an exhausted chain to the alert boundary with every
// attempt's failure reason, severity elevated one tier.
func (e *Executor) escalate(ctx context.Context, ev *models.ErrorEvent, outcome *models.RecoveryOutcome) {
	reasons := make([]string, 0, len(outcome.Actions))
	for _, action := range outcome.Actions {
		reasons = append(reasons, fmt.Sprintf("%s: %s", action.Strategy, action.ResultDetail))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no strategies configured")
	}

	esc := models.Escalation{
		ID:          uuid.NewString(),
		EventID:     ev.ID,
		Service:     ev.Service,
		Severity:    ev.Severity.Elevate(),
		Reasons:     reasons,
		EscalatedAt: time.Now(),
	}
	if err := e.store.SaveEscalation(ctx, &esc); err != nil {
		e.logger.Warn("failed to persist escalation", "event_id", ev.ID, "error", err)
	}
	if e.sink != nil {
		if err := e.sink.Escalate(ctx, &esc); err != nil {
			e.logger.Error("escalation alert failed", "event_id", ev.ID, "error", err)
		}
	}
	metrics.ObserveEscalation()

	e.logger.Error("recovery chain exhausted",
		"event_id", ev.ID,
		"service", ev.Service,
		"severity", esc.Severity,
		"attempts", len(outcome.Actions))
}
