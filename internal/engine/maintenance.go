package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/predict"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// staleReviewWindow bounds how far back the re-escalation pass looks.
// Anything older has either escalated already or predates the engine.
const staleReviewWindow = 24 * time.Hour

// RunMaintenance settles due predictions against reality, re-escalates
// incidents that recovery never resolved, and prunes expired samples.
// Each pass runs even when an earlier one fails.
func (o *Orchestrator) RunMaintenance(ctx context.Context) error {
	if o.store == nil {
		return fmt.Errorf("store not configured")
	}
	now := time.Now().UTC()

	var errs []error
	if err := o.reconcilePredictions(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := o.escalateStale(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := o.pruneSamples(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// reconcilePredictions grades every prediction whose horizon elapsed:
// did the predicted error type actually occur for that service?
func (o *Orchestrator) reconcilePredictions(ctx context.Context, now time.Time) error {
	due, err := o.store.GetDuePredictions(ctx, now)
	if err != nil {
		return fmt.Errorf("list due predictions: %w", err)
	}

	for _, pred := range due {
		events, err := o.store.GetRecentEvents(ctx, pred.Service, pred.PredictedAt, 0)
		if err != nil {
			o.logger.Warn("loading events for reconciliation failed", "prediction", pred.ID, "error", err)
			continue
		}
		outcome, accuracy := predict.Reconcile(pred, events)
		if err := o.store.SettlePrediction(ctx, pred.ID, outcome, accuracy); err != nil {
			o.logger.Warn("settling prediction failed", "prediction", pred.ID, "error", err)
			continue
		}
		metrics.ObservePredictionOutcome(string(outcome))
		o.logger.Info("prediction settled",
			"service", pred.Service,
			"error_type", pred.PredictedErrorType,
			"outcome", outcome,
			"accuracy", accuracy,
		)
	}
	return nil
}

// escalateStale raises events that sat unresolved past the escalation
// deadline without an escalation of their own. Recovery escalates
// exhausted chains immediately; this pass catches events whose chain
// never concluded, for example after a crash mid-execution.
func (o *Orchestrator) escalateStale(ctx context.Context, now time.Time) error {
	events, err := o.store.GetRecentEvents(ctx, "", now.Add(-staleReviewWindow), 0)
	if err != nil {
		return fmt.Errorf("list events for escalation review: %w", err)
	}
	existing, err := o.store.GetRecentEscalations(ctx, 0)
	if err != nil {
		return fmt.Errorf("list escalations: %w", err)
	}
	escalated := make(map[string]struct{}, len(existing))
	for _, esc := range existing {
		escalated[esc.EventID] = struct{}{}
	}

	deadline := now.Add(-o.opts.EscalationAfter)
	for _, ev := range events {
		if ev.Resolved || ev.OccurredAt.After(deadline) {
			continue
		}
		if _, done := escalated[ev.ID]; done {
			continue
		}

		esc := models.Escalation{
			ID:          uuid.NewString(),
			EventID:     ev.ID,
			Service:     ev.Service,
			Severity:    ev.Severity.Elevate(),
			Reasons:     []string{fmt.Sprintf("unresolved for %.0f minutes", utils.DurationMinutes(ev.OccurredAt, now))},
			EscalatedAt: now,
		}
		if err := o.store.SaveEscalation(ctx, &esc); err != nil {
			o.logger.Warn("stale escalation persist failed", "event", ev.ID, "error", err)
			continue
		}
		metrics.ObserveEscalation()
		if err := o.alerts.Escalate(ctx, &esc); err != nil {
			o.logger.Warn("stale escalation alert failed", "event", ev.ID, "error", err)
		}
		o.logger.Error("event escalated after recovery deadline",
			"event", ev.ID,
			"service", ev.Service,
			"severity", esc.Severity,
			"age", now.Sub(ev.OccurredAt).Round(time.Minute),
		)
	}
	return nil
}

func (o *Orchestrator) pruneSamples(ctx context.Context, now time.Time) error {
	removed, err := o.store.DeleteOldSamples(ctx, now.Add(-o.opts.Retention))
	if err != nil {
		return fmt.Errorf("prune samples: %w", err)
	}
	if removed > 0 {
		o.logger.Info("expired samples pruned", "count", removed)
	}
	return nil
}
