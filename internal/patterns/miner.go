// Package patterns mines recurring failure signatures from event
// history. A signature is a (service, error type) pair; one that keeps
// recurring is a candidate for a permanent fix rather than another
// round of automated recovery.
package patterns

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	UpsertPattern(ctx context.Context, pattern *models.ErrorPattern) error
}

// Miner aggregates error events into recurrence patterns.
type Miner struct {
	minOccurrences int
	store          Store
	logger         *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(minOccurrences int, logger *slog.Logger, store Store) *Miner {
	if minOccurrences < 2 {
		minOccurrences = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{minOccurrences: minOccurrences, store: store, logger: logger}
}

// Mine aggregates events into patterns, most frequent first, and
// upserts them through the store when one is configured. A signature
// below the occurrence floor is noise and dropped. Severity carries
// the worst level the signature has shown; prevalence is its share of
// all events in the window.
func (m *Miner) Mine(ctx context.Context, events []models.ErrorEvent) ([]models.ErrorPattern, error) {
	if len(events) == 0 {
		return nil, nil
	}

	type signature struct {
		service   string
		errorType string
	}
	aggregates := make(map[signature]*models.ErrorPattern)
	for _, ev := range events {
		sig := signature{service: ev.Service, errorType: ev.ErrorType}
		agg, ok := aggregates[sig]
		if !ok {
			agg = &models.ErrorPattern{
				Service:   ev.Service,
				ErrorType: ev.ErrorType,
				Severity:  ev.Severity,
				FirstSeen: ev.OccurredAt,
				LastSeen:  ev.OccurredAt,
			}
			aggregates[sig] = agg
		}
		agg.Occurrences++
		if ev.Severity.Rank() > agg.Severity.Rank() {
			agg.Severity = ev.Severity
		}
		if ev.OccurredAt.Before(agg.FirstSeen) {
			agg.FirstSeen = ev.OccurredAt
		}
		if ev.OccurredAt.After(agg.LastSeen) {
			agg.LastSeen = ev.OccurredAt
		}
	}

	patterns := make([]models.ErrorPattern, 0, len(aggregates))
	for _, agg := range aggregates {
		if agg.Occurrences < m.minOccurrences {
			continue
		}
		agg.ID = uuid.NewString()
		agg.Prevalence = float64(agg.Occurrences) / float64(len(events))
		patterns = append(patterns, *agg)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		if !patterns[i].LastSeen.Equal(patterns[j].LastSeen) {
			return patterns[i].LastSeen.After(patterns[j].LastSeen)
		}
		if patterns[i].Service != patterns[j].Service {
			return patterns[i].Service < patterns[j].Service
		}
		return patterns[i].ErrorType < patterns[j].ErrorType
	})

	if m.store != nil {
		for i := range patterns {
			if err := m.store.UpsertPattern(ctx, &patterns[i]); err != nil {
				m.logger.Warn("pattern upsert failed",
					"service", patterns[i].Service,
					"error_type", patterns[i].ErrorType,
					"error", err,
				)
			}
		}
	}

	return patterns, nil
}
