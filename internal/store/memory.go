package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// MemoryStore keeps everything in process memory behind one mutex. It
// mirrors PostgresStore method for method so tests and DB-less dev runs
// exercise the same call sites.
type MemoryStore struct {
	mu         sync.RWMutex
	events     []models.ErrorEvent
	actions    []models.RecoveryAction
	escs       []models.Escalation
	samples    map[string][]models.MetricSample
	anomalies  []models.AnomalyRecord
	preds      []models.ErrorPrediction
	forecasts  []models.Forecast
	preventive []models.PreventiveAction
	patterns   map[string]models.ErrorPattern
	analyses   map[string]time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		samples:  make(map[string][]models.MetricSample),
		patterns: make(map[string]models.ErrorPattern),
		analyses: make(map[string]time.Time),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Health always reports healthy.
func (s *MemoryStore) Health(ctx context.Context) error { return nil }

func sampleKey(service, metric string) string {
	return service + "\x00" + metric
}

func (s *MemoryStore) SaveEvent(ctx context.Context, ev *models.ErrorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) MarkEventResolved(ctx context.Context, eventID string, strategy models.Strategy, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == eventID {
			s.events[i].Resolved = true
			s.events[i].ResolvedBy = strategy
			s.events[i].ResolvedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*models.ErrorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].ID == id {
			ev := s.events[i]
			return &ev, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetRecentEvents(ctx context.Context, service string, since time.Time, limit int) ([]models.ErrorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ErrorEvent
	for _, ev := range s.events {
		if service != "" && ev.Service != service {
			continue
		}
		if !withinWindow(ev.OccurredAt, since) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if max := clampLimit(limit, 500); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *MemoryStore) CountUnresolvedEvents(ctx context.Context, service string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ev := range s.events {
		if ev.Service == service && !ev.Resolved {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountRecentEvents(ctx context.Context, service string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ev := range s.events {
		if ev.Service == service && ev.OccurredAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SaveAction(ctx context.Context, a *models.RecoveryAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, *a)
	return nil
}

func (s *MemoryStore) GetActions(ctx context.Context, f ActionFilter) ([]models.RecoveryAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	serviceOf := make(map[string]string, len(s.events))
	for _, ev := range s.events {
		serviceOf[ev.ID] = ev.Service
	}

	var out []models.RecoveryAction
	for _, a := range s.actions {
		if f.EventID != "" && a.EventID != f.EventID {
			continue
		}
		if f.Service != "" && serviceOf[a.EventID] != f.Service {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if max := clampLimit(f.Limit, 500); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *MemoryStore) SaveEscalation(ctx context.Context, e *models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escs = append(s.escs, *e)
	return nil
}

func (s *MemoryStore) GetRecentEscalations(ctx context.Context, limit int) ([]models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Escalation, len(s.escs))
	copy(out, s.escs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].EscalatedAt.After(out[j].EscalatedAt) })
	if max := clampLimit(limit, 100); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *MemoryStore) SaveSamples(ctx context.Context, samples []models.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		key := sampleKey(sample.Service, sample.MetricName)
		s.samples[key] = append(s.samples[key], sample)
	}
	return nil
}

func (s *MemoryStore) GetSampleWindow(ctx context.Context, service, metric string, since time.Time) ([]models.MetricSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.MetricSample
	for _, sample := range s.samples[sampleKey(service, metric)] {
		if withinWindow(sample.Timestamp, since) {
			out = append(out, sample)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) GetSampleStats(ctx context.Context, service, metric string, since time.Time) (SampleStats, error) {
	window, _ := s.GetSampleWindow(ctx, service, metric, since)

	stats := SampleStats{Service: service, MetricName: metric, Count: int64(len(window))}
	if len(window) == 0 {
		return stats, nil
	}

	stats.Min = window[0].Value
	stats.Max = window[0].Value
	sum := 0.0
	for _, sample := range window {
		sum += sample.Value
		if sample.Value < stats.Min {
			stats.Min = sample.Value
		}
		if sample.Value > stats.Max {
			stats.Max = sample.Value
		}
	}
	stats.Avg = sum / float64(len(window))

	variance := 0.0
	for _, sample := range window {
		d := sample.Value - stats.Avg
		variance += d * d
	}
	stats.StdDev = math.Sqrt(variance / float64(len(window)))
	return stats, nil
}

func (s *MemoryStore) GetServices(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for key, window := range s.samples {
		service := key[:strings.IndexByte(key, '\x00')]
		for _, sample := range window {
			if withinWindow(sample.Timestamp, since) {
				seen[service] = true
				break
			}
		}
	}
	// Error-only services still need sweeping.
	for _, ev := range s.events {
		if withinWindow(ev.OccurredAt, since) {
			seen[ev.Service] = true
		}
	}
	out := make([]string, 0, len(seen))
	for service := range seen {
		out = append(out, service)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) GetServiceMetrics(ctx context.Context, service string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := service + "\x00"
	var out []string
	for key, window := range s.samples {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, sample := range window {
			if withinWindow(sample.Timestamp, since) {
				out = append(out, strings.TrimPrefix(key, prefix))
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) DeleteOldSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, window := range s.samples {
		kept := window[:0]
		for _, sample := range window {
			if sample.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, sample)
		}
		if len(kept) == 0 {
			delete(s.samples, key)
		} else {
			s.samples[key] = kept
		}
	}
	return removed, nil
}

func (s *MemoryStore) SaveAnomaly(ctx context.Context, a *models.AnomalyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, *a)
	return nil
}

func (s *MemoryStore) GetOpenAnomaly(ctx context.Context, service, metric string, since time.Time) (*models.AnomalyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.AnomalyRecord
	for i := range s.anomalies {
		a := &s.anomalies[i]
		if a.Service != service || a.MetricName != metric {
			continue
		}
		if a.Acknowledged || !a.IsAnomaly || !withinWindow(a.DetectedAt, since) {
			continue
		}
		if latest == nil || a.DetectedAt.After(latest.DetectedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (s *MemoryStore) GetRecentAnomalies(ctx context.Context, service string, limit int) ([]models.AnomalyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AnomalyRecord
	for _, a := range s.anomalies {
		if service != "" && a.Service != service {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if max := clampLimit(limit, 200); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *MemoryStore) CountOpenAnomalies(ctx context.Context, service string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.anomalies {
		if a.Service == service && a.IsAnomaly && !a.Acknowledged {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AcknowledgeAnomaly(ctx context.Context, id, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.anomalies {
		if s.anomalies[i].ID == id {
			s.anomalies[i].Acknowledged = true
			s.anomalies[i].AcknowledgedBy = by
			s.anomalies[i].AcknowledgedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) SavePrediction(ctx context.Context, p *models.ErrorPrediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preds = append(s.preds, *p)
	return nil
}

func (s *MemoryStore) GetRecentPredictions(ctx context.Context, service string, limit int) ([]models.ErrorPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ErrorPrediction
	for _, p := range s.preds {
		if service != "" && p.Service != service {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PredictedAt.After(out[j].PredictedAt) })
	if max := clampLimit(limit, 200); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *MemoryStore) GetDuePredictions(ctx context.Context, now time.Time) ([]models.ErrorPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ErrorPrediction
	for _, p := range s.preds {
		if p.Due(now) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PredictedAt.Before(out[j].PredictedAt) })
	return out, nil
}

func (s *MemoryStore) SettlePrediction(ctx context.Context, id string, outcome models.PredictionOutcome, accuracy float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.preds {
		if s.preds[i].ID == id {
			s.preds[i].Outcome = outcome
			acc := accuracy
			s.preds[i].Accuracy = &acc
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) SaveForecast(ctx context.Context, f *models.Forecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts = append(s.forecasts, *f)
	return nil
}

func (s *MemoryStore) GetRecentForecasts(ctx context.Context, service string, limit int) ([]models.Forecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Forecast
	for _, f := range s.forecasts {
		if service != "" && f.Service != service {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	if max := clampLimit(limit, 100); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *MemoryStore) SavePreventiveAction(ctx context.Context, p *models.PreventiveAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preventive = append(s.preventive, *p)
	return nil
}

func (s *MemoryStore) GetRecentPreventiveActions(ctx context.Context, service string, limit int) ([]models.PreventiveAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PreventiveAction
	for _, p := range s.preventive {
		if service != "" && p.Service != service {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if max := clampLimit(limit, 200); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *MemoryStore) UpdatePreventiveStatus(ctx context.Context, id string, status models.PreventiveStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.preventive {
		if s.preventive[i].ID == id {
			s.preventive[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) UpsertPattern(ctx context.Context, p *models.ErrorPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sampleKey(p.Service, p.ErrorType)
	if existing, ok := s.patterns[key]; ok {
		existing.Occurrences = p.Occurrences
		existing.Severity = p.Severity
		existing.Prevalence = p.Prevalence
		existing.LastSeen = p.LastSeen
		s.patterns[key] = existing
		return nil
	}
	s.patterns[key] = *p
	return nil
}

func (s *MemoryStore) GetPatterns(ctx context.Context, service string) ([]models.ErrorPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ErrorPattern
	for _, p := range s.patterns {
		if service != "" && p.Service != service {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}

func (s *MemoryStore) RecordAnalysisRun(ctx context.Context, service string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.analyses[service]) {
		s.analyses[service] = at
	}
	return nil
}

func (s *MemoryStore) GetLastAnalysis(ctx context.Context, service string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyses[service], nil
}
