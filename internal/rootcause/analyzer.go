// Package rootcause turns detections into operator-facing cause
// hypotheses and finds the past incidents most similar to a new one.
// Both are heuristics: a hypothesis is a starting point for triage,
// never a verdict.
package rootcause

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Similarity weights. Service and error type dominate; severity and
// time of day only separate otherwise equal candidates.
const (
	weightService   = 0.35
	weightErrorType = 0.35
	weightSeverity  = 0.20
	weightTimeOfDay = 0.10
)

// Analyzer produces hypotheses for anomalies and ranks incident history.
type Analyzer struct {
	logger *slog.Logger
}

func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger}
}

type hypothesisRule struct {
	keywords []string
	kinds    []models.AnomalyType
	text     string
}

// Ordered: the first matching rule wins, so the specific entries sit
// above the broad ones.
var hypothesisRules = []hypothesisRule{
	{
		keywords: []string{"response_time", "latency", "duration"},
		kinds:    []models.AnomalyType{models.AnomalySpike},
		text:     "possible database slowdown or load increase",
	},
	{
		keywords: []string{"response_time", "latency", "duration"},
		kinds:    []models.AnomalyType{models.AnomalyTrendChange},
		text:     "gradual performance degradation, possible resource leak",
	},
	{
		keywords: []string{"error_rate", "errors", "failed"},
		kinds:    []models.AnomalyType{models.AnomalySpike},
		text:     "error burst, possible dependency failure or bad deploy",
	},
	{
		keywords: []string{"error_rate", "errors", "failed"},
		kinds:    []models.AnomalyType{models.AnomalyTrendChange},
		text:     "rising error rate, possible capacity exhaustion",
	},
	{
		keywords: []string{"memory", "heap", "rss"},
		text:     "memory pressure, possible leak or workload growth",
	},
	{
		keywords: []string{"cpu"},
		text:     "cpu saturation, possible runaway workload or traffic surge",
	},
	{
		keywords: []string{"connection", "pool"},
		text:     "connection pool pressure, possible connection leak or downstream slowness",
	},
	{
		keywords: []string{"queue", "backlog", "lag"},
		text:     "queue backlog growth, possible consumer slowdown",
	},
	{
		keywords: []string{"throughput", "requests", "rps", "traffic"},
		kinds:    []models.AnomalyType{models.AnomalyDrop},
		text:     "traffic drop, possible upstream outage or routing change",
	},
	{
		keywords: []string{"disk", "io_"},
		text:     "disk pressure, possible storage degradation or runaway writes",
	},
}

// Hypothesis maps a metric anomaly onto a short cause guess. It always
// returns something: a metric name the rules do not recognize falls
// back to a generic statement for the anomaly shape.
func (a *Analyzer) Hypothesis(metricName string, kind models.AnomalyType) string {
	lowered := strings.ToLower(metricName)
	for _, rule := range hypothesisRules {
		if !rule.matchesKind(kind) {
			continue
		}
		for _, keyword := range rule.keywords {
			if strings.Contains(lowered, keyword) {
				return rule.text
			}
		}
	}

	switch kind {
	case models.AnomalySpike:
		return "sudden rise above baseline, cause unclear from the metric alone"
	case models.AnomalyDrop:
		return "sudden fall below baseline, possible upstream outage"
	case models.AnomalyTrendChange:
		return "sustained drift from baseline"
	default:
		return "unstable metric behavior, possible intermittent fault"
	}
}

func (r hypothesisRule) matchesKind(kind models.AnomalyType) bool {
	if len(r.kinds) == 0 {
		return true
	}
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RankedIncident pairs a past incident with its similarity score.
type RankedIncident struct {
	Event models.ErrorEvent
	Score float64
}

// Rank scores resolved past incidents against the current event and
// returns the k most similar, best first. Candidates matching neither
// service nor error type are excluded outright, and equal scores break
// toward the more recent incident.
func (a *Analyzer) Rank(current models.ErrorEvent, history []models.ErrorEvent, k int) []RankedIncident {
	if k <= 0 {
		k = 3
	}

	ranked := make([]RankedIncident, 0, len(history))
	for _, past := range history {
		if !past.Resolved || past.ID == current.ID {
			continue
		}
		sameService := strings.EqualFold(current.Service, past.Service)
		sameType := current.ErrorType == past.ErrorType
		if !sameService && !sameType {
			continue
		}

		score := 0.0
		if sameService {
			score += weightService
		}
		if sameType {
			score += weightErrorType
		}
		if current.Severity == past.Severity {
			score += weightSeverity
		}
		if utils.HourBucket(current.OccurredAt) == utils.HourBucket(past.OccurredAt) {
			score += weightTimeOfDay
		}
		ranked = append(ranked, RankedIncident{Event: past, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Event.OccurredAt.After(ranked[j].Event.OccurredAt)
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	a.logger.Debug("ranked similar incidents",
		"service", current.Service,
		"error_type", current.ErrorType,
		"candidates", len(history),
		"kept", len(ranked),
	)
	return ranked
}

// CommonResolution returns the strategy that resolved the most ranked
// incidents and how many it resolved. Ties keep the strategy that
// reached the count first, which favors the higher-ranked incidents.
func CommonResolution(ranked []RankedIncident) (models.Strategy, int) {
	counts := make(map[models.Strategy]int, len(ranked))
	var best models.Strategy
	bestCount := 0
	for _, r := range ranked {
		if r.Event.ResolvedBy == "" {
			continue
		}
		counts[r.Event.ResolvedBy]++
		if counts[r.Event.ResolvedBy] > bestCount {
			best = r.Event.ResolvedBy
			bestCount = counts[r.Event.ResolvedBy]
		}
	}
	return best, bestCount
}
