package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// PostgresStore is the durable backend, one pgx pool shared by every
// caller. All statements carry their own timeout so a stuck database
// never wedges the recovery path.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	DSN          string
	MaxConns     int32
	MinConns     int32
	ConnLifetime time.Duration
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS error_events (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		error_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		context JSONB,
		occurred_at TIMESTAMPTZ NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_by TEXT NOT NULL DEFAULT '',
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_service_time ON error_events(service, occurred_at DESC)`,
	`CREATE TABLE IF NOT EXISTS recovery_actions (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		parameters JSONB,
		status TEXT NOT NULL,
		attempt INT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		result_detail TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_event ON recovery_actions(event_id)`,
	`CREATE TABLE IF NOT EXISTS escalations (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		service TEXT NOT NULL,
		severity TEXT NOT NULL,
		reasons JSONB,
		escalated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metric_samples (
		service TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_key_time ON metric_samples(service, metric_name, ts)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		anomaly_score DOUBLE PRECISION NOT NULL,
		is_anomaly BOOLEAN NOT NULL,
		severity TEXT NOT NULL,
		anomaly_type TEXT NOT NULL,
		deviation_pct DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL,
		root_cause TEXT NOT NULL DEFAULT '',
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_key_time ON anomalies(service, metric_name, detected_at DESC)`,
	`CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		error_type TEXT NOT NULL,
		probability DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		horizon_seconds BIGINT NOT NULL,
		predicted_at TIMESTAMPTZ NOT NULL,
		recommended JSONB,
		outcome TEXT NOT NULL DEFAULT '',
		accuracy DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS forecasts (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		points JSONB,
		trend TEXT NOT NULL,
		peak_value DOUBLE PRECISION NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS preventive_actions (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		action_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		automated BOOLEAN NOT NULL,
		insight_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS error_patterns (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		error_type TEXT NOT NULL,
		occurrences INT NOT NULL,
		severity TEXT NOT NULL,
		prevalence DOUBLE PRECISION NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (service, error_type)
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_runs (
		service TEXT NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_service_time ON analysis_runs(service, completed_at DESC)`,
}

// NewPostgresStore connects, pings, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnLifetime
	}
	poolCfg.ConnConfig.ConnectTimeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres store ready")
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Health pings the database.
func (s *PostgresStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// SaveEvent inserts one error event.
func (s *PostgresStore) SaveEvent(ctx context.Context, ev *models.ErrorEvent) error {
	query := `
		INSERT INTO error_events (id, service, error_type, severity, message, context, occurred_at, resolved, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	ctxData, err := json.Marshal(ev.Context)
	if err != nil {
		return fmt.Errorf("encode event context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.pool.Exec(ctx, query,
		ev.ID, ev.Service, ev.ErrorType, string(ev.Severity), ev.Message,
		ctxData, ev.OccurredAt, ev.Resolved, string(ev.ResolvedBy))
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// MarkEventResolved stamps the successful strategy on an event.
func (s *PostgresStore) MarkEventResolved(ctx context.Context, eventID string, strategy models.Strategy, at time.Time) error {
	query := `
		UPDATE error_events
		SET resolved = TRUE, resolved_by = $2, resolved_at = $3
		WHERE id = $1
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, eventID, string(strategy), at)
	if err != nil {
		return fmt.Errorf("mark event resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent fetches one event by ID.
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*models.ErrorEvent, error) {
	query := `
		SELECT id, service, error_type, severity, message, context, occurred_at, resolved, resolved_by, resolved_at
		FROM error_events
		WHERE id = $1
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ev, err := scanEvent(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// GetRecentEvents lists events newest first. Empty service means all
// services; zero since means no lower bound.
func (s *PostgresStore) GetRecentEvents(ctx context.Context, service string, since time.Time, limit int) ([]models.ErrorEvent, error) {
	query := `
		SELECT id, service, error_type, severity, message, context, occurred_at, resolved, resolved_by, resolved_at
		FROM error_events
		WHERE ($1 = '' OR service = $1)
		  AND ($2::timestamptz IS NULL OR occurred_at > $2)
		ORDER BY occurred_at DESC
		LIMIT $3
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, service, nullableTime(since), clampLimit(limit, 500))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.ErrorEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// CountUnresolvedEvents counts events still awaiting a successful chain.
func (s *PostgresStore) CountUnresolvedEvents(ctx context.Context, service string) (int, error) {
	query := `SELECT COUNT(*) FROM error_events WHERE service = $1 AND resolved = FALSE`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var n int
	if err := s.pool.QueryRow(ctx, query, service).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unresolved: %w", err)
	}
	return n, nil
}

// CountRecentEvents counts events for a service since the given time.
func (s *PostgresStore) CountRecentEvents(ctx context.Context, service string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM error_events WHERE service = $1 AND occurred_at > $2`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var n int
	if err := s.pool.QueryRow(ctx, query, service, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recent events: %w", err)
	}
	return n, nil
}

// SaveAction records one attempted recovery strategy.
func (s *PostgresStore) SaveAction(ctx context.Context, a *models.RecoveryAction) error {
	query := `
		INSERT INTO recovery_actions (id, event_id, strategy, parameters, status, attempt, started_at, finished_at, result_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	params, err := json.Marshal(a.Parameters)
	if err != nil {
		return fmt.Errorf("encode action parameters: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.EventID, string(a.Strategy), params, string(a.Status),
		a.Attempt, a.StartedAt, nullableTime(a.FinishedAt), a.ResultDetail)
	if err != nil {
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

// GetActions lists recovery actions matching the filter, oldest first
// within an event so chains read in execution order.
func (s *PostgresStore) GetActions(ctx context.Context, f ActionFilter) ([]models.RecoveryAction, error) {
	query := `
		SELECT a.id, a.event_id, a.strategy, a.parameters, a.status, a.attempt, a.started_at, a.finished_at, a.result_detail
		FROM recovery_actions a
		JOIN error_events e ON e.id = a.event_id
		WHERE ($1 = '' OR a.event_id = $1)
		  AND ($2 = '' OR e.service = $2)
		ORDER BY a.started_at ASC
		LIMIT $3
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, f.EventID, f.Service, clampLimit(f.Limit, 500))
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []models.RecoveryAction
	for rows.Next() {
		var (
			a        models.RecoveryAction
			params   []byte
			finished *time.Time
		)
		if err := rows.Scan(&a.ID, &a.EventID, &a.Strategy, &params, &a.Status,
			&a.Attempt, &a.StartedAt, &finished, &a.ResultDetail); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &a.Parameters); err != nil {
				return nil, fmt.Errorf("decode action parameters: %w", err)
			}
		}
		if finished != nil {
			a.FinishedAt = *finished
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// SaveEscalation records an exhausted-chain escalation.
func (s *PostgresStore) SaveEscalation(ctx context.Context, e *models.Escalation) error {
	query := `
		INSERT INTO escalations (id, event_id, service, severity, reasons, escalated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	reasons, err := json.Marshal(e.Reasons)
	if err != nil {
		return fmt.Errorf("encode escalation reasons: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.pool.Exec(ctx, query,
		e.ID, e.EventID, e.Service, string(e.Severity), reasons, e.EscalatedAt)
	if err != nil {
		return fmt.Errorf("save escalation: %w", err)
	}
	return nil
}

// GetRecentEscalations lists escalations newest first.
func (s *PostgresStore) GetRecentEscalations(ctx context.Context, limit int) ([]models.Escalation, error) {
	query := `
		SELECT id, event_id, service, severity, reasons, escalated_at
		FROM escalations
		ORDER BY escalated_at DESC
		LIMIT $1
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, clampLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	var escalations []models.Escalation
	for rows.Next() {
		var (
			e       models.Escalation
			reasons []byte
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Service, &e.Severity, &reasons, &e.EscalatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		if len(reasons) > 0 {
			if err := json.Unmarshal(reasons, &e.Reasons); err != nil {
				return nil, fmt.Errorf("decode escalation reasons: %w", err)
			}
		}
		escalations = append(escalations, e)
	}
	return escalations, rows.Err()
}

// SaveSamples batch-inserts metric samples via COPY.
func (s *PostgresStore) SaveSamples(ctx context.Context, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows := make([][]any, 0, len(samples))
	for _, sample := range samples {
		rows = append(rows, []any{sample.Service, sample.MetricName, sample.Value, sample.Timestamp})
	}

	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"metric_samples"},
		[]string{"service", "metric_name", "value", "ts"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy samples: %w", err)
	}
	s.logger.Debug("samples stored", "count", n)
	return nil
}

// GetSampleWindow returns samples for one series oldest first.
func (s *PostgresStore) GetSampleWindow(ctx context.Context, service, metric string, since time.Time) ([]models.MetricSample, error) {
	query := `
		SELECT service, metric_name, value, ts
		FROM metric_samples
		WHERE service = $1 AND metric_name = $2 AND ts > $3
		ORDER BY ts ASC
		LIMIT 10000
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, service, metric, since)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.MetricSample
	for rows.Next() {
		var m models.MetricSample
		if err := rows.Scan(&m.Service, &m.MetricName, &m.Value, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, m)
	}
	return samples, rows.Err()
}

// GetSampleStats aggregates one series in SQL.
func (s *PostgresStore) GetSampleStats(ctx context.Context, service, metric string, since time.Time) (SampleStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(AVG(value), 0), COALESCE(MIN(value), 0), COALESCE(MAX(value), 0), STDDEV_POP(value)
		FROM metric_samples
		WHERE service = $1 AND metric_name = $2 AND ts > $3
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats := SampleStats{Service: service, MetricName: metric}
	var stddev *float64
	err := s.pool.QueryRow(ctx, query, service, metric, since).Scan(
		&stats.Count, &stats.Avg, &stats.Min, &stats.Max, &stddev)
	if err != nil {
		return SampleStats{}, fmt.Errorf("sample stats: %w", err)
	}
	if stddev != nil {
		stats.StdDev = *stddev
	}
	return stats, nil
}

// GetServices lists services that emitted samples since the given time.
func (s *PostgresStore) GetServices(ctx context.Context, since time.Time) ([]string, error) {
	// Error-only services still need sweeping, hence the union.
	query := `
		SELECT DISTINCT service FROM metric_samples WHERE ts > $1
		UNION
		SELECT DISTINCT service FROM error_events WHERE occurred_at > $1
		ORDER BY service
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var services []string
	for rows.Next() {
		var svc string
		if err := rows.Scan(&svc); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// GetServiceMetrics lists metric names a service has reported recently.
func (s *PostgresStore) GetServiceMetrics(ctx context.Context, service string, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT metric_name
		FROM metric_samples
		WHERE service = $1 AND ts > $2
		ORDER BY metric_name
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, service, since)
	if err != nil {
		return nil, fmt.Errorf("query service metrics: %w", err)
	}
	defer rows.Close()

	var metrics []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan metric name: %w", err)
		}
		metrics = append(metrics, name)
	}
	return metrics, rows.Err()
}

// DeleteOldSamples enforces retention on the sample table.
func (s *PostgresStore) DeleteOldSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM metric_samples WHERE ts < $1`

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveAnomaly inserts one detection record.
func (s *PostgresStore) SaveAnomaly(ctx context.Context, a *models.AnomalyRecord) error {
	query := `
		INSERT INTO anomalies (id, service, metric_name, anomaly_score, is_anomaly, severity, anomaly_type,
			deviation_pct, confidence, detected_at, root_cause, acknowledged, acknowledged_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Service, a.MetricName, a.AnomalyScore, a.IsAnomaly, string(a.SeverityLevel),
		string(a.AnomalyType), a.DeviationPct, a.Confidence, a.DetectedAt,
		a.RootCauseHypothesis, a.Acknowledged, a.AcknowledgedBy)
	if err != nil {
		return fmt.Errorf("save anomaly: %w", err)
	}
	return nil
}

// GetOpenAnomaly returns the latest unacknowledged anomaly for a series
// inside the dedup window, or ErrNotFound.
func (s *PostgresStore) GetOpenAnomaly(ctx context.Context, service, metric string, since time.Time) (*models.AnomalyRecord, error) {
	query := `
		SELECT id, service, metric_name, anomaly_score, is_anomaly, severity, anomaly_type,
			deviation_pct, confidence, detected_at, root_cause, acknowledged, acknowledged_by, acknowledged_at
		FROM anomalies
		WHERE service = $1 AND metric_name = $2 AND detected_at > $3 AND acknowledged = FALSE AND is_anomaly = TRUE
		ORDER BY detected_at DESC
		LIMIT 1
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	a, err := scanAnomaly(s.pool.QueryRow(ctx, query, service, metric, since))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get open anomaly: %w", err)
	}
	return a, nil
}

// GetRecentAnomalies lists detections newest first; empty service means all.
func (s *PostgresStore) GetRecentAnomalies(ctx context.Context, service string, limit int) ([]models.AnomalyRecord, error) {
	query := `
		SELECT id, service, metric_name, anomaly_score, is_anomaly, severity, anomaly_type,
			deviation_pct, confidence, detected_at, root_cause, acknowledged, acknowledged_by, acknowledged_at
		FROM anomalies
		WHERE ($1 = '' OR service = $1)
		ORDER BY detected_at DESC
		LIMIT $2
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, service, clampLimit(limit, 200))
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []models.AnomalyRecord
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		anomalies = append(anomalies, *a)
	}
	return anomalies, rows.Err()
}

// CountOpenAnomalies counts unacknowledged positive detections.
func (s *PostgresStore) CountOpenAnomalies(ctx context.Context, service string) (int, error) {
	query := `SELECT COUNT(*) FROM anomalies WHERE service = $1 AND acknowledged = FALSE AND is_anomaly = TRUE`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var n int
	if err := s.pool.QueryRow(ctx, query, service).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open anomalies: %w", err)
	}
	return n, nil
}

// AcknowledgeAnomaly marks a detection as handled by an operator.
func (s *PostgresStore) AcknowledgeAnomaly(ctx context.Context, id, by string, at time.Time) error {
	query := `
		UPDATE anomalies
		SET acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, id, by, at)
	if err != nil {
		return fmt.Errorf("acknowledge anomaly: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePrediction inserts one emitted prediction.
func (s *PostgresStore) SavePrediction(ctx context.Context, p *models.ErrorPrediction) error {
	query := `
		INSERT INTO predictions (id, service, error_type, probability, confidence, horizon_seconds,
			predicted_at, recommended, outcome, accuracy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	recommended, err := json.Marshal(p.RecommendedActions)
	if err != nil {
		return fmt.Errorf("encode recommended actions: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Service, p.PredictedErrorType, p.Probability, p.Confidence,
		int64(p.TimeHorizon.Seconds()), p.PredictedAt, recommended, string(p.Outcome), p.Accuracy)
	if err != nil {
		return fmt.Errorf("save prediction: %w", err)
	}
	return nil
}

// GetRecentPredictions lists predictions newest first; empty service means all.
func (s *PostgresStore) GetRecentPredictions(ctx context.Context, service string, limit int) ([]models.ErrorPrediction, error) {
	query := `
		SELECT id, service, error_type, probability, confidence, horizon_seconds,
			predicted_at, recommended, outcome, accuracy
		FROM predictions
		WHERE ($1 = '' OR service = $1)
		ORDER BY predicted_at DESC
		LIMIT $2
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, service, clampLimit(limit, 200))
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []models.ErrorPrediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		predictions = append(predictions, *p)
	}
	return predictions, rows.Err()
}

// GetDuePredictions returns unsettled predictions whose horizon has passed.
func (s *PostgresStore) GetDuePredictions(ctx context.Context, now time.Time) ([]models.ErrorPrediction, error) {
	query := `
		SELECT id, service, error_type, probability, confidence, horizon_seconds,
			predicted_at, recommended, outcome, accuracy
		FROM predictions
		WHERE outcome = '' AND predicted_at + horizon_seconds * INTERVAL '1 second' <= $1
		ORDER BY predicted_at ASC
		LIMIT 500
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due predictions: %w", err)
	}
	defer rows.Close()

	var predictions []models.ErrorPrediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		predictions = append(predictions, *p)
	}
	return predictions, rows.Err()
}

// SettlePrediction writes the reconciled outcome and accuracy.
func (s *PostgresStore) SettlePrediction(ctx context.Context, id string, outcome models.PredictionOutcome, accuracy float64) error {
	query := `
		UPDATE predictions
		SET outcome = $2, accuracy = $3
		WHERE id = $1
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, id, string(outcome), accuracy)
	if err != nil {
		return fmt.Errorf("settle prediction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveForecast inserts one metric forecast.
func (s *PostgresStore) SaveForecast(ctx context.Context, f *models.Forecast) error {
	query := `
		INSERT INTO forecasts (id, service, metric_name, points, trend, peak_value, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	points, err := json.Marshal(f.Points)
	if err != nil {
		return fmt.Errorf("encode forecast points: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.pool.Exec(ctx, query,
		f.ID, f.Service, f.MetricName, points, string(f.TrendDirection), f.PeakValue, f.GeneratedAt)
	if err != nil {
		return fmt.Errorf("save forecast: %w", err)
	}
	return nil
}

// GetRecentForecasts lists forecasts newest first; empty service means all.
func (s *PostgresStore) GetRecentForecasts(ctx context.Context, service string, limit int) ([]models.Forecast, error) {
	query := `
		SELECT id, service, metric_name, points, trend, peak_value, generated_at
		FROM forecasts
		WHERE ($1 = '' OR service = $1)
		ORDER BY generated_at DESC
		LIMIT $2
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, service, clampLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	var forecasts []models.Forecast
	for rows.Next() {
		var (
			f      models.Forecast
			points []byte
		)
		if err := rows.Scan(&f.ID, &f.Service, &f.MetricName, &points, &f.TrendDirection, &f.PeakValue, &f.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		if len(points) > 0 {
			if err := json.Unmarshal(points, &f.Points); err != nil {
				return nil, fmt.Errorf("decode forecast points: %w", err)
			}
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, rows.Err()
}

// SavePreventiveAction inserts one recommendation.
func (s *PostgresStore) SavePreventiveAction(ctx context.Context, p *models.PreventiveAction) error {
	query := `
		INSERT INTO preventive_actions (id, service, action_type, description, priority, status, automated, insight_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Service, p.ActionType, p.Description, string(p.Priority),
		string(p.Status), p.CanBeAutomated, p.TriggeringInsightID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("save preventive action: %w", err)
	}
	return nil
}

// GetRecentPreventiveActions lists recommendations newest first.
func (s *PostgresStore) GetRecentPreventiveActions(ctx context.Context, service string, limit int) ([]models.PreventiveAction, error) {
	query := `
		SELECT id, service, action_type, description, priority, status, automated, insight_id, created_at
		FROM preventive_actions
		WHERE ($1 = '' OR service = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, service, clampLimit(limit, 200))
	if err != nil {
		return nil, fmt.Errorf("query preventive actions: %w", err)
	}
	defer rows.Close()

	var actions []models.PreventiveAction
	for rows.Next() {
		var p models.PreventiveAction
		if err := rows.Scan(&p.ID, &p.Service, &p.ActionType, &p.Description, &p.Priority,
			&p.Status, &p.CanBeAutomated, &p.TriggeringInsightID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan preventive action: %w", err)
		}
		actions = append(actions, p)
	}
	return actions, rows.Err()
}

// UpdatePreventiveStatus moves a recommendation through its lifecycle.
func (s *PostgresStore) UpdatePreventiveStatus(ctx context.Context, id string, status models.PreventiveStatus) error {
	query := `UPDATE preventive_actions SET status = $2 WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("update preventive status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPattern inserts or refreshes a mined (service, error_type) signature.
func (s *PostgresStore) UpsertPattern(ctx context.Context, p *models.ErrorPattern) error {
	query := `
		INSERT INTO error_patterns (id, service, error_type, occurrences, severity, prevalence, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (service, error_type) DO UPDATE SET
			occurrences = EXCLUDED.occurrences,
			severity = EXCLUDED.severity,
			prevalence = EXCLUDED.prevalence,
			last_seen = EXCLUDED.last_seen
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Service, p.ErrorType, p.Occurrences, string(p.Severity),
		p.Prevalence, p.FirstSeen, p.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// GetPatterns lists mined signatures for a service, most frequent first.
func (s *PostgresStore) GetPatterns(ctx context.Context, service string) ([]models.ErrorPattern, error) {
	query := `
		SELECT id, service, error_type, occurrences, severity, prevalence, first_seen, last_seen
		FROM error_patterns
		WHERE ($1 = '' OR service = $1)
		ORDER BY occurrences DESC, last_seen DESC
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, service)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []models.ErrorPattern
	for rows.Next() {
		var p models.ErrorPattern
		if err := rows.Scan(&p.ID, &p.Service, &p.ErrorType, &p.Occurrences,
			&p.Severity, &p.Prevalence, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// RecordAnalysisRun stamps a completed analysis pass for a service.
func (s *PostgresStore) RecordAnalysisRun(ctx context.Context, service string, at time.Time) error {
	query := `INSERT INTO analysis_runs (service, completed_at) VALUES ($1, $2)`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.pool.Exec(ctx, query, service, at); err != nil {
		return fmt.Errorf("record analysis run: %w", err)
	}
	return nil
}

// GetLastAnalysis returns the newest completed analysis time for a
// service, zero when the service has never been analysed.
func (s *PostgresStore) GetLastAnalysis(ctx context.Context, service string) (time.Time, error) {
	query := `
		SELECT completed_at
		FROM analysis_runs
		WHERE service = $1
		ORDER BY completed_at DESC
		LIMIT 1
	`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var at time.Time
	err := s.pool.QueryRow(ctx, query, service).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last analysis: %w", err)
	}
	return at, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.ErrorEvent, error) {
	var (
		ev       models.ErrorEvent
		ctxData  []byte
		resolved *time.Time
	)
	if err := row.Scan(&ev.ID, &ev.Service, &ev.ErrorType, &ev.Severity, &ev.Message,
		&ctxData, &ev.OccurredAt, &ev.Resolved, &ev.ResolvedBy, &resolved); err != nil {
		return nil, err
	}
	if len(ctxData) > 0 {
		if err := json.Unmarshal(ctxData, &ev.Context); err != nil {
			return nil, fmt.Errorf("decode event context: %w", err)
		}
	}
	if resolved != nil {
		ev.ResolvedAt = *resolved
	}
	return &ev, nil
}

func scanAnomaly(row rowScanner) (*models.AnomalyRecord, error) {
	var (
		a     models.AnomalyRecord
		acked *time.Time
	)
	if err := row.Scan(&a.ID, &a.Service, &a.MetricName, &a.AnomalyScore, &a.IsAnomaly,
		&a.SeverityLevel, &a.AnomalyType, &a.DeviationPct, &a.Confidence, &a.DetectedAt,
		&a.RootCauseHypothesis, &a.Acknowledged, &a.AcknowledgedBy, &acked); err != nil {
		return nil, err
	}
	if acked != nil {
		a.AcknowledgedAt = *acked
	}
	return &a, nil
}

func scanPrediction(row rowScanner) (*models.ErrorPrediction, error) {
	var (
		p           models.ErrorPrediction
		horizonSecs int64
		recommended []byte
	)
	if err := row.Scan(&p.ID, &p.Service, &p.PredictedErrorType, &p.Probability, &p.Confidence,
		&horizonSecs, &p.PredictedAt, &recommended, &p.Outcome, &p.Accuracy); err != nil {
		return nil, err
	}
	p.TimeHorizon = time.Duration(horizonSecs) * time.Second
	if len(recommended) > 0 {
		if err := json.Unmarshal(recommended, &p.RecommendedActions); err != nil {
			return nil, fmt.Errorf("decode recommended actions: %w", err)
		}
	}
	return &p, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
