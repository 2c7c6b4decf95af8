// Package alerting posts notifications to the operator gateway and
// drives the remote automation endpoint recovery strategies act
// through. Delivery is best effort: a cache-backed suppression window
// keeps a flapping signal from paging repeatedly, and an unconfigured
// gateway downgrades alerts to log lines instead of failing the
// pipeline.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
)

// Alert kinds on the wire.
const (
	KindAnomaly    = "anomaly"
	KindPrediction = "prediction"
	KindEscalation = "escalation"
)

// Alert is the notification payload posted to the gateway.
type Alert struct {
	Kind               string    `json:"kind"`
	Service            string    `json:"service"`
	Subject            string    `json:"subject"`
	Severity           string    `json:"severity"`
	Detail             string    `json:"detail"`
	Score              float64   `json:"score,omitempty"`
	Probability        float64   `json:"probability,omitempty"`
	RecommendedActions []string  `json:"recommended_actions,omitempty"`
	RaisedAt           time.Time `json:"raised_at"`
}

// AnomalyAlert shapes a detection for the gateway.
func AnomalyAlert(rec models.AnomalyRecord) Alert {
	return Alert{
		Kind:     KindAnomaly,
		Service:  rec.Service,
		Subject:  rec.MetricName,
		Severity: string(rec.SeverityLevel),
		Detail:   fmt.Sprintf("%s on %s: %s", rec.AnomalyType, rec.MetricName, rec.RootCauseHypothesis),
		Score:    rec.AnomalyScore,
		RaisedAt: rec.DetectedAt,
	}
}

// PredictionAlert shapes an emitted prediction for the gateway.
func PredictionAlert(pred models.ErrorPrediction) Alert {
	return Alert{
		Kind:               KindPrediction,
		Service:            pred.Service,
		Subject:            pred.PredictedErrorType,
		Severity:           string(models.SeverityHigh),
		Detail:             fmt.Sprintf("%s expected within %s", pred.PredictedErrorType, pred.TimeHorizon),
		Probability:        pred.Probability,
		RecommendedActions: append([]string(nil), pred.RecommendedActions...),
		RaisedAt:           pred.PredictedAt,
	}
}

// EscalationAlert shapes an exhausted recovery chain for the gateway.
// Subject carries the event ID so each incident suppresses separately.
func EscalationAlert(esc models.Escalation) Alert {
	return Alert{
		Kind:     KindEscalation,
		Service:  esc.Service,
		Subject:  esc.EventID,
		Severity: string(esc.Severity),
		Detail:   strings.Join(esc.Reasons, "; "),
		RaisedAt: esc.EscalatedAt,
	}
}

// Config targets the gateway endpoints.
type Config struct {
	BaseURL        string
	AlertsPath     string
	AutomationPath string
	Timeout        time.Duration
	SuppressionTTL time.Duration
}

// GatewayClient delivers alerts with per-subject suppression.
type GatewayClient struct {
	baseURL     string
	alertsPath  string
	suppressTTL time.Duration
	httpClient  *http.Client
	cache       cache.Provider
	logger      *slog.Logger
}

// NewGatewayClient constructs a client. An empty base URL is allowed;
// alerts are then logged instead of delivered.
func NewGatewayClient(cfg Config, cacheProvider cache.Provider, logger *slog.Logger) *GatewayClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.SuppressionTTL <= 0 {
		cfg.SuppressionTTL = 15 * time.Minute
	}
	if cfg.AlertsPath == "" {
		cfg.AlertsPath = "/api/v1/alerts"
	}
	return &GatewayClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		alertsPath:  cfg.AlertsPath,
		suppressTTL: cfg.SuppressionTTL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		cache:       cacheProvider,
		logger:      logger,
	}
}

// Send delivers one alert unless an identical subject alerted within
// the suppression window. A cache failure never withholds an alert.
func (c *GatewayClient) Send(ctx context.Context, alert Alert) error {
	key := suppressionKey(alert)
	owned, err := c.cache.SetNX(ctx, key, []byte(alert.Severity), c.suppressTTL)
	if err != nil {
		c.logger.Warn("alert suppression check failed", "key", key, "error", err)
		owned = true
	}
	if !owned {
		metrics.ObserveAlertSuppressed()
		c.logger.Debug("alert suppressed", "kind", alert.Kind, "service", alert.Service, "subject", alert.Subject)
		return nil
	}

	metrics.ObserveAlert(alert.Kind)
	if c.baseURL == "" {
		c.logger.Info("alert gateway not configured, logging alert",
			"kind", alert.Kind,
			"service", alert.Service,
			"severity", alert.Severity,
			"detail", alert.Detail,
		)
		return nil
	}

	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.alertsPath), alert, nil); err != nil {
		return fmt.Errorf("alert gateway request failed: %w", err)
	}
	return nil
}

// Escalate delivers an escalation alert. Satisfies the recovery
// executor's escalation sink.
func (c *GatewayClient) Escalate(ctx context.Context, esc *models.Escalation) error {
	if esc == nil {
		return nil
	}
	return c.Send(ctx, EscalationAlert(*esc))
}

func suppressionKey(alert Alert) string {
	return "alert:" + alert.Kind + ":" + alert.Service + ":" + alert.Subject
}

// AutomationClient applies recovery strategies through the gateway's
// automation endpoint. Satisfies the recovery actuator.
type AutomationClient struct {
	baseURL        string
	automationPath string
	httpClient     *http.Client
	logger         *slog.Logger
}

// NewAutomationClient constructs the actuator. With an empty base URL
// every application is acknowledged locally, which keeps development
// environments recovering without real infrastructure behind them.
func NewAutomationClient(cfg Config, logger *slog.Logger) *AutomationClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.AutomationPath == "" {
		cfg.AutomationPath = "/api/v1/automation"
	}
	return &AutomationClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		automationPath: cfg.AutomationPath,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		logger:         logger,
	}
}

// Apply posts one strategy application and fails when the endpoint
// rejects it.
func (c *AutomationClient) Apply(ctx context.Context, service string, strategy models.Strategy, params map[string]any) error {
	if c.baseURL == "" {
		c.logger.Debug("automation endpoint not configured, acknowledging locally",
			"service", service,
			"strategy", strategy,
		)
		return nil
	}

	payload := map[string]any{
		"service":    service,
		"strategy":   strategy,
		"parameters": params,
	}
	var response struct {
		Applied bool   `json:"applied"`
		Detail  string `json:"detail"`
	}
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.automationPath), payload, &response); err != nil {
		return fmt.Errorf("automation request failed: %w", err)
	}
	if !response.Applied {
		if response.Detail == "" {
			response.Detail = "rejected without detail"
		}
		return fmt.Errorf("automation declined %s: %s", strategy, response.Detail)
	}
	return nil
}

func resolvePath(baseURL, p string) string {
	if baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
