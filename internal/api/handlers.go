package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/services"
	"github.com/miradorstack/mirador-heal/internal/store"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// HealthChecker reports backing-store connectivity for readiness probes.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers binds the service facade to the HTTP routes.
type Handlers struct {
	svc    *services.HealService
	health HealthChecker
	logger *slog.Logger
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(svc *services.HealService, health HealthChecker, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, health: health, logger: logger}
}

// Register attaches every route to the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	router.GET("/readyz", h.readyz)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/errors", h.reportError)
		v1.POST("/metrics/samples", h.ingestSamples)
		v1.GET("/metrics/:service/:metric/stats", h.metricStats)
		v1.POST("/analysis/run", h.runAnalysis)

		v1.GET("/anomalies", h.listAnomalies)
		v1.POST("/anomalies/:id/ack", h.acknowledgeAnomaly)
		v1.GET("/predictions", h.listPredictions)
		v1.GET("/forecasts", h.listForecasts)
		v1.GET("/actions", h.listActions)
		v1.GET("/preventive-actions", h.listPreventiveActions)
		v1.POST("/preventive-actions/:id/status", h.updatePreventiveStatus)
		v1.GET("/patterns", h.listPatterns)
		v1.GET("/escalations", h.listEscalations)
		v1.GET("/health/services", h.serviceHealth)
	}
}

// ---- request/response shapes ----

type errorReportRequest struct {
	Service    string            `json:"service"`
	ErrorType  string            `json:"error_type"`
	Message    string            `json:"message"`
	Severity   string            `json:"severity"`
	Context    map[string]string `json:"context"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type recoveryActionResponse struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	Strategy     string         `json:"strategy"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Status       string         `json:"status"`
	Attempt      int            `json:"attempt"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	ResultDetail string         `json:"result_detail,omitempty"`
}

type errorReceiptResponse struct {
	EventID   string                   `json:"event_id"`
	Service   string                   `json:"service"`
	ErrorType string                   `json:"error_type"`
	Severity  string                   `json:"severity"`
	Category  string                   `json:"category"`
	Chain     []string                 `json:"chain"`
	Recovered bool                     `json:"recovered"`
	Actions   []recoveryActionResponse `json:"actions"`
}

type metricSampleRequest struct {
	Service    string    `json:"service"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

type ingestSamplesRequest struct {
	Samples []metricSampleRequest `json:"samples"`
}

type ackRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

type preventiveStatusRequest struct {
	Status string `json:"status"`
}

type anomalyResponse struct {
	ID                  string     `json:"id"`
	Service             string     `json:"service"`
	MetricName          string     `json:"metric_name"`
	AnomalyScore        float64    `json:"anomaly_score"`
	IsAnomaly           bool       `json:"is_anomaly"`
	Severity            string     `json:"severity"`
	AnomalyType         string     `json:"anomaly_type"`
	DeviationPct        float64    `json:"deviation_pct"`
	Confidence          float64    `json:"confidence"`
	DetectedAt          time.Time  `json:"detected_at"`
	RootCauseHypothesis string     `json:"root_cause_hypothesis,omitempty"`
	Acknowledged        bool       `json:"acknowledged"`
	AcknowledgedBy      string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
}

type predictionResponse struct {
	ID                 string    `json:"id"`
	Service            string    `json:"service"`
	PredictedErrorType string    `json:"predicted_error_type"`
	Probability        float64   `json:"probability"`
	Confidence         float64   `json:"confidence"`
	TimeHorizon        string    `json:"time_horizon"`
	PredictedAt        time.Time `json:"predicted_at"`
	RecommendedActions []string  `json:"recommended_actions,omitempty"`
	Outcome            string    `json:"outcome,omitempty"`
	Accuracy           *float64  `json:"accuracy,omitempty"`
}

type forecastPointResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
}

type forecastResponse struct {
	ID             string                  `json:"id"`
	Service        string                  `json:"service"`
	MetricName     string                  `json:"metric_name"`
	Points         []forecastPointResponse `json:"points"`
	TrendDirection string                  `json:"trend_direction"`
	PeakValue      float64                 `json:"peak_value"`
	GeneratedAt    time.Time               `json:"generated_at"`
}

type sampleStatsResponse struct {
	Service    string  `json:"service"`
	MetricName string  `json:"metric_name"`
	Count      int64   `json:"count"`
	Avg        float64 `json:"avg"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	StdDev     float64 `json:"stddev"`
}

type preventiveActionResponse struct {
	ID                  string    `json:"id"`
	Service             string    `json:"service"`
	ActionType          string    `json:"action_type"`
	Description         string    `json:"description"`
	Priority            string    `json:"priority"`
	Status              string    `json:"status"`
	CanBeAutomated      bool      `json:"can_be_automated"`
	TriggeringInsightID string    `json:"triggering_insight_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type patternResponse struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	ErrorType   string    `json:"error_type"`
	Occurrences int       `json:"occurrences"`
	Severity    string    `json:"severity"`
	Prevalence  float64   `json:"prevalence"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

type escalationResponse struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	Service     string    `json:"service"`
	Severity    string    `json:"severity"`
	Reasons     []string  `json:"reasons"`
	EscalatedAt time.Time `json:"escalated_at"`
}

type serviceHealthResponse struct {
	Service       string     `json:"service"`
	ErrorRate     float64    `json:"error_rate"`
	OpenAnomalies int        `json:"open_anomalies"`
	Unresolved    int        `json:"unresolved"`
	LastAnalysis  *time.Time `json:"last_analysis,omitempty"`
	Tier          string     `json:"tier"`
}

type analysisReportResponse struct {
	Service           string                     `json:"service"`
	Anomalies         []anomalyResponse          `json:"anomalies"`
	Predictions       []predictionResponse       `json:"predictions"`
	Forecasts         []forecastResponse         `json:"forecasts"`
	PreventiveActions []preventiveActionResponse `json:"preventive_actions"`
	Insights          []string                   `json:"insights"`
	StartedAt         time.Time                  `json:"started_at"`
	CompletedAt       time.Time                  `json:"completed_at"`
}

// ---- domain to response mapping ----

func toActionResponse(a models.RecoveryAction) recoveryActionResponse {
	return recoveryActionResponse{
		ID:           a.ID,
		EventID:      a.EventID,
		Strategy:     string(a.Strategy),
		Parameters:   a.Parameters,
		Status:       string(a.Status),
		Attempt:      a.Attempt,
		StartedAt:    a.StartedAt,
		FinishedAt:   a.FinishedAt,
		ResultDetail: a.ResultDetail,
	}
}

func toReceiptResponse(r *services.ErrorReceipt) errorReceiptResponse {
	chain := make([]string, len(r.Chain))
	for i, s := range r.Chain {
		chain[i] = string(s)
	}
	actions := make([]recoveryActionResponse, 0, len(r.Outcome.Actions))
	for _, a := range r.Outcome.Actions {
		actions = append(actions, toActionResponse(a))
	}
	return errorReceiptResponse{
		EventID:   r.Event.ID,
		Service:   r.Event.Service,
		ErrorType: r.Event.ErrorType,
		Severity:  string(r.Event.Severity),
		Category:  string(r.Category),
		Chain:     chain,
		Recovered: r.Outcome.Recovered,
		Actions:   actions,
	}
}

func toAnomalyResponse(a models.AnomalyRecord) anomalyResponse {
	out := anomalyResponse{
		ID:                  a.ID,
		Service:             a.Service,
		MetricName:          a.MetricName,
		AnomalyScore:        a.AnomalyScore,
		IsAnomaly:           a.IsAnomaly,
		Severity:            string(a.SeverityLevel),
		AnomalyType:         string(a.AnomalyType),
		DeviationPct:        a.DeviationPct,
		Confidence:          a.Confidence,
		DetectedAt:          a.DetectedAt,
		RootCauseHypothesis: a.RootCauseHypothesis,
		Acknowledged:        a.Acknowledged,
		AcknowledgedBy:      a.AcknowledgedBy,
	}
	if !a.AcknowledgedAt.IsZero() {
		at := a.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	return out
}

func toPredictionResponse(p models.ErrorPrediction) predictionResponse {
	return predictionResponse{
		ID:                 p.ID,
		Service:            p.Service,
		PredictedErrorType: p.PredictedErrorType,
		Probability:        p.Probability,
		Confidence:         p.Confidence,
		TimeHorizon:        p.TimeHorizon.String(),
		PredictedAt:        p.PredictedAt,
		RecommendedActions: p.RecommendedActions,
		Outcome:            string(p.Outcome),
		Accuracy:           p.Accuracy,
	}
}

func toForecastResponse(f models.Forecast) forecastResponse {
	points := make([]forecastPointResponse, 0, len(f.Points))
	for _, p := range f.Points {
		points = append(points, forecastPointResponse{
			Timestamp: p.Timestamp,
			Value:     p.Value,
			Lower:     p.Lower,
			Upper:     p.Upper,
		})
	}
	return forecastResponse{
		ID:             f.ID,
		Service:        f.Service,
		MetricName:     f.MetricName,
		Points:         points,
		TrendDirection: string(f.TrendDirection),
		PeakValue:      f.PeakValue,
		GeneratedAt:    f.GeneratedAt,
	}
}

func toPreventiveResponse(p models.PreventiveAction) preventiveActionResponse {
	return preventiveActionResponse{
		ID:                  p.ID,
		Service:             p.Service,
		ActionType:          p.ActionType,
		Description:         p.Description,
		Priority:            string(p.Priority),
		Status:              string(p.Status),
		CanBeAutomated:      p.CanBeAutomated,
		TriggeringInsightID: p.TriggeringInsightID,
		CreatedAt:           p.CreatedAt,
	}
}

func toPatternResponse(p models.ErrorPattern) patternResponse {
	return patternResponse{
		ID:          p.ID,
		Service:     p.Service,
		ErrorType:   p.ErrorType,
		Occurrences: p.Occurrences,
		Severity:    string(p.Severity),
		Prevalence:  p.Prevalence,
		FirstSeen:   p.FirstSeen,
		LastSeen:    p.LastSeen,
	}
}

func toEscalationResponse(e models.Escalation) escalationResponse {
	return escalationResponse{
		ID:          e.ID,
		EventID:     e.EventID,
		Service:     e.Service,
		Severity:    string(e.Severity),
		Reasons:     e.Reasons,
		EscalatedAt: e.EscalatedAt,
	}
}

func toServiceHealthResponse(h models.ServiceHealth) serviceHealthResponse {
	out := serviceHealthResponse{
		Service:       h.Service,
		ErrorRate:     h.ErrorRate,
		OpenAnomalies: h.OpenAnomalies,
		Unresolved:    h.Unresolved,
		Tier:          string(h.Tier),
	}
	if !h.LastAnalysis.IsZero() {
		at := h.LastAnalysis
		out.LastAnalysis = &at
	}
	return out
}

func toReportResponse(r models.AnalysisReport) analysisReportResponse {
	out := analysisReportResponse{
		Service:           r.Service,
		Anomalies:         make([]anomalyResponse, 0, len(r.Anomalies)),
		Predictions:       make([]predictionResponse, 0, len(r.Predictions)),
		Forecasts:         make([]forecastResponse, 0, len(r.Forecasts)),
		PreventiveActions: make([]preventiveActionResponse, 0, len(r.PreventiveActions)),
		Insights:          r.Insights,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
	}
	for _, a := range r.Anomalies {
		out.Anomalies = append(out.Anomalies, toAnomalyResponse(a))
	}
	for _, p := range r.Predictions {
		out.Predictions = append(out.Predictions, toPredictionResponse(p))
	}
	for _, f := range r.Forecasts {
		out.Forecasts = append(out.Forecasts, toForecastResponse(f))
	}
	for _, p := range r.PreventiveActions {
		out.PreventiveActions = append(out.PreventiveActions, toPreventiveResponse(p))
	}
	return out
}

// ---- handlers ----

func (h *Handlers) reportError(c *gin.Context) {
	var req errorReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	receipt, err := h.svc.ReportError(c.Request.Context(), services.ErrorReport{
		Service:    req.Service,
		ErrorType:  req.ErrorType,
		Message:    req.Message,
		Severity:   req.Severity,
		Context:    req.Context,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReceiptResponse(receipt))
}

func (h *Handlers) ingestSamples(c *gin.Context) {
	var req ingestSamplesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	samples := make([]models.MetricSample, 0, len(req.Samples))
	for _, s := range req.Samples {
		samples = append(samples, models.MetricSample{
			Service:    s.Service,
			MetricName: s.MetricName,
			Value:      s.Value,
			Timestamp:  s.Timestamp,
		})
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	accepted, err := h.svc.IngestSamples(ctx, samples)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func (h *Handlers) metricStats(c *gin.Context) {
	since, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if since.IsZero() {
		since = time.Now().UTC().Add(-time.Hour)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.svc.MetricStats(ctx, c.Param("service"), c.Param("metric"), since)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sampleStatsResponse{
		Service:    c.Param("service"),
		MetricName: c.Param("metric"),
		Count:      stats.Count,
		Avg:        stats.Avg,
		Min:        stats.Min,
		Max:        stats.Max,
		StdDev:     stats.StdDev,
	})
}

func (h *Handlers) runAnalysis(c *gin.Context) {
	reports, err := h.svc.RunAnalysis(c.Request.Context(), c.Query("service"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]analysisReportResponse, 0, len(reports))
	for _, r := range reports {
		out = append(out, toReportResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"reports": out, "count": len(out)})
}

func (h *Handlers) listAnomalies(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	since, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ackFilter, err := parseBoolFilter(c, "acknowledged")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	severity := c.Query("severity")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	anomalies, err := h.svc.Anomalies(ctx, c.Query("service"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]anomalyResponse, 0, len(anomalies))
	for _, a := range anomalies {
		if severity != "" && string(a.SeverityLevel) != severity {
			continue
		}
		if ackFilter != nil && a.Acknowledged != *ackFilter {
			continue
		}
		if !since.IsZero() && !a.DetectedAt.After(since) {
			continue
		}
		out = append(out, toAnomalyResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": out, "count": len(out)})
}

func (h *Handlers) acknowledgeAnomaly(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.svc.AcknowledgeAnomaly(ctx, c.Param("id"), req.AcknowledgedBy); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

func (h *Handlers) listPredictions(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	since, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	predictions, err := h.svc.Predictions(ctx, c.Query("service"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]predictionResponse, 0, len(predictions))
	for _, p := range predictions {
		if !since.IsZero() && !p.PredictedAt.After(since) {
			continue
		}
		out = append(out, toPredictionResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"predictions": out, "count": len(out)})
}

func (h *Handlers) listForecasts(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	forecasts, err := h.svc.Forecasts(ctx, c.Query("service"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]forecastResponse, 0, len(forecasts))
	for _, f := range forecasts {
		out = append(out, toForecastResponse(f))
	}
	c.JSON(http.StatusOK, gin.H{"forecasts": out, "count": len(out)})
}

func (h *Handlers) listActions(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	actions, err := h.svc.Actions(ctx, store.ActionFilter{
		EventID: c.Query("event_id"),
		Service: c.Query("service"),
		Limit:   limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]recoveryActionResponse, 0, len(actions))
	for _, a := range actions {
		out = append(out, toActionResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"actions": out, "count": len(out)})
}

func (h *Handlers) listPreventiveActions(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := c.Query("status")
	priority := c.Query("priority")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	actions, err := h.svc.PreventiveActions(ctx, c.Query("service"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]preventiveActionResponse, 0, len(actions))
	for _, a := range actions {
		if status != "" && string(a.Status) != status {
			continue
		}
		if priority != "" && string(a.Priority) != priority {
			continue
		}
		out = append(out, toPreventiveResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"preventive_actions": out, "count": len(out)})
}

func (h *Handlers) updatePreventiveStatus(c *gin.Context) {
	var req preventiveStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.svc.UpdatePreventiveStatus(ctx, c.Param("id"), models.PreventiveStatus(req.Status)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (h *Handlers) listPatterns(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	patterns, err := h.svc.Patterns(ctx, c.Query("service"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]patternResponse, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, toPatternResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"patterns": out, "count": len(out)})
}

func (h *Handlers) listEscalations(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	escalations, err := h.svc.Escalations(ctx, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]escalationResponse, 0, len(escalations))
	for _, e := range escalations {
		out = append(out, toEscalationResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"escalations": out, "count": len(out)})
}

func (h *Handlers) serviceHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	rollup, err := h.svc.HealthRollup(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]serviceHealthResponse, 0, len(rollup))
	for _, s := range rollup {
		out = append(out, toServiceHealthResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"services": out, "count": len(out)})
}

func (h *Handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if h.health != nil {
		if err := h.health.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// respondError maps domain failures onto HTTP statuses. Internal detail
// stays in the log, not the response body.
func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

// parseWindow reads an optional trailing-window duration, e.g. ?window=2h,
// or an absolute ?since=RFC3339 timestamp. since wins when both are given.
func parseWindow(c *gin.Context) (time.Time, error) {
	if raw := c.Query("since"); raw != "" {
		at, err := utils.ParseRFC3339(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid since %q", raw)
		}
		return at, nil
	}
	raw := c.Query("window")
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid window %q", raw)
	}
	return time.Now().UTC().Add(-d), nil
}

func parseBoolFilter(c *gin.Context, name string) (*bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &v, nil
}
