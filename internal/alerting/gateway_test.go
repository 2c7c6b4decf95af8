package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/recovery"
)

var (
	_ recovery.EscalationSink = (*GatewayClient)(nil)
	_ recovery.Actuator       = (*AutomationClient)(nil)
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

// fakeSuppressionCache scripts SetNX answers in order.
type fakeSuppressionCache struct {
	cache.NoopProvider
	answers []bool
	err     error
	calls   int
}

func (f *fakeSuppressionCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if len(f.answers) == 0 {
		return true, nil
	}
	answer := f.answers[0]
	f.answers = f.answers[1:]
	return answer, nil
}

func TestGatewaySendPostsAlert(t *testing.T) {
	var got Alert
	var gotPath string
	client := NewGatewayClient(Config{BaseURL: "http://gateway:9000"}, nil, nil)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode alert: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"status":"ok"}`), nil
	})}

	alert := AnomalyAlert(models.AnomalyRecord{
		Service:             "checkout",
		MetricName:          "response_time_ms",
		AnomalyScore:        0.9,
		SeverityLevel:       models.SeverityCritical,
		AnomalyType:         models.AnomalySpike,
		RootCauseHypothesis: "possible database slowdown or load increase",
		DetectedAt:          time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
	})
	if err := client.Send(context.Background(), alert); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotPath != "/api/v1/alerts" {
		t.Fatalf("posted to %q", gotPath)
	}
	if got.Kind != KindAnomaly || got.Service != "checkout" || got.Subject != "response_time_ms" {
		t.Fatalf("alert on the wire = %+v", got)
	}
	if got.Severity != "critical" || got.Score != 0.9 {
		t.Fatalf("alert severity/score = %q/%v", got.Severity, got.Score)
	}
	if !strings.Contains(got.Detail, "possible database slowdown") {
		t.Fatalf("detail lost the hypothesis: %q", got.Detail)
	}
}

func TestGatewaySuppressionWindow(t *testing.T) {
	suppression := &fakeSuppressionCache{answers: []bool{true, false}}
	delivered := 0
	client := NewGatewayClient(Config{BaseURL: "http://gateway:9000"}, suppression, nil)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		delivered++
		return jsonResponse(http.StatusOK, `{}`), nil
	})}

	alert := Alert{Kind: KindAnomaly, Service: "checkout", Subject: "response_time_ms", Severity: "high"}
	if err := client.Send(context.Background(), alert); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := client.Send(context.Background(), alert); err != nil {
		t.Fatalf("suppressed send should not error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered %d alerts, want 1", delivered)
	}
	if suppression.calls != 2 {
		t.Fatalf("suppression consulted %d times, want 2", suppression.calls)
	}
}

func TestGatewayCacheFailureStillDelivers(t *testing.T) {
	suppression := &fakeSuppressionCache{err: errors.New("valkey down")}
	delivered := 0
	client := NewGatewayClient(Config{BaseURL: "http://gateway:9000"}, suppression, nil)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		delivered++
		return jsonResponse(http.StatusOK, `{}`), nil
	})}

	if err := client.Send(context.Background(), Alert{Kind: KindAnomaly, Service: "a", Subject: "m"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("cache failure must not withhold the alert, delivered %d", delivered)
	}
}

func TestGatewayUnconfiguredLogsInsteadOfFailing(t *testing.T) {
	client := NewGatewayClient(Config{}, nil, nil)
	if err := client.Send(context.Background(), Alert{Kind: KindPrediction, Service: "a", Subject: "x"}); err != nil {
		t.Fatalf("unconfigured gateway should be tolerated: %v", err)
	}
}

func TestGatewayServerErrorSurfaces(t *testing.T) {
	client := NewGatewayClient(Config{BaseURL: "http://gateway:9000"}, nil, nil)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, `{}`), nil
	})}

	err := client.Send(context.Background(), Alert{Kind: KindAnomaly, Service: "a", Subject: "m"})
	if err == nil {
		t.Fatal("expected an error from a failing gateway")
	}
}

func TestEscalateJoinsReasons(t *testing.T) {
	var got Alert
	client := NewGatewayClient(Config{BaseURL: "http://gateway:9000"}, nil, nil)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode alert: %v", err)
		}
		return jsonResponse(http.StatusOK, `{}`), nil
	})}

	esc := models.Escalation{
		ID:       "esc-1",
		EventID:  "ev-1",
		Service:  "billing",
		Severity: models.SeverityCritical,
		Reasons:  []string{"retry: retry exhausted after 3 attempts", "circuit_break: timed out after 10s"},
	}
	if err := client.Escalate(context.Background(), &esc); err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	if got.Kind != KindEscalation || got.Subject != "ev-1" {
		t.Fatalf("escalation alert = %+v", got)
	}
	if !strings.Contains(got.Detail, "retry exhausted") || !strings.Contains(got.Detail, "timed out") {
		t.Fatalf("detail must carry every reason: %q", got.Detail)
	}

	if err := client.Escalate(context.Background(), nil); err != nil {
		t.Fatalf("nil escalation should be ignored: %v", err)
	}
}

func TestAutomationApply(t *testing.T) {
	var gotPath string
	var body map[string]any
	client := NewAutomationClient(Config{BaseURL: "http://gateway:9000"}, nil)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"applied":true}`), nil
	})}

	err := client.Apply(context.Background(), "checkout", models.StrategyCacheClear, map[string]any{"scope": "service"})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if gotPath != "/api/v1/automation" {
		t.Fatalf("posted to %q", gotPath)
	}
	if body["service"] != "checkout" || body["strategy"] != "cache_clear" {
		t.Fatalf("automation payload = %+v", body)
	}
}

func TestAutomationDeclined(t *testing.T) {
	client := NewAutomationClient(Config{BaseURL: "http://gateway:9000"}, nil)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"applied":false,"detail":"maintenance freeze"}`), nil
	})}

	err := client.Apply(context.Background(), "checkout", models.StrategyServiceRestart, nil)
	if err == nil || !strings.Contains(err.Error(), "maintenance freeze") {
		t.Fatalf("declined application should surface the detail, got %v", err)
	}
}

func TestAutomationUnconfiguredAcknowledges(t *testing.T) {
	client := NewAutomationClient(Config{}, nil)
	if err := client.Apply(context.Background(), "checkout", models.StrategyRetry, nil); err != nil {
		t.Fatalf("unconfigured automation should acknowledge locally: %v", err)
	}
}
