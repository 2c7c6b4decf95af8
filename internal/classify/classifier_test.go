package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func mustClassifier(t *testing.T, path string) *Classifier {
	t.Helper()
	c, err := NewClassifier(path, nil)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func chainsEqual(a []models.Strategy, b []models.Strategy) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClassifyConnectionTimeout(t *testing.T) {
	c := mustClassifier(t, "")

	got := c.Classify("ConnectionTimeout", models.SeverityHigh)
	if got.Severity != models.SeverityHigh {
		t.Errorf("expected high severity, got %s", got.Severity)
	}
	want := []models.Strategy{models.StrategyTimeoutIncrease, models.StrategyCacheClear, models.StrategyCircuitBreak}
	if !chainsEqual(got.Chain, want) {
		t.Errorf("unexpected chain: %v", got.Chain)
	}
}

func TestClassifyUnknownType(t *testing.T) {
	c := mustClassifier(t, "")

	got := c.Classify("XyzUnknownError", "")
	if got.Severity != models.SeverityLow {
		t.Errorf("expected low severity for unknown type, got %s", got.Severity)
	}
	if got.Category != CategoryUnknown {
		t.Errorf("expected unknown category, got %s", got.Category)
	}
	want := []models.Strategy{models.StrategyRetry, models.StrategyServiceFallback}
	if !chainsEqual(got.Chain, want) {
		t.Errorf("unexpected fallback chain: %v", got.Chain)
	}
	if len(got.Chain) == 0 {
		t.Fatal("chain must never be empty")
	}
}

func TestClassifyDeterminism(t *testing.T) {
	c := mustClassifier(t, "")

	first := c.Classify("DatabaseError", models.SeverityLow)
	// Callers own the returned slice; mutating it must not leak into
	// later classifications.
	first.Chain[0] = models.StrategyServiceRestart

	second := c.Classify("DatabaseError", models.SeverityLow)
	want := []models.Strategy{models.StrategyPoolIncrease, models.StrategyTimeoutIncrease, models.StrategyCacheClear}
	if !chainsEqual(second.Chain, want) {
		t.Errorf("classification not stable across calls: %v", second.Chain)
	}
}

func TestClassifyTypeOverrides(t *testing.T) {
	c := mustClassifier(t, "")

	cases := []struct {
		errorType string
		severity  models.Severity
		chain     []models.Strategy
	}{
		{"ConnectionError", models.SeverityHigh,
			[]models.Strategy{models.StrategyRetry, models.StrategyCircuitBreak, models.StrategyServiceFallback}},
		{"MemoryError", models.SeverityCritical,
			[]models.Strategy{models.StrategyResourceScale, models.StrategyCacheClear, models.StrategyQueuePriorityBoost}},
		{"ServiceUnavailableError", models.SeverityHigh,
			[]models.Strategy{models.StrategyRetry, models.StrategyCircuitBreak, models.StrategyServiceRestart}},
		{"AuthenticationError", models.SeverityMedium,
			[]models.Strategy{models.StrategyRetry, models.StrategyRequestThrottle}},
	}
	for _, tc := range cases {
		got := c.Classify(tc.errorType, "")
		if got.Severity != tc.severity {
			t.Errorf("%s: expected severity %s, got %s", tc.errorType, tc.severity, got.Severity)
		}
		if !chainsEqual(got.Chain, tc.chain) {
			t.Errorf("%s: unexpected chain %v", tc.errorType, got.Chain)
		}
	}
}

func TestClassifySeedOnlyRaises(t *testing.T) {
	c := mustClassifier(t, "")

	raised := c.Classify("ValidationError", models.SeverityCritical)
	if raised.Severity != models.SeverityCritical {
		t.Errorf("critical seed should raise medium type, got %s", raised.Severity)
	}

	lowered := c.Classify("MemoryError", models.SeverityLow)
	if lowered.Severity != models.SeverityCritical {
		t.Errorf("low seed must not lower critical type, got %s", lowered.Severity)
	}
}

func TestClassifierMappingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.yaml")
	content := `types:
  - name: PaymentGatewayError
    category: connectivity
    chain: [retry, circuit_break]
  - name: ConnectionTimeout
    chain: [retry, timeout_increase]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}

	c := mustClassifier(t, path)

	custom := c.Classify("PaymentGatewayError", "")
	if custom.Severity != models.SeverityHigh {
		t.Errorf("mapped category should yield high severity, got %s", custom.Severity)
	}
	if !chainsEqual(custom.Chain, []models.Strategy{models.StrategyRetry, models.StrategyCircuitBreak}) {
		t.Errorf("unexpected mapped chain: %v", custom.Chain)
	}

	reordered := c.Classify("ConnectionTimeout", "")
	if !chainsEqual(reordered.Chain, []models.Strategy{models.StrategyRetry, models.StrategyTimeoutIncrease}) {
		t.Errorf("file chain override not applied: %v", reordered.Chain)
	}
}

func TestClassifierMappingFileRejectsUnknownStrategy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	content := `types:
  - name: SomeError
    chain: [reboot_universe]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}

	if _, err := NewClassifier(path, nil); err == nil {
		t.Fatal("expected error for unknown strategy in mapping file")
	}
}

func TestClassifierMissingMappingFile(t *testing.T) {
	c := mustClassifier(t, filepath.Join(t.TempDir(), "absent.yaml"))
	got := c.Classify("ConnectionError", "")
	if got.Severity != models.SeverityHigh {
		t.Errorf("built-ins should survive a missing mapping file, got %s", got.Severity)
	}
}
