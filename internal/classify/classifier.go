// Package classify maps raw error types onto severity tiers and ordered
// recovery strategy chains. Classification is a pure lookup so the same
// (error_type, seed) pair always yields the same chain.
package classify

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Category groups error types by failure mode. Severity derives from the
// category, never from free-form string matching.
type Category string

const (
	CategoryResourceExhaustion Category = "resource_exhaustion"
	CategoryConnectivity       Category = "connectivity"
	CategoryLogic              Category = "logic"
	CategoryUnknown            Category = "unknown"
)

// Classification is the classifier's verdict for one error type.
type Classification struct {
	Category Category
	Severity models.Severity
	Chain    []models.Strategy
}

// Classifier resolves error types through a built-in table optionally
// extended by an operator-supplied mapping file. Unrecognized types fall
// to the low tier with the generic retry/fallback chain; nothing is
// dropped.
type Classifier struct {
	categories map[string]Category
	chains     map[string][]models.Strategy
	logger     *slog.Logger
}

// TypeMapping is one entry of the operator mapping file. Category and
// chain are each optional; an empty value keeps the built-in behavior.
type TypeMapping struct {
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Chain    []string `yaml:"chain"`
}

// MappingFile is the YAML root structure.
type MappingFile struct {
	Types []TypeMapping `yaml:"types"`
}

var builtinCategories = map[string]Category{
	"MemoryError":             CategoryResourceExhaustion,
	"OutOfMemoryError":        CategoryResourceExhaustion,
	"ResourceExhaustedError":  CategoryResourceExhaustion,
	"DiskFullError":           CategoryResourceExhaustion,
	"ConnectionError":         CategoryConnectivity,
	"ConnectionTimeout":       CategoryConnectivity,
	"TimeoutError":            CategoryConnectivity,
	"NetworkError":            CategoryConnectivity,
	"DatabaseError":           CategoryConnectivity,
	"DatabaseTimeout":         CategoryConnectivity,
	"ServiceUnavailableError": CategoryConnectivity,
	"APIError":                CategoryConnectivity,
	"ValidationError":         CategoryLogic,
	"AuthenticationError":     CategoryLogic,
	"AuthorizationError":      CategoryLogic,
	"LogicError":              CategoryLogic,
}

// builtinChains carries per-type chain orderings that override the
// severity default, e.g. connection-class errors try retry before
// circuit_break.
var builtinChains = map[string][]models.Strategy{
	"ConnectionError":         {models.StrategyRetry, models.StrategyCircuitBreak, models.StrategyServiceFallback},
	"DatabaseError":           {models.StrategyPoolIncrease, models.StrategyTimeoutIncrease, models.StrategyCacheClear},
	"MemoryError":             {models.StrategyResourceScale, models.StrategyCacheClear, models.StrategyQueuePriorityBoost},
	"ServiceUnavailableError": {models.StrategyRetry, models.StrategyCircuitBreak, models.StrategyServiceRestart},
	"APIError":                {models.StrategyRetry, models.StrategyTimeoutIncrease, models.StrategyServiceFallback},
	"AuthenticationError":     {models.StrategyRetry, models.StrategyRequestThrottle},
	"ValidationError":         {models.StrategyServiceFallback, models.StrategyRequestThrottle},
}

// NewClassifier builds a classifier, merging the optional mapping file
// at path over the built-in tables. A missing file is not an error; a
// malformed one is, so bad mappings fail at boot instead of at runtime.
func NewClassifier(path string, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Classifier{
		categories: make(map[string]Category, len(builtinCategories)),
		chains:     make(map[string][]models.Strategy, len(builtinChains)),
		logger:     logger,
	}
	for name, cat := range builtinCategories {
		c.categories[name] = cat
	}
	for name, chain := range builtinChains {
		c.chains[name] = chain
	}

	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	var file MappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mapping file: %w", err)
	}
	for _, entry := range file.Types {
		if err := c.apply(entry); err != nil {
			return nil, fmt.Errorf("mapping for %q: %w", entry.Name, err)
		}
	}
	logger.Info("error type mappings loaded", "path", path, "entries", len(file.Types))
	return c, nil
}

func (c *Classifier) apply(entry TypeMapping) error {
	if entry.Name == "" {
		return errors.New("missing error type name")
	}
	if entry.Category != "" {
		cat, err := parseCategory(entry.Category)
		if err != nil {
			return err
		}
		c.categories[entry.Name] = cat
	}
	if len(entry.Chain) > 0 {
		chain := make([]models.Strategy, 0, len(entry.Chain))
		for _, raw := range entry.Chain {
			strategy, err := parseStrategy(raw)
			if err != nil {
				return err
			}
			chain = append(chain, strategy)
		}
		c.chains[entry.Name] = chain
	}
	return nil
}

// Classify resolves one error type. The seed severity from the capture
// boundary can only raise the derived tier, never lower it, so a
// critical seed on a low-tier type still gets urgent handling.
func (c *Classifier) Classify(errorType string, seed models.Severity) Classification {
	category, known := c.categories[errorType]
	if !known {
		category = CategoryUnknown
	}

	severity := severityFor(category)
	if seed.Rank() > severity.Rank() {
		severity = seed
	}

	chain, overridden := c.chains[errorType]
	if !overridden {
		chain = defaultChain(severity)
	}

	out := make([]models.Strategy, len(chain))
	copy(out, chain)
	return Classification{Category: category, Severity: severity, Chain: out}
}

func severityFor(category Category) models.Severity {
	switch category {
	case CategoryResourceExhaustion:
		return models.SeverityCritical
	case CategoryConnectivity:
		return models.SeverityHigh
	case CategoryLogic:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func defaultChain(severity models.Severity) []models.Strategy {
	switch severity {
	case models.SeverityCritical:
		return []models.Strategy{models.StrategyPoolIncrease, models.StrategyResourceScale, models.StrategyServiceRestart}
	case models.SeverityHigh:
		return []models.Strategy{models.StrategyTimeoutIncrease, models.StrategyCacheClear, models.StrategyCircuitBreak}
	case models.SeverityMedium:
		return []models.Strategy{models.StrategyServiceFallback, models.StrategyRequestThrottle}
	default:
		return []models.Strategy{models.StrategyRetry, models.StrategyServiceFallback}
	}
}

func parseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryResourceExhaustion, CategoryConnectivity, CategoryLogic, CategoryUnknown:
		return Category(raw), nil
	default:
		return "", fmt.Errorf("unknown category %q", raw)
	}
}

func parseStrategy(raw string) (models.Strategy, error) {
	for _, s := range models.KnownStrategies() {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", raw)
}
