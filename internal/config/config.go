package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the heal engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Classify   ClassifyConfig   `yaml:"classify"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Detection  DetectionConfig  `yaml:"detection"`
	Prediction PredictionConfig `yaml:"prediction"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StorageConfig configures the Postgres record store. An empty DSN keeps
// the engine on the in-memory store, which suits local development.
type StorageConfig struct {
	PostgresDSN   string        `yaml:"postgresDSN"`
	MaxConns      int32         `yaml:"maxConns"`
	MinConns      int32         `yaml:"minConns"`
	ConnLifetime  time.Duration `yaml:"connLifetime"`
	RetentionDays int           `yaml:"retentionDays"`
}

// CacheConfig controls Valkey-backed suppression and dedup state.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// AlertingConfig configures the outbound alert gateway and automation endpoint.
type AlertingConfig struct {
	GatewayURL     string        `yaml:"gatewayURL"`
	AlertsPath     string        `yaml:"alertsPath"`
	AutomationPath string        `yaml:"automationPath"`
	Timeout        time.Duration `yaml:"timeout"`
	SuppressionTTL time.Duration `yaml:"suppressionTTL"`
}

// ClassifyConfig points at the optional error-type mapping overrides.
type ClassifyConfig struct {
	MappingPath string `yaml:"mappingPath"`
}

// RecoveryConfig bounds strategy execution.
type RecoveryConfig struct {
	StrategyTimeout time.Duration `yaml:"strategyTimeout"`
	RetryAttempts   int           `yaml:"retryAttempts"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	EscalationAfter time.Duration `yaml:"escalationAfter"`
}

// DetectionConfig tunes the anomaly detector.
type DetectionConfig struct {
	ZScoreThreshold float64       `yaml:"zscoreThreshold"`
	TrendDeviation  float64       `yaml:"trendDeviation"`
	AnomalyCutoff   float64       `yaml:"anomalyCutoff"`
	MinSamples      int           `yaml:"minSamples"`
	Window          time.Duration `yaml:"window"`
}

// PredictionConfig tunes the error predictor and forecaster.
type PredictionConfig struct {
	AlertThreshold    float64       `yaml:"alertThreshold"`
	CriticalThreshold float64       `yaml:"criticalThreshold"`
	Lookback          time.Duration `yaml:"lookback"`
	ForecastSteps     int           `yaml:"forecastSteps"`
	SmoothingAlpha    float64       `yaml:"smoothingAlpha"`
}

// SchedulerConfig drives the periodic batch sweep.
type SchedulerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	DedupWindow time.Duration `yaml:"dedupWindow"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_HEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects threshold combinations the pipeline cannot honour.
func (c *Config) Validate() error {
	if c.Detection.ZScoreThreshold <= 0 {
		return fmt.Errorf("detection.zscoreThreshold must be positive, got %v", c.Detection.ZScoreThreshold)
	}
	if c.Detection.AnomalyCutoff < 0 || c.Detection.AnomalyCutoff > 1 {
		return fmt.Errorf("detection.anomalyCutoff must be within [0,1], got %v", c.Detection.AnomalyCutoff)
	}
	if c.Prediction.AlertThreshold <= 0 || c.Prediction.AlertThreshold > 1 {
		return fmt.Errorf("prediction.alertThreshold must be within (0,1], got %v", c.Prediction.AlertThreshold)
	}
	if c.Prediction.CriticalThreshold < c.Prediction.AlertThreshold {
		return fmt.Errorf("prediction.criticalThreshold must not be below alertThreshold")
	}
	if c.Prediction.SmoothingAlpha <= 0 || c.Prediction.SmoothingAlpha >= 1 {
		return fmt.Errorf("prediction.smoothingAlpha must be within (0,1), got %v", c.Prediction.SmoothingAlpha)
	}
	if c.Recovery.StrategyTimeout <= 0 {
		return fmt.Errorf("recovery.strategyTimeout must be positive")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			MaxConns:      25,
			MinConns:      5,
			ConnLifetime:  time.Hour,
			RetentionDays: 30,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Alerting: AlertingConfig{
			AlertsPath:     "/api/v1/alerts",
			AutomationPath: "/api/v1/automation",
			Timeout:        5 * time.Second,
			SuppressionTTL: 15 * time.Minute,
		},
		Classify: ClassifyConfig{},
		Recovery: RecoveryConfig{
			StrategyTimeout: 10 * time.Second,
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			EscalationAfter: 30 * time.Minute,
		},
		Detection: DetectionConfig{
			ZScoreThreshold: 2.5,
			TrendDeviation:  0.5,
			AnomalyCutoff:   0.5,
			MinSamples:      10,
			Window:          30 * time.Minute,
		},
		Prediction: PredictionConfig{
			AlertThreshold:    0.70,
			CriticalThreshold: 0.90,
			Lookback:          4 * time.Hour,
			ForecastSteps:     12,
			SmoothingAlpha:    0.3,
		},
		Scheduler: SchedulerConfig{
			Interval:    5 * time.Minute,
			DedupWindow: 30 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_HEAL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_HEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_HEAL_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("MIRADOR_HEAL_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Storage.RetentionDays = days
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_GATEWAY_URL"); v != "" {
		cfg.Alerting.GatewayURL = v
	}
	if v := os.Getenv("MIRADOR_HEAL_SUPPRESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerting.SuppressionTTL = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_CLASSIFY_MAPPING"); v != "" {
		cfg.Classify.MappingPath = v
	}
	if v := os.Getenv("MIRADOR_HEAL_STRATEGY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Recovery.StrategyTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_ZSCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.ZScoreThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Prediction.AlertThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.DedupWindow = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_HEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
}
