package config

import (
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. Every pipeline
// threshold lives here; stages receive a Config, never read globals.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	FRN    FRNConfig    `yaml:"frn" mapstructure:"frn"`
	Dedupe DedupeConfig `yaml:"dedupe" mapstructure:"dedupe"`
	Audit  AuditConfig  `yaml:"audit" mapstructure:"audit"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IngestConfig configures raw-record validation.
type IngestConfig struct {
	MaxRatePercent     float64 `yaml:"max_rate_percent" mapstructure:"max_rate_percent"`
	CorruptionMaxRatio float64 `yaml:"corruption_max_ratio" mapstructure:"corruption_max_ratio"`
}

// FRNConfig configures institution-name resolution.
type FRNConfig struct {
	RegistryPath        string  `yaml:"registry_path" mapstructure:"registry_path"`
	FuzzyThreshold      float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	AutoAssignThreshold float64 `yaml:"auto_assign_threshold" mapstructure:"auto_assign_threshold"`
	MaxCandidates       int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	Workers             int     `yaml:"workers" mapstructure:"workers"`
}

// DedupeConfig configures business keys, quality scoring and selection.
type DedupeConfig struct {
	BusinessKeyFields  []string           `yaml:"business_key_fields" mapstructure:"business_key_fields"`
	QualityWeights     map[string]float64 `yaml:"quality_weights" mapstructure:"quality_weights"`
	PolicyOrder        []string           `yaml:"policy_order" mapstructure:"policy_order"`
	FSCSLimit          float64            `yaml:"fscs_limit" mapstructure:"fscs_limit"`
	PreferredPlatforms []string           `yaml:"preferred_platforms" mapstructure:"preferred_platforms"`
	FreshnessHalfLife  time.Duration      `yaml:"freshness_half_life" mapstructure:"freshness_half_life"`
}

// AuditConfig configures audit-trail validation.
type AuditConfig struct {
	TimingToleranceMS int64   `yaml:"timing_tolerance_ms" mapstructure:"timing_tolerance_ms"`
	HighConfidence    float64 `yaml:"high_confidence" mapstructure:"high_confidence"`
}

// ServerConfig configures the read-only HTTP surface.
type ServerConfig struct {
	Port      int           `yaml:"port" mapstructure:"port"`
	ConfigTTL time.Duration `yaml:"config_ttl" mapstructure:"config_ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEPOSITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "deposits.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.config_ttl", "1m")
	v.SetDefault("ingest.max_rate_percent", 20.0)
	v.SetDefault("ingest.corruption_max_ratio", 0.5)
	v.SetDefault("frn.registry_path", "frn_registry.yaml")
	v.SetDefault("frn.fuzzy_threshold", 0.8)
	v.SetDefault("frn.auto_assign_threshold", 0.85)
	v.SetDefault("frn.max_candidates", 5)
	v.SetDefault("frn.workers", 4)
	v.SetDefault("dedupe.business_key_fields", []string{"bank_name", "account_type", "aer_rate"})
	v.SetDefault("dedupe.quality_weights", map[string]float64{
		"rate_competitiveness": 0.5,
		"balance_fit":          0.3,
		"freshness":            0.2,
	})
	v.SetDefault("dedupe.policy_order", []string{"fscs_bank_separation", "platform_separation"})
	v.SetDefault("dedupe.fscs_limit", 85000.0)
	v.SetDefault("dedupe.freshness_half_life", "168h")
	v.SetDefault("audit.timing_tolerance_ms", 100)
	v.SetDefault("audit.high_confidence", 0.9)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that thresholds and weights are internally consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.FRN.FuzzyThreshold < 0 || c.FRN.FuzzyThreshold > 1 {
		errs = append(errs, "frn.fuzzy_threshold must be in [0,1]")
	}
	if c.FRN.AutoAssignThreshold < 0 || c.FRN.AutoAssignThreshold > 1 {
		errs = append(errs, "frn.auto_assign_threshold must be in [0,1]")
	}
	if c.Ingest.MaxRatePercent <= 0 {
		errs = append(errs, "ingest.max_rate_percent must be > 0")
	}
	if c.Ingest.CorruptionMaxRatio < 0 || c.Ingest.CorruptionMaxRatio > 1 {
		errs = append(errs, "ingest.corruption_max_ratio must be in [0,1]")
	}
	if len(c.Dedupe.BusinessKeyFields) == 0 {
		errs = append(errs, "dedupe.business_key_fields must not be empty")
	}

	var sum float64
	for name, w := range c.Dedupe.QualityWeights {
		if w < 0 {
			errs = append(errs, "dedupe.quality_weights."+name+" must be >= 0")
		}
		sum += w
	}
	if sum < 0.99 || sum > 1.01 {
		errs = append(errs, "dedupe.quality_weights must sum to 1.0")
	}

	for _, p := range c.Dedupe.PolicyOrder {
		if p != "fscs_bank_separation" && p != "platform_separation" {
			errs = append(errs, "dedupe.policy_order: unknown policy "+p)
		}
	}
	if c.Dedupe.FSCSLimit <= 0 {
		errs = append(errs, "dedupe.fscs_limit must be > 0")
	}
	if c.Audit.TimingToleranceMS < 0 {
		errs = append(errs, "audit.timing_tolerance_ms must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Snapshot caches a loaded Config with an explicit TTL. Invalidate forces
// the next Get to reload; there is no ambient global configuration state.
type Snapshot struct {
	mu       sync.Mutex
	ttl      time.Duration
	loadedAt time.Time
	cfg      *Config
	load     func() (*Config, error)
}

// NewSnapshot creates a config cache backed by the given loader.
func NewSnapshot(ttl time.Duration, load func() (*Config, error)) *Snapshot {
	if load == nil {
		load = Load
	}
	return &Snapshot{ttl: ttl, load: load}
}

// Get returns the cached config, reloading if the TTL has expired.
func (s *Snapshot) Get() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg != nil && time.Since(s.loadedAt) < s.ttl {
		return s.cfg, nil
	}

	cfg, err := s.load()
	if err != nil {
		if s.cfg != nil {
			// Keep serving the last good config on reload failure.
			return s.cfg, nil
		}
		return nil, err
	}
	s.cfg = cfg
	s.loadedAt = time.Now()
	return s.cfg, nil
}

// Invalidate drops the cached config so the next Get reloads.
func (s *Snapshot) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = nil
}
