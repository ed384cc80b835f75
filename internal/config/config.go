package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/significance"
	"github.com/sells-group/geolift/internal/similarity"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Provider     ProviderConfig     `yaml:"provider" mapstructure:"provider"`
	Engine       EngineConfig       `yaml:"engine" mapstructure:"engine"`
	Significance SignificanceConfig `yaml:"significance" mapstructure:"significance"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig configures the region provider chain placed in front of
// the store.
type ProviderConfig struct {
	// Fallbacks are JSON region files consulted, in order, after the store.
	Fallbacks []string `yaml:"fallbacks" mapstructure:"fallbacks"`
	// OverlayPath is a JSON region file whose profiles are laid over the
	// base profile of every fetched region.
	OverlayPath      string `yaml:"overlay_path" mapstructure:"overlay_path"`
	RetryAttempts    int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	CandidatePoolMax int    `yaml:"candidate_pool_max" mapstructure:"candidate_pool_max"`
}

// EngineConfig configures similarity scoring and ranking defaults.
type EngineConfig struct {
	Metric          string  `yaml:"metric" mapstructure:"metric"`
	MinSimilarity   float64 `yaml:"min_similarity" mapstructure:"min_similarity"`
	MaxResults      int     `yaml:"max_results" mapstructure:"max_results"`
	ExcludeWithinKM float64 `yaml:"exclude_within_km" mapstructure:"exclude_within_km"`
	Workers         int     `yaml:"workers" mapstructure:"workers"`
	SchemaPath      string  `yaml:"schema_path" mapstructure:"schema_path"`
	MarketType      string  `yaml:"market_type" mapstructure:"market_type"`
}

// SignificanceConfig holds the default test-design parameters.
type SignificanceConfig struct {
	ExpectedLift float64 `yaml:"expected_lift" mapstructure:"expected_lift"`
	Alpha        float64 `yaml:"alpha" mapstructure:"alpha"`
	Beta         float64 `yaml:"beta" mapstructure:"beta"`
	BaselineRate float64 `yaml:"baseline_rate" mapstructure:"baseline_rate"`
}

// Params converts the section to significance.Params.
func (s SignificanceConfig) Params() significance.Params {
	return significance.Params{
		ExpectedLift: s.ExpectedLift,
		Alpha:        s.Alpha,
		Beta:         s.Beta,
		BaselineRate: s.BaselineRate,
	}
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("GEOLIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "geolift.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("provider.fallbacks", []string{})
	v.SetDefault("provider.overlay_path", "")
	v.SetDefault("provider.retry_attempts", 3)
	v.SetDefault("provider.retry_backoff_ms", 100)
	v.SetDefault("provider.candidate_pool_max", 0)
	v.SetDefault("engine.metric", string(similarity.WeightedEuclidean))
	v.SetDefault("engine.min_similarity", similarity.DefaultMinSimilarity)
	v.SetDefault("engine.max_results", similarity.DefaultMaxResults)
	v.SetDefault("engine.exclude_within_km", 0)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.schema_path", "")
	v.SetDefault("engine.market_type", string(model.RegionTypeZIP))
	v.SetDefault("significance.expected_lift", 0.15)
	v.SetDefault("significance.alpha", 0.05)
	v.SetDefault("significance.beta", 0.2)
	v.SetDefault("significance.baseline_rate", 0.03)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.MinConns < 0 || c.Store.MaxConns < c.Store.MinConns {
		errs = append(errs, "store.max_conns must be >= store.min_conns >= 0")
	}

	if c.Provider.RetryAttempts < 0 || c.Provider.RetryBackoffMs < 0 || c.Provider.CandidatePoolMax < 0 {
		errs = append(errs, "provider retry and pool settings must be >= 0")
	}

	if _, err := similarity.ParseMetric(c.Engine.Metric); err != nil {
		errs = append(errs, fmt.Sprintf("engine.metric %q is not a known metric", c.Engine.Metric))
	}
	if c.Engine.MinSimilarity < 0 || c.Engine.MinSimilarity > 1 {
		errs = append(errs, "engine.min_similarity must be between 0 and 1")
	}
	if c.Engine.MaxResults < 1 {
		errs = append(errs, "engine.max_results must be > 0")
	}
	if c.Engine.ExcludeWithinKM < 0 {
		errs = append(errs, "engine.exclude_within_km must be >= 0")
	}
	if c.Engine.Workers < 1 || c.Engine.Workers > 64 {
		errs = append(errs, "engine.workers must be between 1 and 64")
	}
	if !model.RegionType(c.Engine.MarketType).Valid() {
		errs = append(errs, fmt.Sprintf("engine.market_type %q is not a region type", c.Engine.MarketType))
	}

	if err := c.Significance.Params().Validate(); err != nil {
		errs = append(errs, "significance: "+err.Error())
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be > 0 and <= 65535")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "server rate limits must be >= 0")
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("log.format must be json or console, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
