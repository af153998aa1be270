package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded once at
// process start and passed by pointer to constructors; components never read
// viper or the environment themselves.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Serper     SerperConfig     `yaml:"serper" mapstructure:"serper"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Screening  ScreeningConfig  `yaml:"screening" mapstructure:"screening"`
	Sanctions  SanctionsConfig  `yaml:"sanctions" mapstructure:"sanctions"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the pipeline record store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlobConfig configures where merged snapshots are written.
type BlobConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // "s3" or "file"
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
}

// SearchConfig configures query fan-out.
type SearchConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // "serper" or "jina"
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	QueryTimeoutSecs  int     `yaml:"query_timeout_secs" mapstructure:"query_timeout_secs"`
	ResultsPerQuery   int     `yaml:"results_per_query" mapstructure:"results_per_query"`
	RecencyDays       int     `yaml:"recency_days" mapstructure:"recency_days"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CacheTTLHours     int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// SerperConfig holds Serper API settings.
type SerperConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// RedisConfig enables the search result cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ClassifierConfig configures AI classification of candidates.
type ClassifierConfig struct {
	BatchSize          int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxBatchChars      int           `yaml:"max_batch_chars" mapstructure:"max_batch_chars"`
	MaxReparseAttempts int           `yaml:"max_reparse_attempts" mapstructure:"max_reparse_attempts"`
	MinConfidence      float64       `yaml:"min_confidence" mapstructure:"min_confidence"`
	Concurrency        int           `yaml:"concurrency" mapstructure:"concurrency"`
	Buckets            BucketsConfig `yaml:"buckets" mapstructure:"buckets"`
}

// BucketsConfig maps a watchlist confidence score to High/Medium/Low.
type BucketsConfig struct {
	High   float64 `yaml:"high" mapstructure:"high"`
	Medium float64 `yaml:"medium" mapstructure:"medium"`
}

// ScreeningConfig configures adverse-media planning and pre-filtering.
type ScreeningConfig struct {
	CategoriesFile    string          `yaml:"categories_file" mapstructure:"categories_file"`
	JurisdictionsFile string          `yaml:"jurisdictions_file" mapstructure:"jurisdictions_file"`
	PreFilter         PreFilterConfig `yaml:"prefilter" mapstructure:"prefilter"`
}

// PreFilterConfig tunes the keyword pre-filter.
type PreFilterConfig struct {
	MinKeywordHits    int  `yaml:"min_keyword_hits" mapstructure:"min_keyword_hits"`
	RequireEntityName bool `yaml:"require_entity_name" mapstructure:"require_entity_name"`
}

// SanctionsConfig configures watchlist screening.
type SanctionsConfig struct {
	SourcesFile      string `yaml:"sources_file" mapstructure:"sources_file"`
	ResultsPerSource int    `yaml:"results_per_source" mapstructure:"results_per_source"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxExecutives    int    `yaml:"max_executives" mapstructure:"max_executives"`
}

// ExtractConfig configures company profile and executive extraction.
type ExtractConfig struct {
	TargetCompleteness float64 `yaml:"target_completeness" mapstructure:"target_completeness"`
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxContextChars    int     `yaml:"max_context_chars" mapstructure:"max_context_chars"`
}

// PipelineConfig holds per-stage timeouts.
type PipelineConfig struct {
	CriticalTimeoutSecs     int `yaml:"critical_timeout_secs" mapstructure:"critical_timeout_secs"`
	ExecutivesTimeoutSecs   int `yaml:"executives_timeout_secs" mapstructure:"executives_timeout_secs"`
	AdverseMediaTimeoutSecs int `yaml:"adverse_media_timeout_secs" mapstructure:"adverse_media_timeout_secs"`
	SanctionsTimeoutSecs    int `yaml:"sanctions_timeout_secs" mapstructure:"sanctions_timeout_secs"`
	MergeTimeoutSecs        int `yaml:"merge_timeout_secs" mapstructure:"merge_timeout_secs"`
}

// RetryConfig is the per-call retry policy for external services.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Multiplier  float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter      float64 `yaml:"jitter" mapstructure:"jitter"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Serper    QueryPricing            `yaml:"serper" mapstructure:"serper"`
	Jina      QueryPricing            `yaml:"jina" mapstructure:"jina"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// QueryPricing is a flat per-query price.
type QueryPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health alerts raised by the server.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
	CostThresholdUSD      float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig configures prometheus metric names.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCREENING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	// Secrets default to empty so AutomaticEnv can still bind them.
	for _, key := range []string{"serper.key", "jina.key", "anthropic.key", "anthropic.base_url", "redis.addr", "redis.password", "blob.bucket", "blob.endpoint", "blob.prefix"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "screening.db")
	v.SetDefault("blob.driver", "file")
	v.SetDefault("blob.dir", "data")
	v.SetDefault("blob.region", "us-east-1")
	v.SetDefault("search.provider", "serper")
	v.SetDefault("search.concurrency", 5)
	v.SetDefault("search.query_timeout_secs", 10)
	v.SetDefault("search.results_per_query", 20)
	v.SetDefault("search.recency_days", 365)
	v.SetDefault("search.requests_per_second", 5.0)
	v.SetDefault("search.cache_ttl_hours", 24)
	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("classifier.batch_size", 10)
	v.SetDefault("classifier.max_batch_chars", 24000)
	v.SetDefault("classifier.max_reparse_attempts", 2)
	v.SetDefault("classifier.min_confidence", 0.7)
	v.SetDefault("classifier.concurrency", 3)
	v.SetDefault("classifier.buckets.high", 0.8)
	v.SetDefault("classifier.buckets.medium", 0.5)
	v.SetDefault("screening.prefilter.min_keyword_hits", 2)
	v.SetDefault("screening.prefilter.require_entity_name", false)
	v.SetDefault("sanctions.results_per_source", 5)
	v.SetDefault("sanctions.concurrency", 3)
	v.SetDefault("sanctions.max_executives", 10)
	v.SetDefault("extract.target_completeness", 95.0)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.max_context_chars", 30000)
	v.SetDefault("pipeline.critical_timeout_secs", 180)
	v.SetDefault("pipeline.executives_timeout_secs", 180)
	v.SetDefault("pipeline.adverse_media_timeout_secs", 300)
	v.SetDefault("pipeline.sanctions_timeout_secs", 300)
	v.SetDefault("pipeline.merge_timeout_secs", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)
	v.SetDefault("pricing.serper.per_query", 0.001)
	v.SetDefault("pricing.jina.per_query", 0.0005)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.namespace", "screening")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.degraded_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Blob.Driver {
	case "file", "s3":
	default:
		return eris.Errorf("config: unknown blob driver %q", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && c.Blob.Bucket == "" {
		return eris.New("config: blob.bucket is required for the s3 driver")
	}
	switch c.Search.Provider {
	case "serper", "jina":
	default:
		return eris.Errorf("config: unknown search provider %q", c.Search.Provider)
	}
	if c.Search.Concurrency <= 0 {
		return eris.New("config: search.concurrency must be positive")
	}
	if c.Classifier.BatchSize <= 0 {
		return eris.New("config: classifier.batch_size must be positive")
	}
	if c.Screening.PreFilter.MinKeywordHits < 0 {
		return eris.New("config: screening.prefilter.min_keyword_hits must not be negative")
	}
	b := c.Classifier.Buckets
	if b.Medium < 0 || b.High > 1 || b.Medium > b.High {
		return eris.Errorf("config: classifier buckets must satisfy 0 <= medium <= high <= 1 (got medium=%v high=%v)", b.Medium, b.High)
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return eris.New("config: classifier.min_confidence must be within [0,1]")
	}
	return nil
}

// ValidateFor checks the credentials a command mode needs and reports every
// missing value at once.
func (c *Config) ValidateFor(mode string) error {
	var missing []string
	switch mode {
	case "run", "serve":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		switch c.Search.Provider {
		case "serper":
			if c.Serper.Key == "" {
				missing = append(missing, "serper.key is required")
			}
		case "jina":
			if c.Jina.Key == "" {
				missing = append(missing, "jina.key is required")
			}
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			missing = append(missing, "server.port must be between 1 and 65535")
		}
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
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
