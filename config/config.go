package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the job execution engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Admin     AdminConfig     `mapstructure:"admin"`
	JobEngine JobEngineConfig `mapstructure:"job_engine"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains process-wide settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// AdminConfig controls the read-only operator status endpoint
// (cmd/admin): liveness and per-job inspection, the only HTTP surface this
// repository owns (the full REST façade is out of scope, spec.md §1).
type AdminConfig struct {
	Address string `mapstructure:"address"`
}

// RescueConfig holds the Rescue Sweeper's threshold knobs (spec.md §4.5,
// §6).
type RescueConfig struct {
	StartSeconds     int `mapstructure:"start_seconds"`
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
	GraceSeconds     int `mapstructure:"grace_seconds"`
}

// FeaturesConfig toggles optional pipeline behavior.
type FeaturesConfig struct {
	LongformEnabled bool `mapstructure:"longform_enabled"`
}

// IterationConfig bounds the planner-expansion loop (spec.md §6).
type IterationConfig struct {
	MaxIterations int   `mapstructure:"max_iterations"`
	TokenBudget   int64 `mapstructure:"token_budget"`
}

// JobEngineConfig carries every option spec.md §6 names for the Pipeline
// Executor, Claimer, and Rescue Sweeper.
type JobEngineConfig struct {
	MaxConcurrent     int              `mapstructure:"max_concurrent"`
	MaxSteps          int              `mapstructure:"max_steps"`
	MaxJobSeconds     int64            `mapstructure:"max_job_seconds"`
	MaxLLMTokens      int              `mapstructure:"max_llm_tokens"`
	MaxContext        int              `mapstructure:"max_context"`
	MaxNotesForSynth  int              `mapstructure:"max_notes_for_synth"`
	WarmNotesLimit    int              `mapstructure:"warm_notes_limit"`
	WarmImportanceMin int              `mapstructure:"warm_importance_min"`
	TickInterval      time.Duration    `mapstructure:"tick_interval"`
	Rescue            RescueConfig     `mapstructure:"rescue"`
	Features          FeaturesConfig   `mapstructure:"features"`
	Iteration         IterationConfig  `mapstructure:"iteration"`
}

// Validate applies cross-field sanity checks the scheduler relies on.
func (c JobEngineConfig) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("job_engine.max_concurrent must be > 0")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("job_engine.max_steps must be > 0")
	}
	if c.Rescue.HeartbeatSeconds <= 0 {
		return fmt.Errorf("job_engine.rescue.heartbeat_seconds must be > 0")
	}
	if c.Rescue.StartSeconds <= 0 {
		return fmt.Errorf("job_engine.rescue.start_seconds must be > 0")
	}
	return nil
}

// SynthesisBudget returns the token ceiling the Context Packer must pack
// notes under: llm_max_context minus a reserved margin and the model's own
// max output tokens (spec.md §4.1 Synthesize phase).
func (c JobEngineConfig) SynthesisBudget() int {
	budget := c.MaxContext - 2000 - c.MaxLLMTokens
	if budget < 0 {
		return 0
	}
	return budget
}

// LLMConfig contains the language-model and embedding provider settings.
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	ChatModel      string        `mapstructure:"chat_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float32       `mapstructure:"temperature"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// GatewayConfig contains the Tool Gateway's external-adapter settings
// (spec.md §4.4, §6: search workflow, fetch workflow).
type GatewayConfig struct {
	Search SearchConfig `mapstructure:"search"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
}

// SearchConfig configures the search adapter priority list.
type SearchConfig struct {
	SerperAPIKey     string        `mapstructure:"serper_api_key"`
	BraveAPIKey      string        `mapstructure:"brave_api_key"`
	SearxngURL       string        `mapstructure:"searxng_url"`
	DefaultOrder     []string      `mapstructure:"default_order"`
	ResultsPerHit    int           `mapstructure:"results_per_hit"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimitPerMin  int           `mapstructure:"rate_limit_per_min"`
}

// FetchConfig configures the fetch adapter and its direct-HTTP fallback.
type FetchConfig struct {
	ChromedpEnabled bool          `mapstructure:"chromedp_enabled"`
	TimeoutMS       int           `mapstructure:"timeout_ms"`
	MaxChars        int           `mapstructure:"max_chars"`
	UserAgent       string        `mapstructure:"user_agent"`
	DirectTimeout   time.Duration `mapstructure:"direct_timeout"`
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	LogFile      string `mapstructure:"log_file"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Vector   VectorConfig   `mapstructure:"vector"`
}

// PostgresConfig contains Postgres connection settings for the Durable
// Store.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a libpq connection string from discrete fields when URL is
// unset.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig backs the optional job.rescued event publication
// (internal/queue/streams) and the search gateway's shared rate limiter.
// Job claiming does not use Redis; it relies on the SQL claim alone.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Enabled  bool          `mapstructure:"enabled"`
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required when enabled")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when enabled")
	}
	return nil
}

// ArtifactConfig configures the blob sink for raw fetched documents and
// rendered report files (spec.md §6).
type ArtifactConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	SignedURLTTL    time.Duration `mapstructure:"signed_url_ttl"`
}

func (s ArtifactConfig) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" && strings.TrimSpace(s.Bucket) == "" {
		return nil
	}
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("storage.artifact.bucket required when endpoint is provided")
	}
	return nil
}

// VectorConfig configures the warm-note archive retrieval collaborator
// (spec.md §6's VectorStore interface).
type VectorConfig struct {
	IndexPath  string `mapstructure:"index_path"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LoadConfig loads config from file, applying engine defaults and
// ENGINE_-prefixed environment overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("admin.address", ":8090")
	viper.SetDefault("job_engine.max_concurrent", 4)
	viper.SetDefault("job_engine.max_steps", 6)
	viper.SetDefault("job_engine.max_job_seconds", 1800)
	viper.SetDefault("job_engine.max_llm_tokens", 4096)
	viper.SetDefault("job_engine.max_context", 128000)
	viper.SetDefault("job_engine.max_notes_for_synth", 60)
	viper.SetDefault("job_engine.warm_notes_limit", 8)
	viper.SetDefault("job_engine.warm_importance_min", 3)
	viper.SetDefault("job_engine.tick_interval", "2s")
	viper.SetDefault("job_engine.rescue.start_seconds", 120)
	viper.SetDefault("job_engine.rescue.heartbeat_seconds", 60)
	viper.SetDefault("job_engine.rescue.grace_seconds", 30)
	viper.SetDefault("job_engine.features.longform_enabled", true)
	viper.SetDefault("job_engine.iteration.max_iterations", 2)
	viper.SetDefault("job_engine.iteration.token_budget", 20000)
	viper.SetDefault("llm.chat_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_retries", 4)
	viper.SetDefault("llm.timeout", "90s")
	viper.SetDefault("gateway.search.default_order", []string{"searxng", "serper", "brave"})
	viper.SetDefault("gateway.search.results_per_hit", 5)
	viper.SetDefault("gateway.search.timeout", "15s")
	viper.SetDefault("gateway.search.rate_limit_per_min", 30)
	viper.SetDefault("gateway.fetch.chromedp_enabled", true)
	viper.SetDefault("gateway.fetch.timeout_ms", 15000)
	viper.SetDefault("gateway.fetch.max_chars", 20000)
	viper.SetDefault("gateway.fetch.user_agent", "deep-research-engine/1.0")
	viper.SetDefault("gateway.fetch.direct_timeout", "10s")
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.metrics_port", 9100)
	viper.SetDefault("storage.vector.index_path", "./data/warmnotes.bleve")
	viper.SetDefault("storage.vector.dimensions", 1536)
	viper.SetDefault("storage.artifact.signed_url_ttl", "15m")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ENGINE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.JobEngine.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Artifact.Validate(); err != nil {
		panic(err)
	}
	return &config
}
