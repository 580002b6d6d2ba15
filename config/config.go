package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the retrieval engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Expansion ExpansionConfig `mapstructure:"expansion"`
	Retriever RetrieverConfig `mapstructure:"retriever"`
	Rerank    RerankConfig    `mapstructure:"rerank"`
	Assembler AssemblerConfig `mapstructure:"assembler"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ChunkerConfig controls passage segmentation.
type ChunkerConfig struct {
	TargetSize int `mapstructure:"target_size"`
	Overlap    int `mapstructure:"overlap"`
	Tolerance  int `mapstructure:"tolerance"`
}

// Normalize applies chunking defaults: ~600 chars per passage, 150 overlap.
func (c ChunkerConfig) Normalize() ChunkerConfig {
	if c.TargetSize <= 0 {
		c.TargetSize = 600
	}
	if c.Overlap <= 0 {
		c.Overlap = 150
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 200
	}
	return c
}

func (c ChunkerConfig) Validate() error {
	if c.Overlap >= c.TargetSize {
		return fmt.Errorf("chunker.overlap must be smaller than chunker.target_size")
	}
	return nil
}

// EmbedderConfig controls the embedding provider client and query cache.
type EmbedderConfig struct {
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

func (e EmbedderConfig) Normalize() EmbedderConfig {
	if e.Model == "" {
		e.Model = "text-embedding-3-small"
	}
	if e.Dimensions <= 0 {
		e.Dimensions = 1536
	}
	if e.BatchSize <= 0 {
		e.BatchSize = 20
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = 3
	}
	if e.Timeout <= 0 {
		e.Timeout = 30 * time.Second
	}
	if e.CacheTTL <= 0 {
		e.CacheTTL = 5 * time.Minute
	}
	return e
}

// ExpansionConfig holds the immutable synonym lexicon used for query
// expansion. The lexicon is loaded once at startup and passed explicitly into
// the expander, never mutated afterwards.
type ExpansionConfig struct {
	Enabled  bool                `mapstructure:"enabled"`
	MaxTerms int                 `mapstructure:"max_terms"`
	Lexicon  map[string][]string `mapstructure:"lexicon"`
}

func (e ExpansionConfig) Normalize() ExpansionConfig {
	if e.MaxTerms <= 0 {
		e.MaxTerms = 3
	}
	return e
}

// RetrieverConfig controls hybrid retrieval fan-out and filtering.
type RetrieverConfig struct {
	TopNPerVariant int     `mapstructure:"top_n_per_variant"`
	Threshold      float64 `mapstructure:"threshold"`
}

func (r RetrieverConfig) Normalize() RetrieverConfig {
	if r.TopNPerVariant <= 0 {
		r.TopNPerVariant = 30
	}
	if r.Threshold <= 0 {
		r.Threshold = 0.65
	}
	return r
}

// RerankConfig controls MMR selection.
type RerankConfig struct {
	Lambda float64 `mapstructure:"lambda"`
	TopK   int     `mapstructure:"top_k"`
}

func (r RerankConfig) Normalize() RerankConfig {
	if r.Lambda <= 0 || r.Lambda > 1 {
		r.Lambda = 0.7
	}
	if r.TopK <= 0 {
		r.TopK = 5
	}
	return r
}

// AssemblerConfig controls composite scoring and token packing.
type AssemblerConfig struct {
	TokenBudget      int     `mapstructure:"token_budget"`
	RelevanceWeight  float64 `mapstructure:"relevance_weight"`
	ImportanceWeight float64 `mapstructure:"importance_weight"`
	ImportanceSignal string  `mapstructure:"importance_signal"`
}

func (a AssemblerConfig) Normalize() AssemblerConfig {
	if a.TokenBudget <= 0 {
		a.TokenBudget = 2000
	}
	if a.RelevanceWeight <= 0 {
		a.RelevanceWeight = 0.7
	}
	if a.ImportanceWeight <= 0 {
		a.ImportanceWeight = 0.3
	}
	if a.ImportanceSignal == "" {
		a.ImportanceSignal = "proximity"
	}
	return a
}

func (a AssemblerConfig) Validate() error {
	switch a.ImportanceSignal {
	case "proximity", "recency", "none":
		return nil
	}
	return fmt.Errorf("assembler.importance_signal must be proximity, recency or none")
}

// IngestConfig controls chapter ingestion parallelism.
type IngestConfig struct {
	ChapterParallelism int `mapstructure:"chapter_parallelism"`
}

func (i IngestConfig) Normalize() IngestConfig {
	if i.ChapterParallelism <= 0 {
		i.ChapterParallelism = 4
	}
	return i
}

// EvaluatorConfig controls the offline quality harness.
type EvaluatorConfig struct {
	SampleFile   string  `mapstructure:"sample_file"`
	BaselineFile string  `mapstructure:"baseline_file"`
	ReportDir    string  `mapstructure:"report_dir"`
	Tolerance    float64 `mapstructure:"tolerance"`
}

func (e EvaluatorConfig) Normalize() EvaluatorConfig {
	if e.Tolerance <= 0 {
		e.Tolerance = 0.05
	}
	if e.ReportDir == "" {
		e.ReportDir = "eval_reports"
	}
	return e
}

// StorageConfig contains storage and cache connection settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
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
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds the Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
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

// RedisConfig contains Redis connection settings for the query-embedding cache.
// The cache is optional: an empty host disables it.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

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

	viper.SetEnvPrefix("BOOKMIND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Chunker = config.Chunker.Normalize()
	config.Embedder = config.Embedder.Normalize()
	config.Expansion = config.Expansion.Normalize()
	config.Retriever = config.Retriever.Normalize()
	config.Rerank = config.Rerank.Normalize()
	config.Assembler = config.Assembler.Normalize()
	config.Ingest = config.Ingest.Normalize()
	config.Evaluator = config.Evaluator.Normalize()

	if err := config.Chunker.Validate(); err != nil {
		panic(err)
	}
	if err := config.Assembler.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
