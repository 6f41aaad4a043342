package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"api_key_env" validate:"required"`
	Model       string `yaml:"model" validate:"required"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=1"`
	BatchSize   int    `yaml:"batch_size" validate:"gte=1,lte=2048"`
	Dimensions  int    `yaml:"dimensions" validate:"gte=0"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type" validate:"oneof=tfidf openai"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// OpenAIGeneratorConfig holds configuration for the chat completion generator.
type OpenAIGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string  `yaml:"api_key_env" validate:"required"`
	Model       string  `yaml:"model" validate:"required"`
	TimeoutSecs int     `yaml:"timeout_secs" validate:"gte=1"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// GeneratorConfig selects the generative provider used by the optimizer.
type GeneratorConfig struct {
	Type   string                 `yaml:"type" validate:"oneof=openai"`
	OpenAI *OpenAIGeneratorConfig `yaml:"openai,omitempty" validate:"required"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type" validate:"oneof=heading sentence"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk" validate:"gte=1"`
	OverlapSentences  int    `yaml:"overlap_sentences" validate:"gte=0,ltfield=SentencesPerChunk"`
	MaxWords          int    `yaml:"max_words" validate:"gte=0"`
}

// PipelineConfig holds the optimizer's batching, deadline and retry knobs.
type PipelineConfig struct {
	BriefBatchSize    int `yaml:"brief_batch_size" validate:"gte=1"`
	BriefBatchDelayMS int `yaml:"brief_batch_delay_ms" validate:"gte=0"`
	StageTimeoutSecs  int `yaml:"stage_timeout_secs" validate:"gte=1"`
	MaxRetries        int `yaml:"max_retries" validate:"gte=0,lte=10"`
}

// BriefBatchDelay is the pause between brief batches.
func (p PipelineConfig) BriefBatchDelay() time.Duration {
	return time.Duration(p.BriefBatchDelayMS) * time.Millisecond
}

// StageTimeout is the deadline of each pipeline stage.
func (p PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSecs) * time.Second
}

// AssignmentConfig controls how queries are given to chunks.
type AssignmentConfig struct {
	// MinCosine leaves a query without a chunk when its best match is weaker.
	MinCosine float64 `yaml:"min_cosine" validate:"gte=-1,lte=1"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `yaml:"development"`
	// File receives log output while the terminal view owns the screen.
	File string `yaml:"file"`
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Assignment AssignmentConfig `yaml:"assignment"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

var validate = validator.New()

// Validate checks every section against its constraints.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	// fields where zero is a valid setting are seeded before decoding so an explicit
	// zero in the file survives applyConfigDefaults
	cfg := AppConfig{
		Pipeline:   PipelineConfig{BriefBatchDelayMS: defaultBriefBatchDelayMS, MaxRetries: defaultMaxRetries},
		Assignment: AssignmentConfig{MinCosine: defaultMinCosine},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/chunkdaddy/config.yaml.
// If neither exists, it writes defaults to ~/.config/chunkdaddy/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "chunkdaddy", "config.yaml"), nil
}

const (
	defaultBriefBatchDelayMS = 1000
	defaultMaxRetries        = 3
	defaultMinCosine         = 0.3
)

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:   EmbedderConfig{Type: "openai"},
		Generator:  GeneratorConfig{Type: "openai"},
		Chunker:    ChunkerConfig{Type: "heading"},
		Pipeline:   PipelineConfig{BriefBatchDelayMS: defaultBriefBatchDelayMS, MaxRetries: defaultMaxRetries},
		Assignment: AssignmentConfig{MinCosine: defaultMinCosine},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		e := cfg.Embedder.OpenAI
		if e.BaseURL == "" {
			e.BaseURL = "https://api.openai.com/v1"
		}
		if e.APIKeyEnv == "" {
			e.APIKeyEnv = "OPENAI_API_KEY"
		}
		if e.Model == "" {
			e.Model = "text-embedding-3-large"
		}
		if e.TimeoutSecs == 0 {
			e.TimeoutSecs = 30
		}
		if e.BatchSize == 0 {
			e.BatchSize = 32
		}
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "openai"
	}
	if cfg.Generator.OpenAI == nil {
		cfg.Generator.OpenAI = &OpenAIGeneratorConfig{}
	}
	g := cfg.Generator.OpenAI
	if g.BaseURL == "" {
		g.BaseURL = "https://api.openai.com/v1"
	}
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = "OPENAI_API_KEY"
	}
	if g.Model == "" {
		g.Model = "gpt-4o-mini"
	}
	if g.TimeoutSecs == 0 {
		g.TimeoutSecs = 120
	}

	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "heading"
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Chunker.MaxWords == 0 {
		cfg.Chunker.MaxWords = 300
	}

	if cfg.Pipeline.BriefBatchSize == 0 {
		cfg.Pipeline.BriefBatchSize = 5
	}
	if cfg.Pipeline.StageTimeoutSecs == 0 {
		cfg.Pipeline.StageTimeoutSecs = 120
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9464"
	}
}
