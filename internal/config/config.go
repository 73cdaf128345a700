// Package config handles configuration loading and validation for mirag.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete mirag configuration.
type Config struct {
	Vector     VectorConfig     `mapstructure:"vector"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Evaluator  EvaluatorConfig  `mapstructure:"evaluator"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
}

// VectorConfig configures the vector index the store is bound to.
type VectorConfig struct {
	Backend     string            `mapstructure:"backend"`
	Index       string            `mapstructure:"index"`
	Cloud       string            `mapstructure:"cloud"`
	Region      string            `mapstructure:"region"`
	EmbedModel  string            `mapstructure:"embed_model"`
	Dimension   int               `mapstructure:"dimension"`
	FieldMap    map[string]string `mapstructure:"field_map"`
	SettleDelay time.Duration     `mapstructure:"settle_delay"`
	Pinecone    PineconeConfig    `mapstructure:"pinecone"`
	SQLite      SQLiteConfig      `mapstructure:"sqlite"`
}

// PineconeConfig configures the managed Pinecone service.
type PineconeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Host   string `mapstructure:"host"`
}

// SQLiteConfig configures the local sqlite-vec backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// EmbeddingsConfig configures the text embedding service.
type EmbeddingsConfig struct {
	Provider string            `mapstructure:"provider"`
	Ollama   OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI   OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// EvaluatorConfig configures the language model that scores summaries.
type EvaluatorConfig struct {
	Provider   string           `mapstructure:"provider"`
	BasePrompt string           `mapstructure:"base_prompt"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	OpenAI     OpenAIEvalConfig `mapstructure:"openai"`
}

// GeminiConfig configures Gemini evaluation.
type GeminiConfig struct {
	APIKey string   `mapstructure:"api_key"`
	Models []string `mapstructure:"models"`
}

// OpenAIEvalConfig configures OpenAI evaluation.
type OpenAIEvalConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// SummarizerConfig configures the video-understanding service.
type SummarizerConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
}

// PipelineConfig configures the ingestion pipeline.
type PipelineConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	RateLimit time.Duration `mapstructure:"rate_limit"`
	ExportDir string        `mapstructure:"export_dir"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Vector: VectorConfig{
			Backend:     DefaultBackend,
			Index:       DefaultIndexName,
			Cloud:       DefaultCloud,
			Region:      DefaultRegion,
			EmbedModel:  DefaultEmbedModel,
			Dimension:   DefaultDimension,
			FieldMap:    DefaultFieldMap(),
			SettleDelay: DefaultSettleDelay,
			SQLite: SQLiteConfig{
				Path: DefaultDatabasePath(),
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider: DefaultEmbeddingProvider,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		Evaluator: EvaluatorConfig{
			Provider: DefaultEvaluatorProvider,
			Gemini: GeminiConfig{
				Models: DefaultGeminiModels(),
			},
			OpenAI: OpenAIEvalConfig{
				Model: DefaultOpenAIEvalModel,
			},
		},
		Summarizer: SummarizerConfig{
			BaseURL:      DefaultSummarizerURL,
			PollInterval: DefaultPollInterval,
			MaxWait:      DefaultMaxWait,
		},
		Pipeline: PipelineConfig{
			BatchSize: DefaultBatchSize,
			RateLimit: DefaultRateLimit,
			ExportDir: DefaultExportDir,
		},
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	// .env first so its values are visible to AutomaticEnv and the key fallbacks
	if err := LoadDotEnv(""); err != nil {
		log.Warn("Failed to load .env file", "error", err)
	}

	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("MIRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	if len(cfg.Vector.FieldMap) == 0 {
		cfg.Vector.FieldMap = DefaultFieldMap()
	}

	loadAPIKeysFromEnv()

	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	// Vector index
	viper.SetDefault("vector.backend", DefaultBackend)
	viper.SetDefault("vector.index", DefaultIndexName)
	viper.SetDefault("vector.cloud", DefaultCloud)
	viper.SetDefault("vector.region", DefaultRegion)
	viper.SetDefault("vector.embed_model", DefaultEmbedModel)
	viper.SetDefault("vector.dimension", DefaultDimension)
	viper.SetDefault("vector.field_map", DefaultFieldMap())
	viper.SetDefault("vector.settle_delay", DefaultSettleDelay)
	viper.SetDefault("vector.sqlite.path", DefaultDatabasePath())

	// Embeddings
	viper.SetDefault("embeddings.provider", DefaultEmbeddingProvider)
	viper.SetDefault("embeddings.ollama.url", DefaultOllamaURL)
	viper.SetDefault("embeddings.ollama.model", DefaultOllamaEmbedModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIEmbedModel)

	// Evaluator
	viper.SetDefault("evaluator.provider", DefaultEvaluatorProvider)
	viper.SetDefault("evaluator.gemini.models", DefaultGeminiModels())
	viper.SetDefault("evaluator.openai.model", DefaultOpenAIEvalModel)

	// Summarizer
	viper.SetDefault("summarizer.base_url", DefaultSummarizerURL)
	viper.SetDefault("summarizer.poll_interval", DefaultPollInterval)
	viper.SetDefault("summarizer.max_wait", DefaultMaxWait)

	// Pipeline
	viper.SetDefault("pipeline.batch_size", DefaultBatchSize)
	viper.SetDefault("pipeline.rate_limit", DefaultRateLimit)
	viper.SetDefault("pipeline.export_dir", DefaultExportDir)
}

// findRCFile searches for .miragrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".miragrc.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv fills credentials from the conventional provider variables
// when the config file and MIRAG_* variables left them empty.
func loadAPIKeysFromEnv() {
	fill := func(dst *string, name string) {
		if *dst == "" {
			*dst = os.Getenv(name)
		}
	}

	fill(&cfg.Vector.Pinecone.APIKey, "PINECONE_API_KEY")
	fill(&cfg.Embeddings.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&cfg.Evaluator.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&cfg.Evaluator.Gemini.APIKey, "GOOGLE_GEMINI_API_KEY")
	fill(&cfg.Evaluator.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&cfg.Summarizer.APIKey, "TWELVE_LABS_API_KEY")

	if url := os.Getenv("TWELVE_LABS_BASE_URL"); url != "" && !viper.IsSet("summarizer.base_url") {
		cfg.Summarizer.BaseURL = url
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
