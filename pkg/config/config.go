// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. Option names follow the on-disk
// contract exactly (max_number_results, overlapping_layers, ...).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/strata-search/strata/pkg/errors"
)

// MaxListLayers is the largest number of layers a single inverted list may
// be split into.
const MaxListLayers = 8

// Config is the top-level application configuration.
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Query   QueryConfig   `yaml:"query"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// IndexConfig controls how an index is opened and, for the layer generator,
// how a layered index is produced.
type IndexConfig struct {
	OverlappingLayers   bool   `yaml:"overlapping_layers"`
	NumLayers           int    `yaml:"num_layers"`
	UsePositions        bool   `yaml:"use_positions"`
	MemoryResidentIndex bool   `yaml:"memory_resident_index"`
	MemoryMappedIndex   bool   `yaml:"memory_mapped_index"`
	BlockCacheBytes     int64  `yaml:"block_cache_bytes"`
	ReadAheadBlocks     int    `yaml:"read_ahead_blocks"`
	LexiconHashSize     int    `yaml:"lexicon_hash_size"`
	LayerSplitStrategy  string `yaml:"layer_split_strategy"`
}

// QueryConfig controls query execution.
type QueryConfig struct {
	MaxNumberResults int           `yaml:"max_number_results"`
	Timeout          time.Duration `yaml:"timeout"`
	StopWordsFile    string        `yaml:"stop_words_file"`
}

// RedisConfig holds the optional query-result cache settings.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// KafkaConfig holds the optional query-analytics event producer settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus scrape server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			NumLayers:          1,
			BlockCacheBytes:    256 << 20,
			ReadAheadBlocks:    16,
			LexiconHashSize:    1 << 16,
			LayerSplitStrategy: "percentage-fixed-bounded",
		},
		Query: QueryConfig{
			MaxNumberResults: 10,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "query-events",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Port: 9090},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrConfig, "reading config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Newf(apperrors.ErrConfig, "parsing config file %s: %v", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Index.MemoryResidentIndex && c.Index.MemoryMappedIndex {
		return apperrors.New(apperrors.ErrConfig,
			"memory_resident_index and memory_mapped_index are mutually exclusive")
	}
	if c.Index.NumLayers < 1 || c.Index.NumLayers > MaxListLayers {
		return apperrors.Newf(apperrors.ErrConfig,
			"num_layers must be in [1, %d], got %d", MaxListLayers, c.Index.NumLayers)
	}
	if c.Query.MaxNumberResults <= 0 {
		return apperrors.Newf(apperrors.ErrConfig,
			"max_number_results must be positive, got %d", c.Query.MaxNumberResults)
	}
	if c.Index.ReadAheadBlocks < 0 {
		return apperrors.New(apperrors.ErrConfig, "read_ahead_blocks must be non-negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STRATA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("STRATA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = []string{v}
	}
	if v := os.Getenv("STRATA_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Query.MaxNumberResults = n
		}
	}
}

// String renders the effective querying parameters for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("k=%d layers=%d overlapping=%t positions=%t resident=%t mmap=%t",
		c.Query.MaxNumberResults, c.Index.NumLayers, c.Index.OverlappingLayers,
		c.Index.UsePositions, c.Index.MemoryResidentIndex, c.Index.MemoryMappedIndex)
}
