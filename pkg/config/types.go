package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical
// grouping. Duration-valued keys are Go duration strings ("500ms", "24h").
type Config struct {
	Version    int              `toml:"version"`
	Stream     StreamConfig     `toml:"stream"`
	Journal    JournalConfig    `toml:"journal"`
	Active     ActiveConfig     `toml:"active"`
	Archive    ArchiveConfig    `toml:"archive"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Perplexity PerplexityConfig `toml:"perplexity"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Retention  RetentionConfig  `toml:"retention"`
	API        APIConfig        `toml:"api"`
	Client     ClientConfig     `toml:"client"`
}

// StreamConfig holds input stream settings.
type StreamConfig struct {
	Provider  string `toml:"provider,omitempty"`
	Brokers   string `toml:"brokers,omitempty"`
	Topic     string `toml:"topic,omitempty"`
	Partition int    `toml:"partition,omitempty"`
}

// BrokerList splits the comma-separated broker string.
func (s StreamConfig) BrokerList() []string {
	if s.Brokers == "" {
		return nil
	}
	parts := strings.Split(s.Brokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// JournalConfig holds retention journal settings.
type JournalConfig struct {
	Path string `toml:"path,omitempty"`
}

// ActiveConfig holds active store settings.
type ActiveConfig struct {
	Provider string `toml:"provider,omitempty"`
	Path     string `toml:"path,omitempty"`
	MaxAge   string `toml:"max_age,omitempty"`
	MaxCount int    `toml:"max_count,omitempty"`
}

// ArchiveConfig holds archival tier settings. Target is a file path for the
// sqlite provider and a DSN for postgres.
type ArchiveConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
}

// EmbeddingConfig holds embedding oracle settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// PerplexityConfig holds perplexity oracle settings.
type PerplexityConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// ScoringConfig holds the surprise formula parameters. This section is
// hot-reloadable; the serve command watches the config file and swaps the
// parameters without a restart.
type ScoringConfig struct {
	PerplexityWeight   float64 `toml:"perplexity_weight,omitempty"`
	NoveltyWeight      float64 `toml:"novelty_weight,omitempty"`
	Threshold          float64 `toml:"threshold,omitempty"`
	NormalizationScale float64 `toml:"normalization_scale,omitempty"`
	FallbackNovelty    float64 `toml:"fallback_novelty,omitempty"`
}

// RetentionConfig holds worker loop settings.
type RetentionConfig struct {
	BatchSize      int    `toml:"batch_size,omitempty"`
	Workers        int    `toml:"workers,omitempty"`
	RetryLimit     int    `toml:"retry_limit,omitempty"`
	RetryBaseDelay string `toml:"retry_base_delay,omitempty"`
	OracleTimeout  string `toml:"oracle_timeout,omitempty"`
	PollInterval   string `toml:"poll_interval,omitempty"`
	SweepInterval  string `toml:"sweep_interval,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// engram server (e.g. engram recall, engram stats). The value is a full URL
// (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(get func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *get(c) },
		set: func(c *Config, v string) error { *get(c) = v; return nil },
	}
}

func intKey(name string, get func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.Itoa(*get(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*get(c) = n
			return nil
		},
	}
}

func floatKey(name string, get func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*get(c), 'g', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*get(c) = f
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"stream.provider":  stringKey(func(c *Config) *string { return &c.Stream.Provider }),
	"stream.brokers":   stringKey(func(c *Config) *string { return &c.Stream.Brokers }),
	"stream.topic":     stringKey(func(c *Config) *string { return &c.Stream.Topic }),
	"stream.partition": intKey("stream.partition", func(c *Config) *int { return &c.Stream.Partition }),

	"journal.path": stringKey(func(c *Config) *string { return &c.Journal.Path }),

	"active.provider":  stringKey(func(c *Config) *string { return &c.Active.Provider }),
	"active.path":      stringKey(func(c *Config) *string { return &c.Active.Path }),
	"active.max_age":   stringKey(func(c *Config) *string { return &c.Active.MaxAge }),
	"active.max_count": intKey("active.max_count", func(c *Config) *int { return &c.Active.MaxCount }),

	"archive.provider": stringKey(func(c *Config) *string { return &c.Archive.Provider }),
	"archive.target":   stringKey(func(c *Config) *string { return &c.Archive.Target }),

	"embedding.provider": stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":   stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":    stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},

	"perplexity.provider": stringKey(func(c *Config) *string { return &c.Perplexity.Provider }),
	"perplexity.target":   stringKey(func(c *Config) *string { return &c.Perplexity.Target }),
	"perplexity.model":    stringKey(func(c *Config) *string { return &c.Perplexity.Model }),
	"perplexity.api_key":  stringKey(func(c *Config) *string { return &c.Perplexity.APIKey }),

	"scoring.perplexity_weight":   floatKey("scoring.perplexity_weight", func(c *Config) *float64 { return &c.Scoring.PerplexityWeight }),
	"scoring.novelty_weight":      floatKey("scoring.novelty_weight", func(c *Config) *float64 { return &c.Scoring.NoveltyWeight }),
	"scoring.threshold":           floatKey("scoring.threshold", func(c *Config) *float64 { return &c.Scoring.Threshold }),
	"scoring.normalization_scale": floatKey("scoring.normalization_scale", func(c *Config) *float64 { return &c.Scoring.NormalizationScale }),
	"scoring.fallback_novelty":    floatKey("scoring.fallback_novelty", func(c *Config) *float64 { return &c.Scoring.FallbackNovelty }),

	"retention.batch_size":       intKey("retention.batch_size", func(c *Config) *int { return &c.Retention.BatchSize }),
	"retention.workers":          intKey("retention.workers", func(c *Config) *int { return &c.Retention.Workers }),
	"retention.retry_limit":      intKey("retention.retry_limit", func(c *Config) *int { return &c.Retention.RetryLimit }),
	"retention.retry_base_delay": stringKey(func(c *Config) *string { return &c.Retention.RetryBaseDelay }),
	"retention.oracle_timeout":   stringKey(func(c *Config) *string { return &c.Retention.OracleTimeout }),
	"retention.poll_interval":    stringKey(func(c *Config) *string { return &c.Retention.PollInterval }),
	"retention.sweep_interval":   stringKey(func(c *Config) *string { return &c.Retention.SweepInterval }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),
}
