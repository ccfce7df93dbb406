package config

import "github.com/papercomputeco/engram/pkg/scoring"

const (
	defaultStreamProvider = "kafka"
	defaultStreamBrokers  = "localhost:9092"
	defaultStreamTopic    = "engram-events"

	defaultJournalPath = "journal"

	defaultActiveProvider = "sqlitevec"
	defaultActivePath     = "active.db"
	defaultActiveMaxAge   = "720h"
	defaultActiveMaxCount = 10000

	defaultArchiveProvider = "sqlite"
	defaultArchiveTarget   = "archive.db"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultPerplexityProvider = "openai"
	defaultPerplexityTarget   = "http://localhost:11434"
	defaultPerplexityModel    = "llama3.2"

	defaultRetentionBatchSize      = 32
	defaultRetentionWorkers        = 4
	defaultRetentionRetryLimit     = 3
	defaultRetentionRetryBaseDelay = "500ms"
	defaultRetentionOracleTimeout  = "10s"
	defaultRetentionPollInterval   = "1s"
	defaultRetentionSweepInterval  = "24h"

	defaultAPIListen       = ":8085"
	defaultClientAPITarget = "http://localhost:8085"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values; scoring defaults
// come from the scoring package so the formula and the config never drift.
func NewDefaultConfig() *Config {
	params := scoring.DefaultParams()

	return &Config{
		Version: CurrentV,
		Stream: StreamConfig{
			Provider: defaultStreamProvider,
			Brokers:  defaultStreamBrokers,
			Topic:    defaultStreamTopic,
		},
		Journal: JournalConfig{
			Path: defaultJournalPath,
		},
		Active: ActiveConfig{
			Provider: defaultActiveProvider,
			Path:     defaultActivePath,
			MaxAge:   defaultActiveMaxAge,
			MaxCount: defaultActiveMaxCount,
		},
		Archive: ArchiveConfig{
			Provider: defaultArchiveProvider,
			Target:   defaultArchiveTarget,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Perplexity: PerplexityConfig{
			Provider: defaultPerplexityProvider,
			Target:   defaultPerplexityTarget,
			Model:    defaultPerplexityModel,
		},
		Scoring: ScoringConfig{
			PerplexityWeight:   params.PerplexityWeight,
			NoveltyWeight:      params.NoveltyWeight,
			Threshold:          params.AdmissionThreshold,
			NormalizationScale: params.PerplexityScale,
			FallbackNovelty:    params.FallbackNovelty,
		},
		Retention: RetentionConfig{
			BatchSize:      defaultRetentionBatchSize,
			Workers:        defaultRetentionWorkers,
			RetryLimit:     defaultRetentionRetryLimit,
			RetryBaseDelay: defaultRetentionRetryBaseDelay,
			OracleTimeout:  defaultRetentionOracleTimeout,
			PollInterval:   defaultRetentionPollInterval,
			SweepInterval:  defaultRetentionSweepInterval,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
	}
}
