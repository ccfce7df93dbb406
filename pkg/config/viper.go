package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/retention"
	"github.com/papercomputeco/engram/pkg/scoring"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (ENGRAM_API_LISTEN, ENGRAM_STREAM_BROKERS, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_API_LISTEN, ENGRAM_SCORING_THRESHOLD, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Stream
	v.SetDefault("stream.provider", d.Stream.Provider)
	v.SetDefault("stream.brokers", d.Stream.Brokers)
	v.SetDefault("stream.topic", d.Stream.Topic)
	v.SetDefault("stream.partition", d.Stream.Partition)

	// Journal
	v.SetDefault("journal.path", d.Journal.Path)

	// Active store
	v.SetDefault("active.provider", d.Active.Provider)
	v.SetDefault("active.path", d.Active.Path)
	v.SetDefault("active.max_age", d.Active.MaxAge)
	v.SetDefault("active.max_count", d.Active.MaxCount)

	// Archive
	v.SetDefault("archive.provider", d.Archive.Provider)
	v.SetDefault("archive.target", d.Archive.Target)

	// Embedding oracle
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	// Perplexity oracle
	v.SetDefault("perplexity.provider", d.Perplexity.Provider)
	v.SetDefault("perplexity.target", d.Perplexity.Target)
	v.SetDefault("perplexity.model", d.Perplexity.Model)
	v.SetDefault("perplexity.api_key", d.Perplexity.APIKey)

	// Scoring
	v.SetDefault("scoring.perplexity_weight", d.Scoring.PerplexityWeight)
	v.SetDefault("scoring.novelty_weight", d.Scoring.NoveltyWeight)
	v.SetDefault("scoring.threshold", d.Scoring.Threshold)
	v.SetDefault("scoring.normalization_scale", d.Scoring.NormalizationScale)
	v.SetDefault("scoring.fallback_novelty", d.Scoring.FallbackNovelty)

	// Retention worker
	v.SetDefault("retention.batch_size", d.Retention.BatchSize)
	v.SetDefault("retention.workers", d.Retention.Workers)
	v.SetDefault("retention.retry_limit", d.Retention.RetryLimit)
	v.SetDefault("retention.retry_base_delay", d.Retention.RetryBaseDelay)
	v.SetDefault("retention.oracle_timeout", d.Retention.OracleTimeout)
	v.SetDefault("retention.poll_interval", d.Retention.PollInterval)
	v.SetDefault("retention.sweep_interval", d.Retention.SweepInterval)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Client
	v.SetDefault("client.api_target", d.Client.APITarget)
}

// ScoringParams builds scoring parameters from the current viper values.
func ScoringParams(v *viper.Viper) scoring.Params {
	return scoring.Params{
		PerplexityWeight:   v.GetFloat64("scoring.perplexity_weight"),
		NoveltyWeight:      v.GetFloat64("scoring.novelty_weight"),
		AdmissionThreshold: v.GetFloat64("scoring.threshold"),
		PerplexityScale:    v.GetFloat64("scoring.normalization_scale"),
		FallbackNovelty:    v.GetFloat64("scoring.fallback_novelty"),
	}
}

// RetentionTunables builds the hot-reloadable retention knobs from the
// current viper values.
func RetentionTunables(v *viper.Viper) retention.Tunables {
	return retention.Tunables{
		OracleTimeout:  v.GetDuration("retention.oracle_timeout"),
		RetryLimit:     v.GetInt("retention.retry_limit"),
		MaxActiveAge:   v.GetDuration("active.max_age"),
		MaxActiveCount: v.GetInt("active.max_count"),
	}
}

// WatchReload re-reads the config file on change and swaps the scoring
// parameters and retention tunables in place. Invalid sets are rejected
// and the previous values stay in effect, so a bad edit can never poison
// the running pipeline. Either store may be nil.
func WatchReload(v *viper.Viper, params *scoring.ParamStore, tunables *retention.TunableStore, logger *zap.Logger) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		if params != nil {
			p := ScoringParams(v)
			version, err := params.Swap(p)
			if err != nil {
				logger.Warn("rejected scoring parameter reload", zap.Error(err))
			} else {
				logger.Info("scoring parameters reloaded",
					zap.Uint64("version", version),
					zap.Float64("threshold", p.AdmissionThreshold),
				)
			}
		}

		if tunables != nil {
			t := RetentionTunables(v)
			version, err := tunables.Swap(t)
			if err != nil {
				logger.Warn("rejected retention tunable reload", zap.Error(err))
				return
			}
			logger.Info("retention tunables reloaded",
				zap.Uint64("version", version),
				zap.Duration("oracle_timeout", t.OracleTimeout),
				zap.Int("max_active_count", t.MaxActiveCount),
			)
		}
	})
	v.WatchConfig()
}
