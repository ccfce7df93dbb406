package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/engram/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .engram/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns all supported configuration key names in a stable,
// logical order matching the TOML section layout.
func ValidConfigKeys() []string {
	ordered := []string{
		"stream.provider",
		"stream.brokers",
		"stream.topic",
		"stream.partition",
		"journal.path",
		"active.provider",
		"active.path",
		"active.max_age",
		"active.max_count",
		"archive.provider",
		"archive.target",
		"embedding.provider",
		"embedding.target",
		"embedding.model",
		"embedding.dimensions",
		"perplexity.provider",
		"perplexity.target",
		"perplexity.model",
		"perplexity.api_key",
		"scoring.perplexity_weight",
		"scoring.novelty_weight",
		"scoring.threshold",
		"scoring.normalization_scale",
		"scoring.fallback_novelty",
		"retention.batch_size",
		"retention.workers",
		"retention.retry_limit",
		"retention.retry_base_delay",
		"retention.oracle_timeout",
		"retention.poll_interval",
		"retention.sweep_interval",
		"api.listen",
		"client.api_target",
	}

	// Sanity: only return keys that actually exist in the map, then append
	// any map keys missing from the ordered list.
	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}
	for k := range configKeys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target .engram/
// directory. If the file does not exist, returns NewDefaultConfig() so callers
// always receive a fully-populated Config with sane defaults. Fields
// explicitly set in the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Stream.Provider == "" {
		cfg.Stream.Provider = defaults.Stream.Provider
	}
	if cfg.Stream.Brokers == "" {
		cfg.Stream.Brokers = defaults.Stream.Brokers
	}
	if cfg.Stream.Topic == "" {
		cfg.Stream.Topic = defaults.Stream.Topic
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}

	if cfg.Active.Provider == "" {
		cfg.Active.Provider = defaults.Active.Provider
	}
	if cfg.Active.Path == "" {
		cfg.Active.Path = defaults.Active.Path
	}
	if cfg.Active.MaxAge == "" {
		cfg.Active.MaxAge = defaults.Active.MaxAge
	}
	if cfg.Active.MaxCount == 0 {
		cfg.Active.MaxCount = defaults.Active.MaxCount
	}

	if cfg.Archive.Provider == "" {
		cfg.Archive.Provider = defaults.Archive.Provider
	}
	if cfg.Archive.Target == "" {
		cfg.Archive.Target = defaults.Archive.Target
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaults.Embedding.Provider
	}
	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = defaults.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaults.Embedding.Dimensions
	}

	if cfg.Perplexity.Provider == "" {
		cfg.Perplexity.Provider = defaults.Perplexity.Provider
	}
	if cfg.Perplexity.Target == "" {
		cfg.Perplexity.Target = defaults.Perplexity.Target
	}
	if cfg.Perplexity.Model == "" {
		cfg.Perplexity.Model = defaults.Perplexity.Model
	}

	if cfg.Scoring.PerplexityWeight == 0 && cfg.Scoring.NoveltyWeight == 0 {
		cfg.Scoring.PerplexityWeight = defaults.Scoring.PerplexityWeight
		cfg.Scoring.NoveltyWeight = defaults.Scoring.NoveltyWeight
	}
	if cfg.Scoring.Threshold == 0 {
		cfg.Scoring.Threshold = defaults.Scoring.Threshold
	}
	if cfg.Scoring.NormalizationScale == 0 {
		cfg.Scoring.NormalizationScale = defaults.Scoring.NormalizationScale
	}
	if cfg.Scoring.FallbackNovelty == 0 {
		cfg.Scoring.FallbackNovelty = defaults.Scoring.FallbackNovelty
	}

	if cfg.Retention.BatchSize == 0 {
		cfg.Retention.BatchSize = defaults.Retention.BatchSize
	}
	if cfg.Retention.Workers == 0 {
		cfg.Retention.Workers = defaults.Retention.Workers
	}
	if cfg.Retention.RetryLimit == 0 {
		cfg.Retention.RetryLimit = defaults.Retention.RetryLimit
	}
	if cfg.Retention.RetryBaseDelay == "" {
		cfg.Retention.RetryBaseDelay = defaults.Retention.RetryBaseDelay
	}
	if cfg.Retention.OracleTimeout == "" {
		cfg.Retention.OracleTimeout = defaults.Retention.OracleTimeout
	}
	if cfg.Retention.PollInterval == "" {
		cfg.Retention.PollInterval = defaults.Retention.PollInterval
	}
	if cfg.Retention.SweepInterval == "" {
		cfg.Retention.SweepInterval = defaults.Retention.SweepInterval
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Client.APITarget == "" {
		cfg.Client.APITarget = defaults.Client.APITarget
	}
}

// SaveConfig persists the configuration to config.toml in the target .engram/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
