package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --api-target
// on both "engram recall" and "engram stats").
type Flag struct {
	// Name is the long flag name (e.g. "listen").
	Name string

	// Shorthand is the one-letter short flag (e.g. "l"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "api.listen").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagAPIListen      = "api-listen"
	FlagAPITarget      = "api-target"
	FlagStreamBrokers  = "stream-brokers"
	FlagStreamTopic    = "stream-topic"
	FlagActiveProvider = "active-provider"
	FlagActivePath     = "active-path"
	FlagArchiveProv    = "archive-provider"
	FlagArchiveTarget  = "archive-target"
	FlagEmbeddingProv  = "embedding-provider"
	FlagEmbeddingTgt   = "embedding-target"
	FlagEmbeddingModel = "embedding-model"
	FlagEmbeddingDims  = "embedding-dimensions"
	FlagPerplexityTgt  = "perplexity-target"
	FlagPerplexityMdl  = "perplexity-model"
	FlagThreshold      = "threshold"
)

// Flags is the shared flag registry for engram commands.
var Flags = FlagSet{
	FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	FlagAPITarget: {
		Name:        "api-target",
		ViperKey:    "client.api_target",
		Description: "Base URL of a running engram API server",
	},
	FlagStreamBrokers: {
		Name:        "stream-brokers",
		ViperKey:    "stream.brokers",
		Description: "Comma-separated Kafka broker addresses",
	},
	FlagStreamTopic: {
		Name:        "stream-topic",
		ViperKey:    "stream.topic",
		Description: "Kafka topic carrying raw utterance events",
	},
	FlagActiveProvider: {
		Name:        "active-provider",
		ViperKey:    "active.provider",
		Description: "Active store provider (sqlitevec, inmemory)",
	},
	FlagActivePath: {
		Name:        "active-path",
		ViperKey:    "active.path",
		Description: "Active store database path",
	},
	FlagArchiveProv: {
		Name:        "archive-provider",
		ViperKey:    "archive.provider",
		Description: "Archive provider (sqlite, postgres)",
	},
	FlagArchiveTarget: {
		Name:        "archive-target",
		ViperKey:    "archive.target",
		Description: "Archive database path or connection string",
	},
	FlagEmbeddingProv: {
		Name:        "embedding-provider",
		ViperKey:    "embedding.provider",
		Description: "Embedding oracle provider (ollama)",
	},
	FlagEmbeddingTgt: {
		Name:        "embedding-target",
		ViperKey:    "embedding.target",
		Description: "Embedding oracle base URL",
	},
	FlagEmbeddingModel: {
		Name:        "embedding-model",
		ViperKey:    "embedding.model",
		Description: "Embedding model name",
	},
	FlagEmbeddingDims: {
		Name:        "embedding-dimensions",
		ViperKey:    "embedding.dimensions",
		Description: "Embedding dimension of the active store generation",
	},
	FlagPerplexityTgt: {
		Name:        "perplexity-target",
		ViperKey:    "perplexity.target",
		Description: "Perplexity oracle base URL",
	},
	FlagPerplexityMdl: {
		Name:        "perplexity-model",
		ViperKey:    "perplexity.model",
		Description: "Perplexity completion model name",
	},
	FlagThreshold: {
		Name:        "threshold",
		ViperKey:    "scoring.threshold",
		Description: "Surprise admission threshold",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
