// Package configcmder provides the config command for managing persistent
// engram configuration stored in the .engram/ directory.
package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
)

const configLongDesc string = `Manage persistent engram configuration.

Configuration is stored as config.toml in the .engram/ directory and provides
default values for command flags. CLI flags and ENGRAM_-prefixed environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  stream.provider, stream.brokers, stream.topic, stream.partition,
  journal.path,
  active.provider, active.path, active.max_age, active.max_count,
  archive.provider, archive.target,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  perplexity.provider, perplexity.target, perplexity.model, perplexity.api_key,
  scoring.perplexity_weight, scoring.novelty_weight, scoring.threshold,
  scoring.normalization_scale, scoring.fallback_novelty,
  retention.batch_size, retention.workers, retention.retry_limit,
  retention.retry_base_delay, retention.oracle_timeout,
  retention.poll_interval, retention.sweep_interval,
  api.listen, client.api_target

Use subcommands to get, set, or list configuration values:
  engram config set <key> <value>   Set a configuration value
  engram config get <key>           Get a configuration value
  engram config list                List all configuration values

Examples:
  engram config set scoring.threshold 0.75
  engram config set stream.brokers broker1:9092,broker2:9092
  engram config get embedding.model
  engram config list`

const configShortDesc string = "Manage persistent engram configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// openConfiger resolves the config-dir flag, loads the Configer, and prints
// which config file (if any) backs this invocation.
func openConfiger(cmd *cobra.Command) (*config.Configer, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if target := cfger.GetTarget(); target != "" {
		fmt.Printf("\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
	} else {
		fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}

	return cfger, nil
}

// checkConfigKey rejects keys outside the known dotted-key set with a hint
// listing the valid ones.
func checkConfigKey(key string) error {
	if config.IsValidConfigKey(key) {
		return nil
	}
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

// completeConfigKeys offers the dotted key names for shell completion of the
// first positional argument.
func completeConfigKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
}
