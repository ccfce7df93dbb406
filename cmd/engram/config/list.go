package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
)

const listLongDesc string = `List all configuration values.

Displays every configuration key and its current value, grouped by
TOML section, from the config.toml file stored in the .engram/
directory.

Examples:
  engram config list`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfger, err := openConfiger(cmd)
			if err != nil {
				return err
			}
			return runList(cfger)
		},
	}
}

func runList(cfger *config.Configer) error {
	keys := config.ValidConfigKeys()

	// Field names are padded to a common width so values line up across
	// section groups.
	width := 0
	for _, k := range keys {
		if _, field, ok := strings.Cut(k, "."); ok && len(field) > width {
			width = len(field)
		}
	}

	section := ""
	for _, key := range keys {
		head, field, _ := strings.Cut(key, ".")
		if head != section {
			if section != "" {
				fmt.Println()
			}
			fmt.Printf("  %s\n", cliui.KeyStyle.Render("["+head+"]"))
			section = head
		}

		value, err := cfger.GetConfigValue(key)
		if err != nil {
			return err
		}

		rendered := cliui.DimStyle.Render("<not set>")
		if value != "" {
			rendered = cliui.ValueStyle.Render(value)
		}
		fmt.Printf("    %-*s  %s\n", width, field, rendered)
	}
	fmt.Println()

	return nil
}
