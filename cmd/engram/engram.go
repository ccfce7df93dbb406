// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/engram/cmd/engram/config"
	initcmder "github.com/papercomputeco/engram/cmd/engram/init"
	recallcmder "github.com/papercomputeco/engram/cmd/engram/recall"
	seedcmder "github.com/papercomputeco/engram/cmd/engram/seed"
	servecmder "github.com/papercomputeco/engram/cmd/engram/serve"
	statscmder "github.com/papercomputeco/engram/cmd/engram/stats"
	sweepcmder "github.com/papercomputeco/engram/cmd/engram/sweep"
)

const engramLongDesc string = `Engram retains the surprising parts of an utterance stream.

Run the pipeline using:
  engram serve         Run the retention worker and API server
  engram sweep         Run a one-shot archival sweep
  engram recall        Query memories via the API
  engram stats         Show pipeline statistics`

const engramShortDesc string = "Engram - Surprise-Scored Memory"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to the .engram/ directory (default: ./.engram or ~/.engram)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(sweepcmder.NewSweepCmd())
	cmd.AddCommand(recallcmder.NewRecallCmd())
	cmd.AddCommand(statscmder.NewStatsCmd())
	cmd.AddCommand(seedcmder.NewSeedCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())

	return cmd
}
