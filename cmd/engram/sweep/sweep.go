// Package sweepcmder provides the sweep command for running a one-shot
// archival sweep against the local stores.
package sweepcmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	activeutils "github.com/papercomputeco/engram/pkg/active/utils"
	archiveutils "github.com/papercomputeco/engram/pkg/archive/utils"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/journal"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/retention"
)

type sweepCommander struct {
	configDir string
	debug     bool
	logger    *zap.Logger
}

const sweepLongDesc string = `Run a one-shot archival sweep.

Opens the local stores directly, migrates memories that exceed the configured
age or capacity limits from the active store to the archival tier, and exits.
Do not run this while engram serve is using the same stores; the serve
command runs its own periodic sweep.

Examples:
  engram sweep`

const sweepShortDesc string = "Run a one-shot archival sweep"

func NewSweepCmd() *cobra.Command {
	cmder := &sweepCommander{}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: sweepShortDesc,
		Long:  sweepLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run()
		},
	}

	return cmd
}

func (c *sweepCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}

	target, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return fmt.Errorf("resolving engram directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jnl, err := journal.Open(resolvePath(target, v.GetString("journal.path")))
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer jnl.Close()

	activeStore, err := activeutils.NewStore(&activeutils.NewStoreOpts{
		ProviderType: v.GetString("active.provider"),
		DBPath:       resolvePath(target, v.GetString("active.path")),
		Dimensions:   v.GetUint("embedding.dimensions"),
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating active store: %w", err)
	}
	defer activeStore.Close()

	archiveTarget := v.GetString("archive.target")
	archiveStore, err := archiveutils.NewStore(ctx, &archiveutils.NewStoreOpts{
		ProviderType: v.GetString("archive.provider"),
		DBPath:       resolvePath(target, archiveTarget),
		ConnStr:      archiveTarget,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating archive store: %w", err)
	}
	defer archiveStore.Close()

	sweeper, err := retention.NewSweeper(retention.SweeperConfig{
		MaxActiveAge:   v.GetDuration("active.max_age"),
		MaxActiveCount: v.GetInt("active.max_count"),
	}, activeStore, archiveStore, jnl, nil, c.logger)
	if err != nil {
		return fmt.Errorf("creating sweeper: %w", err)
	}

	// Finish any migration a previous crash left half-done first.
	if err := sweeper.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconciling journal: %w", err)
	}

	moved, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Archived %d memories\n", moved)
	return nil
}

// resolvePath anchors relative store paths in the .engram/ directory.
func resolvePath(target, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(target, path)
}
