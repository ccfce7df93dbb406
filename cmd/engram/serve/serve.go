// Package servecmder provides the serve command for running the retention
// pipeline and API server together.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/api"
	"github.com/papercomputeco/engram/pkg/active"
	activeutils "github.com/papercomputeco/engram/pkg/active/utils"
	"github.com/papercomputeco/engram/pkg/archive"
	archiveutils "github.com/papercomputeco/engram/pkg/archive/utils"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/journal"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/metrics"
	oracleutils "github.com/papercomputeco/engram/pkg/oracle/utils"
	"github.com/papercomputeco/engram/pkg/recall"
	"github.com/papercomputeco/engram/pkg/retention"
	"github.com/papercomputeco/engram/pkg/scoring"
	"github.com/papercomputeco/engram/pkg/stream"
	inmemorystream "github.com/papercomputeco/engram/pkg/stream/inmemory"
	kafkastream "github.com/papercomputeco/engram/pkg/stream/kafka"
)

// tierGaugeInterval is how often the active/archived gauge metrics refresh.
const tierGaugeInterval = 30 * time.Second

type ServeCommander struct {
	configDir string
	debug     bool
	listen    string
	brokers   string
	cmd       *cobra.Command
	logger    *zap.Logger
}

// serveFlags are the registry flags serve exposes; they override the
// matching config keys through viper's precedence chain.
var serveFlags = []string{config.FlagAPIListen, config.FlagStreamBrokers}

const serveLongDesc string = `Run the engram pipeline.

Starts the retention worker, which consumes the utterance stream, scores each
event for surprise, and admits the surprising ones into the active memory
store. Also starts the API server for recall queries and statistics, and the
periodic archival sweep.

Configuration is read from config.toml in the .engram/ directory, with
ENGRAM_-prefixed environment variables taking precedence. The [scoring]
section is hot-reloadable: edits to the config file take effect without a
restart.`

const serveShortDesc string = "Run the retention worker and API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.cmd = cmd
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStreamBrokers, &cmder.brokers)

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}
	config.BindRegisteredFlags(v, c.cmd, config.Flags, serveFlags)

	target, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return fmt.Errorf("resolving engram directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Journal
	jnl, err := journal.Open(resolvePath(target, v.GetString("journal.path")))
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer jnl.Close()

	// Active store
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

	// Archival tier
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

	// Oracles
	embedder, err := oracleutils.NewEmbedder(&oracleutils.NewEmbedderOpts{
		ProviderType: v.GetString("embedding.provider"),
		TargetURL:    v.GetString("embedding.target"),
		Model:        v.GetString("embedding.model"),
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer embedder.Close()

	perplexity, err := oracleutils.NewPerplexity(&oracleutils.NewPerplexityOpts{
		ProviderType: v.GetString("perplexity.provider"),
		TargetURL:    v.GetString("perplexity.target"),
		Model:        v.GetString("perplexity.model"),
		APIKey:       v.GetString("perplexity.api_key"),
	})
	if err != nil {
		return fmt.Errorf("creating perplexity oracle: %w", err)
	}
	defer perplexity.Close()

	// Hot-reloadable knobs: scoring parameters plus the retention and
	// eviction tunables, all swapped in place on config file changes.
	paramStore, err := scoring.NewParamStore(config.ScoringParams(v))
	if err != nil {
		return fmt.Errorf("invalid scoring parameters: %w", err)
	}
	tunableStore, err := retention.NewTunableStore(config.RetentionTunables(v))
	if err != nil {
		return fmt.Errorf("invalid retention tunables: %w", err)
	}
	config.WatchReload(v, paramStore, tunableStore, c.logger)

	evaluator, err := scoring.NewEvaluator(perplexity, embedder, activeStore, paramStore, c.logger)
	if err != nil {
		return fmt.Errorf("creating evaluator: %w", err)
	}

	// Stream
	reader, err := c.createReader(v)
	if err != nil {
		return err
	}
	defer reader.Close()

	m := metrics.New()

	sweeper, err := retention.NewSweeper(retention.SweeperConfig{
		Tunables: tunableStore,
	}, activeStore, archiveStore, jnl, m, c.logger)
	if err != nil {
		return fmt.Errorf("creating sweeper: %w", err)
	}

	worker, err := retention.NewWorker(retention.Config{
		BatchSize:      v.GetInt("retention.batch_size"),
		Workers:        v.GetInt("retention.workers"),
		RetryBaseDelay: v.GetDuration("retention.retry_base_delay"),
		PollInterval:   v.GetDuration("retention.poll_interval"),
		SweepInterval:  v.GetDuration("retention.sweep_interval"),
		Tunables:       tunableStore,
	}, reader, jnl, evaluator, activeStore, sweeper, m, c.logger)
	if err != nil {
		return fmt.Errorf("creating retention worker: %w", err)
	}

	recaller, err := recall.NewService(embedder, activeStore, archiveStore, jnl, paramStore, worker, c.logger)
	if err != nil {
		return fmt.Errorf("creating recall service: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		ListenAddr: v.GetString("api.listen"),
	}, recaller, m, c.logger)

	go c.refreshTierGauges(ctx, m, activeStore, archiveStore)

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("retention worker error: %w", err)
		}
	}()

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		return apiServer.Shutdown()
	}
}

func (c *ServeCommander) createReader(v *viper.Viper) (stream.Reader, error) {
	provider := v.GetString("stream.provider")
	switch provider {
	case "kafka":
		cfg := config.StreamConfig{Brokers: v.GetString("stream.brokers")}
		return kafkastream.New(kafkastream.Config{
			Brokers:   cfg.BrokerList(),
			Topic:     v.GetString("stream.topic"),
			Partition: v.GetInt("stream.partition"),
		}, c.logger)
	case "inmemory":
		// Local dev mode: an in-process stream with no brokers. Starts
		// empty; the pipeline idles until something appends to it.
		c.logger.Warn("using in-memory stream, events do not survive restarts")
		return inmemorystream.New(), nil
	default:
		return nil, fmt.Errorf("unsupported stream provider: %s", provider)
	}
}

// refreshTierGauges keeps the per-tier count metrics current.
func (c *ServeCommander) refreshTierGauges(ctx context.Context, m *metrics.Metrics, activeStore active.Store, archiveStore archive.Store) {
	ticker := time.NewTicker(tierGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		activeCount, err := activeStore.Count(ctx)
		if err != nil {
			continue
		}
		archivedCount, err := archiveStore.Count(ctx)
		if err != nil {
			continue
		}
		m.SetTierCounts(activeCount, archivedCount)
	}
}

// resolvePath anchors relative store paths in the .engram/ directory.
func resolvePath(target, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(target, path)
}
