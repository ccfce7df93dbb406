// Package seedcmder provides the seed command for publishing demo
// utterances onto the stream topic.
package seedcmder

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/memory"
	kafkastream "github.com/papercomputeco/engram/pkg/stream/kafka"
)

const seedLongDesc string = `Publish demo utterances onto the stream topic.

Writes a small set of sample utterances to the configured Kafka topic so a
running engram serve has something to score. Useful for trying the pipeline
end to end without wiring up a real capture layer.

Examples:
  engram seed
  engram seed --session demo-2`

const seedShortDesc string = "Publish demo utterances"

// demoUtterances mixes mundane filler with a few facts worth remembering.
var demoUtterances = []string{
	"ok let me look at that",
	"sounds good, thanks",
	"the production postgres password rotates every 90 days via vault",
	"yeah I think so",
	"deploys to eu-west must go through the compliance gate since the March audit",
	"sure, one sec",
	"the rate limiter falls back to in-process buckets when redis is unreachable",
	"hm, let me check",
	"customer Acme is pinned to the v2 API until their contract renews in June",
	"right, makes sense",
}

type seedCommander struct {
	configDir string
	session   string
	debug     bool
}

func NewSeedCmd() *cobra.Command {
	cmder := &seedCommander{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: seedShortDesc,
		Long:  seedLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cmder.session, "session", "demo", "Session tag for the seeded utterances")

	return cmd
}

func (c *seedCommander) run(ctx context.Context) error {
	log := logger.New(
		logger.WithPretty(true),
		logger.WithDebug(c.debug),
		logger.WithWriter(os.Stderr),
	)

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}

	brokers := config.StreamConfig{Brokers: v.GetString("stream.brokers")}.BrokerList()
	topic := v.GetString("stream.topic")

	publisher, err := kafkastream.NewPublisher(brokers, topic)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer publisher.Close()

	published := 0
	if err := cliui.Step(os.Stdout, "Seeding demo utterances", func() error {
		for _, text := range demoUtterances {
			if err := publisher.Publish(ctx, memory.RawEvent{
				Text:       text,
				Timestamp:  time.Now().UTC(),
				SessionTag: c.session,
			}); err != nil {
				return err
			}
			log.Debug("published utterance", "session", c.session, "text", text)
			published++
		}
		return nil
	}); err != nil {
		return err
	}

	fmt.Printf("\n  %s Published %d utterances to %s\n\n",
		cliui.SuccessMark,
		published,
		cliui.DimStyle.Render(topic),
	)
	return nil
}
