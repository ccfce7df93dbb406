// Package statscmder provides the stats command for inspecting a running
// engram server.
package statscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/recall"
)

type statsCommander struct {
	apiTarget string
	asJSON    bool
}

const statsLongDesc string = `Show pipeline statistics from a running engram server.

Reports tier counts, the persisted stream cursor, admission counters for the
current process, and the scoring parameter version.

Example:
  engram stats
  engram stats --json`

const statsShortDesc string = "Show pipeline statistics"

func NewStatsCmd() *cobra.Command {
	cmder := &statsCommander{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Long:  statsLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("api-target") {
				cmder.apiTarget = cfg.Client.APITarget
			}
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Output raw JSON")

	return cmd
}

func (c *statsCommander) run() error {
	stats, raw, err := StatsAPI(c.apiTarget)
	if err != nil {
		return err
	}

	if c.asJSON {
		fmt.Println(string(raw))
		return nil
	}

	fmt.Printf("Active memories:    %d\n", stats.ActiveCount)
	fmt.Printf("Archived memories:  %d\n", stats.ArchivedCount)
	fmt.Printf("Stream cursor:      %d\n", stats.LastCursor)
	fmt.Printf("Processed:          %d\n", stats.Processed)
	fmt.Printf("Admitted:           %d\n", stats.Admitted)
	fmt.Printf("Discarded:          %d\n", stats.Discarded)
	fmt.Printf("Unscored:           %d\n", stats.Unscored)
	fmt.Printf("Degraded scores:    %d\n", stats.Degraded)
	fmt.Printf("Admission rate:     %.3f\n", stats.AdmissionRate)
	fmt.Printf("Params version:     %d\n", stats.ParamsVersion)

	return nil
}

// StatsAPI calls the engram stats API and returns the parsed response plus
// the raw body for --json output.
func StatsAPI(apiTarget string) (*recall.Stats, []byte, error) {
	statsURL, err := url.Parse(apiTarget)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	statsURL.Path = "/v1/stats"

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, statsURL.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating stats request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to engram API at %s: %w", apiTarget, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("stats request failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var stats recall.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, nil, fmt.Errorf("failed to parse stats response: %w", err)
	}

	return &stats, body, nil
}
