// Package recallcmder provides the recall command for querying memories
// from a running engram server.
package recallcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/api"
	"github.com/papercomputeco/engram/pkg/config"
)

type recallCommander struct {
	query           string
	topK            int
	includeArchived bool
	from            string
	to              string
	quiet           bool

	apiTarget string
}

const recallLongDesc string = `Query memories from a running engram server.

Embeds the query text and returns the closest memories by cosine distance.
By default only the active store is searched; use --archived to include the
archival tier, optionally bounded with --from and --to (RFC 3339 timestamps).

Use --quiet to output only memory IDs, one per line.

Example:
  engram recall "deployment rollback procedure"
  engram recall "postgres tuning" --top 10 --archived
  engram recall "incident review" --archived --from 2026-01-01T00:00:00Z`

const recallShortDesc string = "Query memories"

func NewRecallCmd() *cobra.Command {
	cmder := &recallCommander{}

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: recallShortDesc,
		Long:  recallLongDesc,
		Args:  cobra.ExactArgs(1),
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
		RunE: func(_ *cobra.Command, args []string) error {
			cmder.query = args[0]
			return cmder.run()
		},
	}

	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 5, "Number of results to return")
	cmd.Flags().BoolVar(&cmder.includeArchived, "archived", false, "Include the archival tier in the search")
	cmd.Flags().StringVar(&cmder.from, "from", "", "Earliest archive partition to search (RFC 3339)")
	cmd.Flags().StringVar(&cmder.to, "to", "", "Latest archive partition to search (RFC 3339)")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only memory IDs, one per line (for piping)")
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)

	return cmd
}

func (c *recallCommander) run() error {
	output, err := RecallAPI(c.apiTarget, api.RecallRequest{
		Query:           c.query,
		TopK:            c.topK,
		IncludeArchived: c.includeArchived,
		From:            c.from,
		To:              c.to,
	})
	if err != nil {
		return err
	}

	if output.Count == 0 {
		if !c.quiet {
			fmt.Println("No memories found.")
		}
		return nil
	}

	if c.quiet {
		for _, result := range output.Results {
			fmt.Println(result.ID)
		}
		return nil
	}

	fmt.Printf("\nMemories for %q:\n\n", c.query)
	for i, result := range output.Results {
		c.printResult(i+1, result)
	}

	return nil
}

func (c *recallCommander) printResult(rank int, result api.RecallResult) {
	text := strings.ReplaceAll(result.Text, "\n", " ")
	if len(text) > 80 {
		text = text[:77] + "..."
	}

	fmt.Printf("  #%d  distance: %.4f  surprise: %.3f  [%s]  %s\n",
		rank, result.Distance, result.Surprise, result.Tier, result.ID)
	fmt.Printf("      %s\n", text)
	if result.SessionTag != "" {
		fmt.Printf("      session: %s\n", result.SessionTag)
	}
	fmt.Println()
}

// RecallAPI calls the engram recall API and returns the parsed response.
func RecallAPI(apiTarget string, request api.RecallRequest) (*api.RecallResponse, error) {
	recallURL, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	recallURL.Path = "/v1/recall"

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding recall request: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, recallURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating recall request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engram API at %s: %w", apiTarget, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recall request failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var output api.RecallResponse
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, fmt.Errorf("failed to parse recall response: %w", err)
	}

	return &output, nil
}
