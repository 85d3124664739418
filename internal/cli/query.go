package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kura/internal/models"
)

var (
	queryK      int
	queryMode   string
	queryFilter string
	queryOutput string
)

func newQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <collection> <text...>",
		Short: "Search a collection",
		Long: `Run a similarity query. Mode vector embeds the text and ranks by
nearest neighbour; lexical ranks by full-text match; hybrid fuses both.

Examples:
  kura query docs how do I rotate credentials
  kura query docs -k 10 --mode hybrid --filter '{"source":"handbook.pdf"}' rotation`,
		Args: cobra.MinimumNArgs(2),
		RunE: runQuery,
	}
	cmd.Flags().IntVarP(&queryK, "k", "k", 0, "number of results (default from config)")
	cmd.Flags().StringVar(&queryMode, "mode", models.ModeVector, "vector, lexical, or hybrid")
	cmd.Flags().StringVar(&queryFilter, "filter", "", "metadata filter as JSON")
	cmd.Flags().StringVarP(&queryOutput, "output", "o", "text", "output format (text, json)")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	collection := args[0]
	text := strings.Join(args[1:], " ")

	var filter map[string]any
	if queryFilter != "" {
		if err := json.Unmarshal([]byte(queryFilter), &filter); err != nil {
			return fmt.Errorf("parse --filter: %w", err)
		}
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c, err := newComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(ctx) }()

	results, err := c.engine.Search(ctx, collection, &models.QueryRequest{
		Text:   text,
		K:      queryK,
		Filter: filter,
		Mode:   queryMode,
	})
	if err != nil {
		return err
	}
	return WriteResults(os.Stdout, results, OutputFormat(queryOutput))
}
