package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kura/internal/models"
)

var ingestText string

func newIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <collection> [file...]",
		Short: "Ingest files or text into a collection",
		Long: `Extract, chunk, embed, and commit documents. Files are replaced on
re-ingest: chunks from a previous run of the same file go away first.

Examples:
  kura ingest docs report.pdf notes.md
  kura ingest docs --text "a single document"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}
	cmd.Flags().StringVar(&ingestText, "text", "", "ingest a literal text instead of files")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	collection := args[0]
	files := args[1:]
	if ingestText == "" && len(files) == 0 {
		return fmt.Errorf("give files to ingest, or --text")
	}
	if ingestText != "" && len(files) > 0 {
		return fmt.Errorf("--text and files are mutually exclusive")
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

	if ingestText != "" {
		id, err := c.pipeline.Ingest(ctx, collection, models.IngestItem{Text: ingestText})
		if err != nil {
			return err
		}
		fmt.Printf("ingested 1 document into %s (id %s)\n", collection, id)
		return nil
	}

	failed := 0
	for _, file := range files {
		chunks, err := c.pipeline.IngestFilePath(ctx, collection, file)
		if err != nil {
			failed++
			fmt.Printf("%s: %v\n", file, err)
			continue
		}
		fmt.Printf("%s: %d chunks\n", file, chunks)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}
