package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusJSON bool

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store and index counters",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().BoolVar(&statusJSON, "json", false, "print as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
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

	st := c.manager.Status(ctx)
	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Printf("store:      %s\n", st.StorePath)
	fmt.Printf("index:      %s (%s, dimension %d)\n", st.IndexKind, st.Metric, st.Dimension)
	fmt.Printf("records:    %d in %d collections\n", st.TotalRecords, len(st.Collections))
	if st.DiskUsageBytes != nil {
		fmt.Printf("disk usage: %d bytes\n", *st.DiskUsageBytes)
	}
	for _, cs := range st.Collections {
		fmt.Printf("  %-20s %8d records, index size %d\n", cs.Name, cs.Records, cs.IndexSize)
	}
	return nil
}
