package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	deleteID     string
	deleteSource string
	deleteAll    bool
)

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <collection>",
		Short: "Delete records or a whole collection",
		Long: `Delete one record by id, every record from one source file, or the
entire collection.

Examples:
  kura delete docs --id report.pdf_3
  kura delete docs --source report.pdf
  kura delete docs --all`,
		Args: cobra.ExactArgs(1),
		RunE: runDelete,
	}
	cmd.Flags().StringVar(&deleteID, "id", "", "record id to delete")
	cmd.Flags().StringVar(&deleteSource, "source", "", "delete all records from this source")
	cmd.Flags().BoolVar(&deleteAll, "all", false, "delete the whole collection")
	return cmd
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	set := 0
	for _, on := range []bool{deleteID != "", deleteSource != "", deleteAll} {
		if on {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("give exactly one of --id, --source, --all")
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

	switch {
	case deleteAll:
		deleted, err := c.manager.Delete(ctx, name)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("collection %q does not exist", name)
		}
		fmt.Printf("collection %s deleted\n", name)
	case deleteSource != "":
		n, err := c.pipeline.DeleteBySource(ctx, name, deleteSource)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d records from source %s\n", n, deleteSource)
	default:
		col, err := c.manager.Get(name)
		if err != nil {
			return err
		}
		deleted, err := col.Delete(ctx, deleteID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("id %q not found in %s", deleteID, name)
		}
		fmt.Printf("deleted %s\n", deleteID)
	}
	return nil
}
