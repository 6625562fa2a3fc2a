package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/boatrace-ingest/internal/storage/schema"
)

// newStatusCmd creates the 'status' subcommand, which prints row counts per
// table.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the row count of every table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := appInstance.GetStore().TableCounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("count rows: %w", err)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Table", "Rows"})
			var total int64
			for _, tbl := range schema.All() {
				t.AppendRow(table.Row{tbl.Name, counts[tbl.Name]})
				total += counts[tbl.Name]
			}
			t.AppendFooter(table.Row{"total", total})
			t.Render()
			return nil
		},
	}
}
