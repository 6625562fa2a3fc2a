package cmd

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

// newFeaturesCmd creates the 'features' subcommand, the per-race view of the
// feature join.
func newFeaturesCmd() *cobra.Command {
	var (
		key    race.Key
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "features",
		Short:   "Prints the per-lane feature join for one race",
		Example: `  boatrace features --date 20240115 --venue 12 --race 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key.Date == "" || key.Venue == "" || key.RaceNo == 0 {
				return errors.New("--date, --venue and --race are required")
			}
			if err := key.Validate(); err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := appInstance.GetStore().QueryFeatureJoin(cmd.Context(), key)
			if err != nil {
				return fmt.Errorf("query features: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{"race": key, "lanes": rows})
			}
			if len(rows) == 0 {
				fmt.Fprintf(out, "no data for race %s\n", key)
				return nil
			}
			t := newTable(out)
			t.SetTitle("Race %s", key)
			t.AppendHeader(table.Row{
				"Lane", "Exhibition", "Straight", "Turn",
				"Motor win", "Motor 2-win", "Player win", "Player 2-win", "Rank",
			})
			for _, r := range rows {
				t.AppendRow(table.Row{
					r.Lane,
					formatFloat(r.ExhibitionTime),
					formatOptFloat(r.StraightTime),
					formatOptFloat(r.TurnTime),
					formatOptFloat(r.MotorWinRate),
					formatOptFloat(r.MotorTwoWinRate),
					formatFloat(r.PlayerWinRate),
					formatFloat(r.PlayerTwoWinRate),
					formatOptInt(r.FinishingRank),
				})
			}
			t.Render()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&key.Date, "date", "", "race day, YYYYMMDD")
	f.StringVar(&key.Venue, "venue", "", "venue code 01-24")
	f.IntVar(&key.RaceNo, "race", 0, "race number")
	f.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
