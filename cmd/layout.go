package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msalah0e/valence/internal/layout"
	"github.com/msalah0e/valence/internal/ui"
)

func layoutCmd() *cobra.Command {
	var (
		maxTicks int
		asJSON   bool
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Run the force layout until it settles and save positions",
		Long: `Run the force simulation headless, starting from the saved positions,
until it cools down or --ticks is reached. The settled positions are saved
unless --dry-run is given.`,
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp(true)
			sim := layout.New(a.cfg.Layout)
			sim.Reseed(a.store.Nodes(), a.store.Links())
			frame, ticks := sim.RunUntilSettled(maxTicks)

			if !dryRun {
				a.store.SetPositions(frame.Positions())
				a.commit()
			} else {
				a.close()
			}

			if asJSON {
				printJSON(frame)
				return
			}

			ui.Banner("layout")
			state := ui.Good.Sprint("settled")
			if !frame.Settled {
				state = ui.Warn.Sprintf("stopped at %d ticks", maxTicks)
			}
			fmt.Printf("  %s after %d ticks (alpha %.4f)\n\n", state, ticks, frame.Alpha)

			names := make(map[string]string)
			for _, n := range a.store.Nodes() {
				names[n.ID] = displayName(n)
			}
			var rows [][]string
			for _, p := range frame.Nodes {
				rows = append(rows, []string{
					names[p.ID],
					fmt.Sprintf("%8.1f", p.X),
					fmt.Sprintf("%8.1f", p.Y),
				})
			}
			ui.Table([]string{"Person", "X", "Y"}, rows)
			if dryRun {
				fmt.Printf("\n  %s\n", ui.Subtle.Sprint("Dry run: positions not saved"))
			}
		},
	}

	cmd.Flags().IntVar(&maxTicks, "ticks", 1000, "Maximum simulation ticks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the final frame as JSON")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Do not save positions")
	return cmd
}
