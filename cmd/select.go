package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/ui"
)

// selectCmd shows the inspector for one node or link. Selection is view
// state, so nothing is saved.
func selectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Inspect a person or a relationship",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:               "node <id>",
			Short:             "Inspect a person",
			Args:              cobra.ExactArgs(1),
			ValidArgsFunction: nodeCompletionFunc,
			Run: func(cmd *cobra.Command, args []string) {
				a := openApp(true)
				defer a.close()
				n, err := a.store.Node(args[0])
				if err != nil {
					a.fail("%v", err)
				}
				a.store.SelectNode(n.ID)
				printNode(a.store, n)
			},
		},
		&cobra.Command{
			Use:               "link <key | source target>",
			Short:             "Inspect a relationship",
			Args:              cobra.RangeArgs(1, 2),
			ValidArgsFunction: linkCompletionFunc,
			Run: func(cmd *cobra.Command, args []string) {
				key := linkKeyArg(args)
				a := openApp(true)
				defer a.close()
				if !a.store.HasLink(key) {
					a.fail("%v: %s", graph.ErrUnknownLink, key)
				}
				a.store.SelectLink(key)
				ui.Banner("link " + key)
				v := a.store.Valence(key)
				if v == nil {
					fmt.Printf("  %s not assessed yet\n", ui.Swatch(nil))
					return
				}
				printValence(v)
			},
		},
	)
	return cmd
}

func printNode(store *graph.Store, n graph.Node) {
	ui.Banner(displayName(n))
	fmt.Printf("  %s  %s\n", ui.Brand.Sprintf("%-10s", "id"), n.ID)
	fmt.Printf("  %s  %s\n", ui.Brand.Sprintf("%-10s", "role"), n.Role)
	fmt.Printf("  %s  %.1f, %.1f\n", ui.Brand.Sprintf("%-10s", "position"), n.X, n.Y)

	var rows [][]string
	for _, l := range store.Links() {
		if l.Source != n.ID && l.Target != n.ID {
			continue
		}
		other := l.Target
		if other == n.ID {
			other = l.Source
		}
		v := store.Valence(l.Key())
		avg := "-"
		if v != nil {
			avg = fmt.Sprintf("%+.1f", v.Average())
		}
		rows = append(rows, []string{ui.Swatch(v), other, string(l.Type), avg})
	}
	if len(rows) == 0 {
		return
	}
	fmt.Println()
	ui.Table([]string{"", "With", "Type", "Average"}, rows)
}
