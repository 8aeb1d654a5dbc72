package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/ui"
	"github.com/msalah0e/valence/internal/valence"
)

func valenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "valence",
		Short:   "Score a relationship on five dimensions",
		Aliases: []string{"score"},
	}

	cmd.AddCommand(
		valenceSetCmd(),
		valenceShowCmd(),
	)
	return cmd
}

// linkKeyArg accepts either a link key or a source and target id.
func linkKeyArg(args []string) string {
	if len(args) == 2 {
		return graph.LinkKey(args[0], args[1])
	}
	return args[0]
}

func valenceSetCmd() *cobra.Command {
	scores := make(map[string]*int, len(valence.Dimensions))
	var notes string

	cmd := &cobra.Command{
		Use:   "set <key | source target>",
		Short: "Set valence scores on a link",
		Long: `Set one or more dimension scores on a link. Scores run from -5 to 5 and
are clamped to that range. Dimensions not given keep their current value.

  valence valence set me-fox --trust 4 --respect 3
  valence valence set me fox --notes "great 1:1 last week"`,
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: linkCompletionFunc,
		Run: func(cmd *cobra.Command, args []string) {
			key := linkKeyArg(args)
			a := openApp(true)

			v := valence.Valence{}
			if cur := a.store.Valence(key); cur != nil {
				v = *cur
			}
			changed := false
			for _, dim := range valence.Dimensions {
				if cmd.Flags().Changed(dim) {
					v.Set(dim, *scores[dim])
					changed = true
				}
			}
			if cmd.Flags().Changed("notes") {
				v.Notes = notes
				changed = true
			}
			if !changed {
				a.close()
				ui.Warn.Printf("  %s Nothing to set. Pass at least one of --%s or --notes\n",
					ui.WarnIcon(), strings.Join(valence.Dimensions, ", --"))
				return
			}

			if err := a.store.UpdateValence(key, v); err != nil {
				a.fail("%v", err)
			}
			a.commit()

			saved := a.store.Valence(key)
			ui.Good.Printf("  %s Updated %s %s\n", ui.StatusIcon(true), ui.Brand.Sprint(key), ui.Swatch(saved))
			printValence(saved)
		},
	}

	for _, dim := range valence.Dimensions {
		scores[dim] = cmd.Flags().Int(dim, 0, fmt.Sprintf("%s score (-5..5)", strings.ToUpper(dim[:1])+dim[1:]))
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	return cmd
}

func valenceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "show <key | source target>",
		Short:             "Show the valence of a link",
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: linkCompletionFunc,
		Run: func(cmd *cobra.Command, args []string) {
			key := linkKeyArg(args)
			a := openApp(true)
			defer a.close()

			if !a.store.HasLink(key) {
				a.fail("%v: %s", graph.ErrUnknownLink, key)
			}
			ui.Banner("valence " + key)
			v := a.store.Valence(key)
			if v == nil {
				fmt.Printf("  %s not assessed yet\n", ui.Swatch(nil))
				fmt.Println()
				ui.Info.Printf("  valence valence set %s --trust 3\n", key)
				return
			}
			printValence(v)
		},
	}
}

func printValence(v *valence.Valence) {
	if v == nil {
		return
	}
	for _, dim := range valence.Dimensions {
		n, _ := v.Get(dim)
		fmt.Printf("  %s  %s\n", ui.Brand.Sprintf("%-14s", dim), ui.Score(n))
	}
	avg := v.Average()
	fmt.Printf("  %s  %+.1f %s (%s)\n", ui.Brand.Sprintf("%-14s", "average"), avg,
		ui.Swatch(v), valence.BucketFor(avg))
	if v.Notes != "" {
		fmt.Printf("\n  %s\n", ui.Subtle.Sprint(v.Notes))
	}
}
