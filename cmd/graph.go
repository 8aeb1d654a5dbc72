package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/ui"
	"github.com/msalah0e/valence/internal/valence"
)

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "node",
		Short:   "Add, remove and list people on the map",
		Aliases: []string{"nodes", "person"},
		Run: func(cmd *cobra.Command, args []string) {
			listNodes(false)
		},
	}

	cmd.AddCommand(
		nodeAddCmd(),
		nodeRemoveCmd(),
		nodeListCmd(),
	)
	return cmd
}

func nodeAddCmd() *cobra.Command {
	var (
		role string
		id   string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a person",
		Long: `Add a person to the map. Roles: direct-report, manager, peer,
stakeholder, mentor. An id is generated unless --id is given.

  valence node add "Dana Scully" --role manager
  valence node add Fox --role peer --id fox`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			r, err := graph.ParseRole(role)
			if err != nil {
				ui.Bad.Printf("  %v\n", err)
				os.Exit(1)
			}
			if id == "" {
				id = uuid.New().String()
			}

			a := openApp(true)
			if err := a.store.AddNode(graph.Node{ID: id, Name: args[0], Role: r}); err != nil {
				a.fail("%v", err)
			}
			a.commit()

			n, _ := a.store.Node(id)
			ui.Good.Printf("  %s Added %s (%s)\n", ui.StatusIcon(true), ui.Brand.Sprint(n.Name), r)
			fmt.Printf("  %s\n", ui.Subtle.Sprint("id "+id))
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", string(graph.RolePeer), "Relationship role")
	cmd.Flags().StringVar(&id, "id", "", "Node id (default: generated)")
	_ = cmd.RegisterFlagCompletionFunc("role", roleCompletionFunc)
	return cmd
}

func nodeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "rm <id>",
		Aliases:           []string{"remove", "delete"},
		Short:             "Remove a person with all their links",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: nodeCompletionFunc,
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp(true)
			n, err := a.store.Node(args[0])
			if err != nil {
				a.fail("%v", err)
			}
			before := a.store.GetStats()
			if err := a.store.RemoveNode(args[0]); err != nil {
				a.fail("%v", err)
			}
			after := a.store.GetStats()
			a.commit()

			ui.Good.Printf("  %s Removed %s", ui.StatusIcon(true), ui.Brand.Sprint(displayName(n)))
			if dropped := before.Links - after.Links; dropped > 0 {
				fmt.Printf(" and %d link(s)", dropped)
			}
			fmt.Println()
		},
	}
}

func nodeListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List people",
		Run: func(cmd *cobra.Command, args []string) {
			listNodes(asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func listNodes(asJSON bool) {
	a := openApp(true)
	defer a.close()
	nodes := a.store.Nodes()

	if asJSON {
		printJSON(nodes)
		return
	}

	ui.Banner("people")
	degree := make(map[string]int)
	for _, l := range a.store.Links() {
		degree[l.Source]++
		degree[l.Target]++
	}
	var rows [][]string
	for _, n := range nodes {
		pin := ""
		if n.Pinned() {
			pin = "pinned"
		}
		rows = append(rows, []string{
			ui.Truncate(n.ID, 12),
			displayName(n),
			string(n.Role),
			fmt.Sprintf("%d", degree[n.ID]),
			fmt.Sprintf("%.0f,%.0f", n.X, n.Y),
			pin,
		})
	}
	ui.Table([]string{"ID", "Name", "Role", "Links", "Position", ""}, rows)
	fmt.Printf("\n  %d people\n", len(nodes))
}

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "link",
		Short:   "Connect people and list relationships",
		Aliases: []string{"links"},
		Run: func(cmd *cobra.Command, args []string) {
			listLinks(false)
		},
	}

	cmd.AddCommand(
		linkAddCmd(),
		linkRemoveCmd(),
		linkListCmd(),
	)
	return cmd
}

func linkAddCmd() *cobra.Command {
	var linkType string

	cmd := &cobra.Command{
		Use:   "add <source> <target>",
		Short: "Link two people",
		Long: `Link two people by id. Types: reporting, collaboration, advisory.

  valence link add me fox --type collaboration`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: nodeCompletionFunc,
		Run: func(cmd *cobra.Command, args []string) {
			t, err := graph.ParseLinkType(linkType)
			if err != nil {
				ui.Bad.Printf("  %v\n", err)
				os.Exit(1)
			}

			a := openApp(true)
			l := graph.Link{Source: args[0], Target: args[1], Type: t}
			if err := a.store.AddLink(l); err != nil {
				a.fail("%v", err)
			}
			a.commit()

			ui.Good.Printf("  %s Linked %s %s %s (%s)\n", ui.StatusIcon(true),
				ui.Brand.Sprint(args[0]), ui.Subtle.Sprint("→"), ui.Brand.Sprint(args[1]), t)
			fmt.Printf("  %s\n", ui.Subtle.Sprint("key "+l.Key()))
		},
	}

	cmd.Flags().StringVarP(&linkType, "type", "t", string(graph.LinkCollaboration), "Link type")
	_ = cmd.RegisterFlagCompletionFunc("type", linkTypeCompletionFunc)
	return cmd
}

func linkRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "rm <key>",
		Aliases:           []string{"remove", "delete"},
		Short:             "Remove a link and its valence",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: linkCompletionFunc,
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp(true)
			if err := a.store.RemoveLink(args[0]); err != nil {
				a.fail("%v", err)
			}
			a.commit()
			ui.Good.Printf("  %s Removed link %s\n", ui.StatusIcon(true), ui.Brand.Sprint(args[0]))
		},
	}
}

func linkListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List relationships with their valence",
		Run: func(cmd *cobra.Command, args []string) {
			listLinks(asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

type linkView struct {
	Key    string         `json:"key"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Type   graph.LinkType `json:"type"`
	Score  *float64       `json:"average,omitempty"`
	Color  string         `json:"color"`
}

func listLinks(asJSON bool) {
	a := openApp(true)
	defer a.close()
	links := a.store.Links()

	if asJSON {
		scores := a.store.ValenceMap()
		views := make([]linkView, 0, len(links))
		for _, l := range links {
			view := linkView{Key: l.Key(), Source: l.Source, Target: l.Target, Type: l.Type, Color: string(valence.ColorFor(nil))}
			if v, ok := scores[l.Key()]; ok {
				avg := v.Average()
				view.Score = &avg
				view.Color = string(valence.ColorFor(&v))
			}
			views = append(views, view)
		}
		printJSON(views)
		return
	}

	ui.Banner("relationships")
	if len(links) == 0 {
		fmt.Println("  No links yet. Connect someone:")
		fmt.Println()
		ui.Info.Println("  valence link add me <id> --type collaboration")
		return
	}

	names := make(map[string]string)
	for _, n := range a.store.Nodes() {
		names[n.ID] = displayName(n)
	}
	var rows [][]string
	for _, l := range links {
		v := a.store.Valence(l.Key())
		avg := ui.Subtle.Sprint("unrated")
		if v != nil {
			avg = fmt.Sprintf("%+.1f", v.Average())
		}
		rows = append(rows, []string{
			ui.Swatch(v),
			ui.Truncate(l.Key(), 24),
			names[l.Source] + " → " + names[l.Target],
			string(l.Type),
			avg,
		})
	}
	ui.Table([]string{"", "Key", "Between", "Type", "Average"}, rows)
	fmt.Printf("\n  %d links\n", len(links))
}

func displayName(n graph.Node) string {
	if n.ID == graph.MeID && n.Name == "" {
		return "Me"
	}
	if strings.TrimSpace(n.Name) == "" {
		return n.ID
	}
	return n.Name
}
