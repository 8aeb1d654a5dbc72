package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/msalah0e/valence/internal/activity"
	"github.com/msalah0e/valence/internal/ui"
)

func actlogCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:     "log",
		Aliases: []string{"activity", "history"},
		Short:   "Show what changed on the map and when",
		Run: func(cmd *cobra.Command, args []string) {
			ui.Banner("activity log")

			entries, err := activityLog().Read(count)
			if err != nil || len(entries) == 0 {
				fmt.Println("  No activity recorded yet.")
				fmt.Println("  Activity is logged whenever the map changes.")
				return
			}

			printEntries(entries)
			fmt.Printf("\n  Showing %d most recent entries\n", len(entries))
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 20, "Number of entries (0 for all)")
	cmd.AddCommand(
		actlogSearchCmd(),
		actlogClearCmd(),
		actlogExportCmd(),
		actlogStatsCmd(),
	)
	return cmd
}

func activityLog() *activity.Log {
	return activity.Open(activity.DefaultPath())
}

func printEntries(entries []activity.Entry) {
	var rows [][]string
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("Jan 02 15:04"),
			e.Action,
			e.User,
			ui.Truncate(e.Subject, 24),
			ui.Truncate(e.Details, 30),
		})
	}
	ui.Table([]string{"Time", "Action", "User", "Subject", "Details"}, rows)
}

func actlogSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search activity log entries",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			results, err := activityLog().Search(args[0], 50)
			if err != nil || len(results) == 0 {
				fmt.Printf("  No entries matching %q\n", args[0])
				return
			}

			ui.Banner("search results")
			printEntries(results)
			fmt.Printf("\n  %d results\n", len(results))
		},
	}
}

func actlogClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the activity log",
		Run: func(cmd *cobra.Command, args []string) {
			if err := activityLog().Clear(); err != nil {
				ui.Bad.Printf("  Failed to clear: %v\n", err)
				os.Exit(1)
			}
			ui.Good.Printf("  %s Activity log cleared\n", ui.StatusIcon(true))
		},
	}
}

func actlogExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export activity log as JSON",
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := activityLog().Read(0)
			if err != nil {
				ui.Bad.Printf("  %v\n", err)
				os.Exit(1)
			}
			if entries == nil {
				entries = []activity.Entry{}
			}
			printJSON(entries)
		},
	}
}

func actlogStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show activity statistics",
		Run: func(cmd *cobra.Command, args []string) {
			ui.Banner("activity stats")

			entries, err := activityLog().Read(0)
			if err != nil || len(entries) == 0 {
				fmt.Println("  No activity data")
				return
			}

			actionCounts := make(map[string]int)
			userCounts := make(map[string]int)
			for _, e := range entries {
				actionCounts[e.Action]++
				userCounts[e.User]++
			}

			fmt.Printf("  Total entries: %d\n", len(entries))
			fmt.Printf("  Since:         %s\n\n", entries[len(entries)-1].Timestamp.Local().Format("Jan 02 2006 15:04"))

			fmt.Println("  By action:")
			printCounts(actionCounts)
			fmt.Println("\n  By user:")
			printCounts(userCounts)
		},
	}
}

func printCounts(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Printf("    %-20s %d\n", k, counts[k])
	}
}
