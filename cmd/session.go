package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/session"
	"github.com/msalah0e/valence/internal/storage"
	"github.com/msalah0e/valence/internal/ui"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show, export, import and sync the saved map",
		Run: func(cmd *cobra.Command, args []string) {
			showSession()
		},
	}

	cmd.AddCommand(
		sessionShowCmd(),
		sessionExportCmd(),
		sessionImportCmd(),
		sessionClearCmd(),
		sessionPullCmd(),
		sessionPushCmd(),
	)
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Summarize the saved session",
		Run: func(cmd *cobra.Command, args []string) {
			showSession()
		},
	}
}

func showSession() {
	a := openApp(true)
	defer a.close()

	st := a.store.GetStats()
	ui.Banner("session")
	fmt.Printf("  %s  %s\n", ui.Brand.Sprintf("%-12s", "User"), a.user)
	fmt.Printf("  %s  %s\n", ui.Brand.Sprintf("%-12s", "Backend"), a.backend.Name())
	fmt.Printf("  %s  %d\n", ui.Brand.Sprintf("%-12s", "People"), st.Nodes)
	fmt.Printf("  %s  %d\n", ui.Brand.Sprintf("%-12s", "Links"), st.Links)
	fmt.Printf("  %s  %d of %d\n", ui.Brand.Sprintf("%-12s", "Assessed"), st.Assessed, st.Links)
	switch b := a.backend.(type) {
	case *storage.FileBackend:
		fmt.Println()
		fmt.Printf("  %s\n", ui.Subtle.Sprint("Stored at "+b.Path(a.user)))
	case *storage.SQLiteBackend:
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if users, err := b.Users(ctx); err == nil {
			fmt.Printf("  %s  %s\n", ui.Brand.Sprintf("%-12s", "Sessions"), strings.Join(users, ", "))
		}
	case *storage.Breaker:
		fmt.Printf("  %s  %s\n", ui.Brand.Sprintf("%-12s", "Circuit"), b.State())
	}
}

func sessionExportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the session as JSON or YAML",
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp(true)
			defer a.close()

			var (
				data []byte
				err  error
			)
			switch strings.ToLower(format) {
			case "json":
				data, err = a.store.ExportJSON()
			case "yaml", "yml":
				snap := a.store.Snapshot()
				snap.ExportDate = time.Now().UTC().Format(time.RFC3339)
				data, err = yaml.Marshal(snap)
			default:
				a.fail("unknown format %q (want json or yaml)", format)
			}
			if err != nil {
				a.fail("Export failed: %v", err)
			}

			if output == "" {
				fmt.Println(string(data))
				return
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				a.fail("Failed to write %s: %v", output, err)
			}
			ui.Good.Printf("  %s Exported to %s\n", ui.StatusIcon(true), output)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

// parseSnapshotFile reads a JSON or YAML export, chosen by extension.
func parseSnapshotFile(path string) (graph.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return graph.Snapshot{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var snap graph.Snapshot
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return graph.Snapshot{}, fmt.Errorf("%w: %v", graph.ErrInvalidSnapshot, err)
		}
		return snap, nil
	}
	return graph.ParseSnapshot(data)
}

func sessionImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the session with an exported file",
		Long: `Replace the whole session with a JSON or YAML export. The file is
validated first; nothing changes if it is invalid.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			snap, err := parseSnapshotFile(args[0])
			if err != nil {
				ui.Bad.Printf("  %v\n", err)
				os.Exit(1)
			}

			a := openApp(true)
			if err := a.restorer.Load(snap); err != nil {
				a.fail("%v", err)
			}
			a.commit()
			ui.Good.Printf("  %s Imported %d people and %d links\n", ui.StatusIcon(true), len(snap.Nodes), len(snap.Links))
		},
	}
}

func sessionClearCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset the map to just you",
		Run: func(cmd *cobra.Command, args []string) {
			if !force {
				ui.Warn.Printf("  %s This removes every person, link and score. Re-run with --force.\n", ui.WarnIcon())
				return
			}
			a := openApp(true)
			a.restorer.Clear()
			a.commit()
			ui.Good.Printf("  %s Session cleared\n", ui.StatusIcon(true))
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the safety check")
	return cmd
}

func sessionPullCmd() *cobra.Command {
	var (
		from  string
		token string
	)

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Replace the local session with a remote copy",
		Long: `Load the session from another backend (supabase by default) and save
it to the configured one. With --token the user id is resolved from a
Supabase access token.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			if from == cfg.Storage.Backend {
				ui.Bad.Printf("  --from %s is already the configured backend\n", from)
				os.Exit(1)
			}
			if token != "" {
				cfg.Storage.User = resolveUser(cfg.Supabase.URL, cfg.Supabase.Key, token)
			}

			a := openApp(true)
			remote, err := openBackend(cfg, from, a.logger)
			if err != nil {
				a.fail("Failed to open %s: %v", from, err)
			}
			defer closeBackend(remote)

			pull := session.NewRestorer(remote, a.store, a.user, a.logger)
			session.AttachHooks(a.hooks, nil, pull, a.logger)
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			snap, err := pull.Restore(ctx)
			if errors.Is(err, storage.ErrNotFound) {
				a.close()
				ui.Warn.Printf("  %s No %s session for %s\n", ui.WarnIcon(), from, a.user)
				return
			}
			if err != nil {
				a.fail("Pull failed: %v", err)
			}
			a.commit()
			ui.Good.Printf("  %s Pulled %d people and %d links from %s\n", ui.StatusIcon(true), len(snap.Nodes), len(snap.Links), from)
		},
	}

	cmd.Flags().StringVar(&from, "from", storage.KindSupabase, "Backend to pull from")
	cmd.Flags().StringVar(&token, "token", "", "Supabase access token identifying the user")
	return cmd
}

func sessionPushCmd() *cobra.Command {
	var (
		to          string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Copy the local session to other backends",
		Long: `Save the current session to one or more other backends in parallel.

  valence session push                     # to supabase
  valence session push --to sqlite,supabase`,
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp(true)
			defer a.close()

			var backends []storage.Backend
			for _, kind := range strings.Split(to, ",") {
				kind = strings.TrimSpace(kind)
				if kind == "" || kind == a.cfg.Storage.Backend {
					continue
				}
				b, err := openBackend(a.cfg, kind, a.logger)
				if err != nil {
					a.fail("Failed to open %s: %v", kind, err)
				}
				defer closeBackend(b)
				backends = append(backends, b)
			}
			if len(backends) == 0 {
				a.fail("No target backends other than %s", a.cfg.Storage.Backend)
			}

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			results := session.Push(ctx, a.user, a.store.Snapshot(), backends, concurrency)

			ui.Banner("push")
			var rows [][]string
			failed := 0
			for _, r := range results {
				status := "saved"
				if !r.OK() {
					status = r.Err.Error()
					failed++
				}
				rows = append(rows, []string{ui.StatusIcon(r.OK()), r.Backend, r.Elapsed.Round(time.Millisecond).String(), status})
			}
			ui.Table([]string{"", "Backend", "Time", "Result"}, rows)
			if failed > 0 {
				fmt.Println()
				a.fail("%d of %d pushes failed", failed, len(results))
			}
		},
	}

	cmd.Flags().StringVar(&to, "to", storage.KindSupabase, "Comma-separated target backends")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 4, "Parallel pushes")
	return cmd
}

// resolveUser exchanges a Supabase access token for its user id or exits.
func resolveUser(url, key, token string) string {
	sb, err := storage.NewSupabaseBackend(url, key)
	if err != nil {
		ui.Bad.Printf("  %v\n", err)
		os.Exit(1)
	}
	id, err := sb.ResolveUser(token)
	if err != nil {
		ui.Bad.Printf("  Could not resolve user from token: %v\n", err)
		os.Exit(1)
	}
	return id
}

func closeBackend(b storage.Backend) {
	if c, ok := b.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

// printJSON is used by commands with a --json flag.
func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
