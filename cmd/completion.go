package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msalah0e/valence/internal/graph"
)

// completionCmd generates shell completion scripts.
func completionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate completion scripts for your shell.

  # Bash (add to ~/.bashrc)
  eval "$(valence completion bash)"

  # Zsh (add to ~/.zshrc)
  eval "$(valence completion zsh)"

  # Fish
  valence completion fish | source

  # PowerShell
  valence completion powershell | Out-String | Invoke-Expression`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Run: func(cmd *cobra.Command, args []string) {
			switch args[0] {
			case "bash":
				_ = rootCmd.GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				_ = rootCmd.GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				_ = rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				_ = rootCmd.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
			}
		},
	}

	return cmd
}

// completionSnapshot loads the saved session without side effects, or
// returns nil.
func completionSnapshot() *graph.Snapshot {
	cfg := loadConfig()
	b, err := openBackend(cfg, "", nil)
	if err != nil {
		return nil
	}
	defer closeBackend(b)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout/10)
	defer cancel()
	snap, err := b.Load(ctx, cfg.Storage.User)
	if err != nil {
		return nil
	}
	return snap
}

// nodeCompletionFunc completes node ids with names as descriptions.
func nodeCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	snap := completionSnapshot()
	if snap == nil {
		return []string{graph.MeID}, cobra.ShellCompDirectiveNoFileComp
	}
	var completions []string
	for _, n := range snap.Nodes {
		completions = append(completions, n.ID+"\t"+displayName(n))
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// linkCompletionFunc completes link keys.
func linkCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	snap := completionSnapshot()
	if snap == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var completions []string
	for _, l := range snap.Links {
		completions = append(completions, l.Key()+"\t"+string(l.Type))
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func roleCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, r := range graph.Roles {
		if r == graph.RoleSelf {
			continue
		}
		completions = append(completions, strings.ReplaceAll(strings.ToLower(string(r)), " ", "-"))
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func linkTypeCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, t := range graph.LinkTypes {
		completions = append(completions, strings.ToLower(string(t)))
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}
