package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/msalah0e/valence/internal/config"
	"github.com/msalah0e/valence/internal/ui"
)

var version = "0.3.0"

var (
	userFlag    string
	configFlag  string
	verboseFlag bool
	jsonLogs    bool
)

var rootCmd = &cobra.Command{
	Use:   "valence",
	Short: "valence · map and assess your working relationships",
	Long: ui.Brand.Sprint(ui.Mark+" valence") + " · map the people you work with and how each relationship feels\n" +
		ui.Subtle.Sprint("Score trust, communication, support, respect and alignment on every link"),
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if !cfg.UI.Color {
			color.NoColor = true
		}
		if !cfg.UI.Emoji {
			ui.Mark = ""
		}
	},
}

func init() {
	rootCmd.SetVersionTemplate("valence {{ .Version }}\n")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Session owner (default from config or VALENCE_USER)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default $XDG_CONFIG_HOME/valence/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Log as JSON lines")

	rootCmd.AddCommand(
		nodeCmd(),
		linkCmd(),
		valenceCmd(),
		selectCmd(),
		sessionCmd(),
		layoutCmd(),
		serveCmd(),
		actlogCmd(),
		configCmd(),
		completionCmd(),
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var loadedConfig *config.Config

func loadConfig() *config.Config {
	if loadedConfig != nil {
		return loadedConfig
	}
	if configFlag != "" {
		loadedConfig = config.LoadFrom(configFlag)
	} else {
		loadedConfig = config.Load()
	}
	if userFlag != "" {
		loadedConfig.Storage.User = userFlag
	}
	return loadedConfig
}
