package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"twitgather/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "twitgather",
	Short: "Collect hashtag posts from Twitter into tab-separated datasets",
	Long: `twitgather collects posts matching a fixed hashtag query.

Two pipelines are available:
  - archive: pages backward through recent search and resumes from a
    checkpoint (OAuth1 user credentials)
  - stream: keeps a filtered stream rule registered and stores pushed
    posts as they arrive (app bearer token)

Records are appended to dataset files under <path>/data and logs are written
to <path>/logs.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/twitgather/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "file log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.SetVersionTemplate(`twitgather {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags returns the persistent flags that were set explicitly, keyed
// the way config.MergeCommandLineFlags expects
func globalFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("log-level") {
		flags["log-level"] = logLevel
	}
	if cmd.Flags().Changed("no-color") {
		flags["no-color"] = noColor
	}
	return flags
}
