package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"twitgather/pkg/config"
	"twitgather/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage twitgather configuration files.

Configuration is loaded from:
  - Command line flags (highest priority)
  - Environment variables (TWITGATHER_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration, without secrets, to a YAML file.

The file is created at $XDG_CONFIG_HOME/twitgather/config.yaml unless a
different path is given with --config.`,
	Run: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Show the resolved configuration. Secrets are masked.`,
	Run:   runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from every source and check it, including the
credentials required by the selected mode and the output directories.`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		path, err := xdg.ConfigFile(filepath.Join(config.AppName, "config.yaml"))
		if err != nil {
			ui.PrintError("Failed to resolve config location", err.Error())
			os.Exit(1)
		}
		configPath = path
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store your API secrets with 'twitgather auth login'")
	fmt.Println("2. Run 'twitgather config validate' to check the configuration")
	fmt.Println("3. Start collecting with 'twitgather run'")
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "***"
	}
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, globalFlags(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	display := *cfg
	display.Twitter.ConsumerKey = mask(cfg.Twitter.ConsumerKey)
	display.Twitter.ConsumerSecret = mask(cfg.Twitter.ConsumerSecret)
	display.Twitter.AccessToken = mask(cfg.Twitter.AccessToken)
	display.Twitter.AccessTokenSecret = mask(cfg.Twitter.AccessTokenSecret)
	display.Twitter.BearerToken = mask(cfg.Twitter.BearerToken)

	data, err := yaml.Marshal(&display)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (TWITGATHER_*)")
	fmt.Println("3. .env files")
	if configFile != "" {
		fmt.Printf("4. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("4. Configuration file: (searched in XDG config directories)")
	}
	fmt.Println("5. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, globalFlags(cmd))
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		os.Exit(1)
	}

	var problems []string
	var warnings []string

	if err := cfg.ValidateCredentials(); err != nil {
		warnings = append(warnings, fmt.Sprintf("credentials: %v (stored credentials are checked at run time)", err))
	}

	if err := os.MkdirAll(cfg.Output.DataDir(), 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create data directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		os.Exit(1)
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Mode:           %s\n", cfg.Mode)
	fmt.Printf("  Query:          %s\n", cfg.Twitter.Query)
	fmt.Printf("  Output root:    %s\n", cfg.Output.Root)
	fmt.Printf("  Page size:      %d\n", cfg.Backfill.PageSize)
	fmt.Printf("  Sleep:          %s\n", cfg.Backfill.Sleep)
	fmt.Printf("  Rate limit:     %d requests/%s\n", cfg.Backfill.RequestsPerWindow, cfg.Backfill.Window)
	fmt.Printf("  Log file:       %s (%s)\n", cfg.Logging.File, cfg.Logging.Level)
}
