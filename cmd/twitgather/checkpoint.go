package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"twitgather/pkg/checkpoint"
	"twitgather/pkg/config"
	"twitgather/pkg/record"
	"twitgather/pkg/storage/sqlite"
	"twitgather/pkg/ui"
)

var backupCheckpoint bool

// checkpointCmd represents the checkpoint command
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear the archive checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved archive checkpoint",
	Run:   runCheckpointShow,
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved archive checkpoint",
	Run:   runCheckpointClear,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)

	checkpointCmd.PersistentFlags().StringVarP(&outputPath, "path", "o", "", "output root for data and logs (default: current directory)")
	checkpointClearCmd.Flags().BoolVar(&backupCheckpoint, "backup", false, "keep a copy next to the checkpoint before deleting")
}

func openCheckpoints(cmd *cobra.Command) (*config.Config, *checkpoint.Manager) {
	flags := globalFlags(cmd)
	if cmd.Flags().Changed("path") {
		flags["path"] = outputPath
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	manager, err := checkpoint.NewManager(cfg.Output.CheckpointPath(), nil)
	if err != nil {
		ui.PrintError("Failed to open checkpoint", err.Error())
		os.Exit(1)
	}
	return cfg, manager
}

func runCheckpointShow(cmd *cobra.Command, args []string) {
	cfg, manager := openCheckpoints(cmd)

	info, err := manager.GetCheckpointInfo()
	if err != nil {
		ui.PrintError("Failed to read checkpoint", err.Error())
		os.Exit(1)
	}
	if info == nil {
		ui.PrintInfo("No checkpoint", manager.Path())
		return
	}

	ui.PrintHighlight("Archive Checkpoint")
	ui.PrintInfo("File", manager.Path())
	for _, row := range checkpointRows(info) {
		ui.PrintInfo(row[0], row[1])
	}

	printSeenCounts(cfg)

	if info["last_id"] != checkpoint.Newest {
		fmt.Printf("\nResume with:\n  twitgather run --resume\n")
	}
}

// checkpointRows formats a checkpoint summary as label/value pairs
func checkpointRows(info map[string]interface{}) [][2]string {
	lastID := fmt.Sprintf("%v", info["last_id"])
	if info["last_id"] == checkpoint.Newest {
		lastID = "none (starts from the newest post)"
	}

	rows := [][2]string{
		{"Query", fmt.Sprintf("%v", info["query"])},
		{"Last ID", lastID},
		{"Iterations", fmt.Sprintf("%v", info["iterations"])},
		{"Written", fmt.Sprintf("%v", info["written"])},
	}
	if created, ok := info["created_at"].(time.Time); ok {
		rows = append(rows, [2]string{"Created", created.Format("2006-01-02 15:04:05")})
	}
	if updated, ok := info["updated_at"].(time.Time); ok {
		rows = append(rows, [2]string{"Updated", updated.Format("2006-01-02 15:04:05")})
	}
	if age, ok := info["age"].(time.Duration); ok {
		rows = append(rows, [2]string{"Age", age.Round(time.Second).String()})
	}
	return rows
}

// printSeenCounts reports how many posts per schema the dedupe index holds
func printSeenCounts(cfg *config.Config) {
	path := cfg.Output.SeenIndexPath()
	if _, err := os.Stat(path); err != nil {
		return
	}

	seen, err := sqlite.New(path)
	if err != nil {
		ui.PrintWarning("Failed to open seen index", err.Error())
		return
	}
	defer seen.Close()

	for _, schema := range []string{record.SchemaArchive, record.SchemaStream} {
		n, err := seen.Count(schema)
		if err != nil {
			ui.PrintWarning("Failed to count seen posts", err.Error())
			return
		}
		ui.PrintInfo("Seen ("+schema+")", fmt.Sprintf("%d", n))
	}
}

func runCheckpointClear(cmd *cobra.Command, args []string) {
	_, manager := openCheckpoints(cmd)

	if !manager.Exists() {
		ui.PrintInfo("No checkpoint", manager.Path())
		return
	}

	if backupCheckpoint {
		if err := manager.BackupCheckpoint(); err != nil {
			ui.PrintError("Failed to back up checkpoint", err.Error())
			os.Exit(1)
		}
	}

	if err := manager.Delete(); err != nil {
		ui.PrintError("Failed to delete checkpoint", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Checkpoint cleared")
}
