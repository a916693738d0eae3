package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"twitgather/pkg/auth"
	"twitgather/pkg/backfill"
	"twitgather/pkg/checkpoint"
	"twitgather/pkg/config"
	"twitgather/pkg/logger"
	"twitgather/pkg/ratelimit"
	"twitgather/pkg/record"
	"twitgather/pkg/storage"
	"twitgather/pkg/storage/sqlite"
	"twitgather/pkg/stream"
	"twitgather/pkg/twitter"
	"twitgather/pkg/ui"
)

var (
	// Run command flags
	mode              string
	lastID            int64
	pageSize          int
	pageCount         int
	sleepSeconds      int
	outputPath        string
	dedupe            bool
	accountName       string
	consumerKey       string
	consumerSecret    string
	accessToken       string
	accessTokenSecret string
	bearerToken       string
	resumeRun         bool
	forceRestart      bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect posts with the archive pager, the stream subscriber or both",
	Long: `Collect posts matching the configured query.

The archive pipeline needs OAuth1 user credentials (consumer key and secret,
access token and secret). The stream pipeline needs an app bearer token.
Credentials are read from flags, the environment, the config file or the
credential store (see 'twitgather auth login').

The archive pipeline persists its checkpoint after every page. An interrupted
run can be continued with --resume, or from any id with --last-id.`,
	Example: `  # Page backward through recent search
  twitgather run --mode archive

  # Continue the previous archive run
  twitgather run --resume

  # Ten pages of 500 posts, one minute apart
  twitgather run --page-size 500 --page-count 10 --sleep 60

  # Both pipelines into ./collected
  twitgather run --mode both --path ./collected`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&mode, "mode", "m", config.ModeArchive, "pipelines to run (archive, stream, both)")
	runCmd.Flags().Int64Var(&lastID, "last-id", 0, "start below this post id (0 starts from the newest post)")
	runCmd.Flags().IntVar(&pageSize, "page-size", config.DefaultPageSize, "posts requested per archive iteration")
	runCmd.Flags().IntVar(&pageCount, "page-count", 0, "number of archive iterations (0 runs until interrupted)")
	runCmd.Flags().IntVar(&sleepSeconds, "sleep", 900, "seconds to sleep between archive iterations")
	runCmd.Flags().StringVarP(&outputPath, "path", "o", "", "output root for data and logs (default: current directory)")
	runCmd.Flags().BoolVar(&dedupe, "dedupe", true, "skip posts already written by an earlier run")
	runCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored credential set")
	runCmd.Flags().StringVar(&consumerKey, "consumer-key", "", "OAuth1 consumer key")
	runCmd.Flags().StringVar(&consumerSecret, "consumer-secret", "", "OAuth1 consumer secret")
	runCmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth1 access token")
	runCmd.Flags().StringVar(&accessTokenSecret, "access-token-secret", "", "OAuth1 access token secret")
	runCmd.Flags().StringVar(&bearerToken, "bearer-token", "", "app bearer token for the filtered stream")
	runCmd.Flags().BoolVar(&resumeRun, "resume", false, "resume from the saved archive checkpoint")
	runCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "delete the saved archive checkpoint before starting")

	runCmd.MarkFlagsMutuallyExclusive("resume", "force-restart")
	runCmd.MarkFlagsMutuallyExclusive("resume", "last-id")
}

// runFlags collects the flags that were set explicitly
func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := globalFlags(cmd)
	changed := cmd.Flags().Changed

	if changed("mode") {
		flags["mode"] = mode
	}
	if changed("last-id") {
		flags["last-id"] = lastID
	}
	if changed("page-size") {
		flags["page-size"] = pageSize
	}
	if changed("page-count") {
		flags["page-count"] = pageCount
	}
	if changed("sleep") {
		flags["sleep"] = sleepSeconds
	}
	if changed("path") {
		flags["path"] = outputPath
	}
	if changed("dedupe") {
		flags["dedupe"] = dedupe
	}
	if changed("account") {
		flags["account"] = accountName
	}
	flags["consumer-key"] = consumerKey
	flags["consumer-secret"] = consumerSecret
	flags["access-token"] = accessToken
	flags["access-token-secret"] = accessTokenSecret
	flags["bearer-token"] = bearerToken
	return flags
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, runFlags(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}
	if cfg.Logging.NoColor {
		ui.DisableColor()
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	log := logger.GetLogger()
	defer logger.Close(log)

	ui.PrintLogo()
	log.InfoWithFields("twitgather starting", map[string]interface{}{
		"version": version,
		"mode":    cfg.Mode,
		"query":   cfg.Twitter.Query,
		"root":    cfg.Output.Root,
	})

	if err := resolveCredentials(cfg, log); err != nil {
		log.WithError(err).Error("No usable credentials")
		ui.PrintError("No usable credentials", err.Error())
		fmt.Println("\nTo store credentials securely, run:")
		fmt.Println("  twitgather auth login")
		fmt.Println("\nOr set environment variables:")
		fmt.Println("  export TWITGATHER_CONSUMER_KEY=... TWITGATHER_CONSUMER_SECRET=...")
		fmt.Println("  export TWITGATHER_ACCESS_TOKEN=... TWITGATHER_ACCESS_TOKEN_SECRET=...")
		fmt.Println("  export TWITGATHER_BEARER_TOKEN=...")
		os.Exit(1)
	}

	var index storage.Index
	if cfg.Output.Dedupe {
		seen, err := sqlite.New(cfg.Output.SeenIndexPath())
		if err != nil {
			log.WithError(err).Error("Failed to open seen index")
			ui.PrintError("Failed to open seen index", err.Error())
			os.Exit(1)
		}
		defer seen.Close()
		index = seen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := ui.NewStatusTracker()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.NeedsArchive() {
		pager, buf, err := newArchivePipeline(cfg, index, log)
		if err != nil {
			log.WithError(err).Error("Failed to set up archive pipeline")
			ui.PrintError("Failed to set up archive pipeline", err.Error())
			os.Exit(1)
		}
		ui.PrintInfo("Archive dataset", buf.Path())

		g.Go(func() error {
			defer buf.Close()
			logger.LogComponentStart(log, "archive", map[string]interface{}{
				"dataset": buf.Path(),
				"start":   cfg.Backfill.StartID,
			})
			err := pager.Run(ctx)
			logger.LogComponentStop(log, "archive", stopReason(err))
			status.Record(record.SchemaArchive, int64(pager.Collected()))
			if id := pager.LastID(); id != checkpoint.Newest {
				status.SetLastID(id)
			}
			return err
		})
	}

	if cfg.NeedsStream() {
		sub, buf, err := newStreamPipeline(cfg, index, log)
		if err != nil {
			log.WithError(err).Error("Failed to set up stream pipeline")
			ui.PrintError("Failed to set up stream pipeline", err.Error())
			os.Exit(1)
		}
		ui.PrintInfo("Stream dataset", buf.Path())

		g.Go(func() error {
			defer buf.Close()
			logger.LogComponentStart(log, "stream", map[string]interface{}{
				"dataset": buf.Path(),
				"tag":     cfg.Twitter.RuleTag,
			})
			err := sub.Run(ctx)
			logger.LogComponentStop(log, "stream", stopReason(err))
			status.Record(record.SchemaStream, sub.Stored())
			return err
		})
	}

	ui.PrintHighlight("[COLLECTING]")
	err = g.Wait()
	status.PrintSummary()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Collection failed")
		ui.PrintError("COLLECTION FAILED", err.Error())
		logger.Close(log)
		os.Exit(1)
	}

	log.InfoWithFields("twitgather stopped", map[string]interface{}{
		"collected": status.Total(),
	})
	ui.PrintSuccess("[COLLECTION STOPPED]")
	return nil
}

func stopReason(err error) string {
	switch {
	case err == nil:
		return "finished"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return err.Error()
	}
}

// resolveCredentials fills missing secrets from the credential store. An
// explicit --account always wins; otherwise the default stored set is used
// only when flags, environment and config file left something out.
func resolveCredentials(cfg *config.Config, log logger.Logger) error {
	if cfg.Twitter.Account == "" && cfg.ValidateCredentials() == nil {
		log.Debug("Using credentials from configuration")
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var creds *auth.Credentials
	if cfg.Twitter.Account != "" {
		creds, err = manager.Retrieve(cfg.Twitter.Account)
		if err != nil {
			return fmt.Errorf("account %q: %w", cfg.Twitter.Account, err)
		}
	} else {
		creds, err = manager.RetrieveDefault()
		if err != nil && !errors.Is(err, auth.ErrCredentialsNotFound) {
			return err
		}
	}

	if creds != nil {
		creds.Apply(&cfg.Twitter)
		log.WithField("account", creds.Name).Info("Using stored credentials")
		ui.PrintInfo("Using account", creds.Name)
	}

	return cfg.ValidateCredentials()
}

func newBuffer(cfg *config.Config, schema string, index storage.Index, log logger.Logger) (*storage.Buffer, error) {
	opts := []storage.Option{
		storage.WithThreshold(cfg.Output.FlushThreshold),
		storage.WithLogger(log.WithField("dataset", schema)),
	}
	if index != nil {
		opts = append(opts, storage.WithIndex(index))
	}
	return storage.NewBuffer(cfg.Output.DatasetPath(schema), opts...)
}

func newArchivePipeline(cfg *config.Config, index storage.Index, log logger.Logger) (*backfill.Pager, *storage.Buffer, error) {
	checkpoints, err := checkpoint.NewManager(cfg.Output.CheckpointPath(), log)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case forceRestart:
		if err := checkpoints.Delete(); err != nil {
			return nil, nil, err
		}
		ui.PrintWarning("Checkpoint cleared, starting from the newest post")
	case resumeRun:
		cp, err := checkpoints.Load()
		if err != nil {
			return nil, nil, err
		}
		if cp == nil || cp.Query != cfg.Twitter.Query {
			ui.PrintWarning("No checkpoint to resume for this query, starting from the newest post")
		} else if cp.LastID != checkpoint.Newest {
			cfg.Backfill.StartID = cp.LastID
			ui.PrintInfo("Resuming below id", fmt.Sprintf("%d", cp.LastID))
		}
	}

	httpClient := twitter.NewOAuth1HTTPClient(
		cfg.Twitter.ConsumerKey,
		cfg.Twitter.ConsumerSecret,
		cfg.Twitter.AccessToken,
		cfg.Twitter.AccessTokenSecret,
		cfg.Twitter.RequestTimeout,
	)
	searcher, err := twitter.NewSearchClient(httpClient, twitter.SearchOptions{
		BaseURL: cfg.Twitter.APIBaseURL,
		Limiter: ratelimit.NewSlidingWindow(cfg.Backfill.RequestsPerWindow, cfg.Backfill.Window),
		Logger:  log,
	})
	if err != nil {
		return nil, nil, err
	}

	buf, err := newBuffer(cfg, record.SchemaArchive, index, log)
	if err != nil {
		return nil, nil, err
	}

	opts := backfill.OptionsFromConfig(cfg)
	opts.Checkpoints = checkpoints
	opts.Logger = log
	return backfill.NewPager(searcher, buf, opts), buf, nil
}

func newStreamPipeline(cfg *config.Config, index storage.Index, log logger.Logger) (*stream.Subscriber, *storage.Buffer, error) {
	client, err := twitter.NewStreamClient(cfg.Twitter.BearerToken, twitter.StreamOptions{
		BaseURL:        cfg.Twitter.StreamBaseURL,
		Fields:         cfg.Twitter.TweetFields,
		RequestTimeout: cfg.Twitter.RequestTimeout,
		// rule management allows 450 requests per 15 minute window
		RuleLimiter: ratelimit.NewTokenBucket(450, 15*time.Minute),
		Logger:      log,
	})
	if err != nil {
		return nil, nil, err
	}

	buf, err := newBuffer(cfg, record.SchemaStream, index, log)
	if err != nil {
		return nil, nil, err
	}

	opts := stream.OptionsFromConfig(cfg)
	opts.Logger = log
	return stream.NewSubscriber(client, buf, opts), buf, nil
}
