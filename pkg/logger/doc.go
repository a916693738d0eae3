// Package logger provides the structured logging interface used by the
// collector pipelines.
//
// It wraps zerolog. Console output is colored and filtered at the console
// level; when a file is configured, entries are also written to a
// size-rotated log file (lumberjack) at the file level, so debug detail can
// go to disk while the terminal only shows progress.
//
//	log, err := logger.New(&cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close(log)
//
//	log.WithField("last_id", cp).Info("Finish")
//
// TestLogger captures entries in memory for assertions; NewNopLogger
// discards everything.
package logger
