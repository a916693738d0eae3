// Package storage owns the append-only dataset files.
//
// A Buffer serializes records to tab-separated lines, replacing nulls with
// "none" and flattening whitespace so one record is always one line. Lines
// are held in memory and appended to the file once more than the flush
// threshold are pending; the file is opened and closed on every flush, so
// external rotation or inspection between flushes is safe. Up to a
// threshold's worth of records can be lost if the process crashes before a
// flush. A failed write is truncated away so the file only ever grows by
// whole batches.
//
//	buf, err := storage.NewBuffer(cfg.Output.DatasetPath(record.SchemaArchive),
//	    storage.WithIndex(seen))
//	if err != nil {
//	    return err
//	}
//	defer buf.Close()
//
//	if err := buf.Append(record.FromPost(post)); errors.Is(err, storage.ErrDuplicate) {
//	    // already collected by an earlier run
//	}
//
// With an Index, keys are recorded only after their lines reach the file,
// so a crash never marks an unwritten record as collected. An index update
// that fails after the write is retried on the next flush.
package storage
