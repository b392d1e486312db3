// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

// DelMerger recursively merges a table/family's del files down to a
// bounded count (spec.md §4.3). It is pure with respect to MOB files:
// nothing it does touches a MOB file or a partition.
type DelMerger struct {
	logger    log.Logger
	scanners  ScannerFactory
	writers   WriterFactory
	archiver  Archiver
	cfg       Config
	table     TableName
	family    string
	familyDir string
	idSource  func() string
	now       func() time.Time
}

// NewDelMerger builds a DelMerger. familyDir is where merged del files
// are committed directly (there is no temp/bulkload stage for del
// files, unlike MOB batches).
func NewDelMerger(logger log.Logger, scanners ScannerFactory, writers WriterFactory, archiver Archiver, cfg Config, table TableName, family, familyDir string) *DelMerger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &DelMerger{
		logger: logger, scanners: scanners, writers: writers, archiver: archiver,
		cfg: cfg, table: table, family: family, familyDir: familyDir,
		idSource: func() string { return ulid.Make().String() },
		now:      time.Now,
	}
}

// Merge reduces files to at most cfg.DelFileMaxCount entries, merging
// cfg.BatchSize-sized chunks at a time with a RETAIN_DELETES scan and
// recursing until the cap is met. A failed chunk merge aborts the
// whole call; del files merged by earlier, already-committed rounds
// are left in place (they remain valid del files) and are not rolled
// back.
func (m *DelMerger) Merge(ctx context.Context, files []DelFile) ([]DelFile, error) {
	for len(files) > m.cfg.DelFileMaxCount {
		round, err := m.mergeOnce(ctx, files)
		if err != nil {
			return nil, err
		}
		if len(round) >= len(files) {
			// No chunk could be reduced further (shouldn't happen with
			// BatchSize >= 2, but guards against a del-file-max-count
			// of 1 combined with a batch size of 1 causing an infinite
			// loop).
			return round, nil
		}
		files = round
	}
	return files, nil
}

func (m *DelMerger) mergeOnce(ctx context.Context, files []DelFile) ([]DelFile, error) {
	var out []DelFile

	for start := 0; start < len(files); start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > len(files) {
			end = len(files)
		}
		chunk := files[start:end]

		if len(chunk) < 2 {
			out = append(out, chunk...)
			continue
		}

		merged, err := m.mergeChunk(ctx, chunk)
		if err != nil {
			return nil, errors.Wrapf(err, "merge del-file chunk (%d files)", len(chunk))
		}
		out = append(out, merged)

		paths := make([]string, len(chunk))
		for i, f := range chunk {
			paths[i] = f.Path
		}
		if err := m.archiver.RemoveMobFiles(m.table, m.family, paths); err != nil {
			level.Warn(m.logger).Log("msg", "failed to archive merged del files", "err", err, "files", len(chunk))
		}
	}

	return out, nil
}

func (m *DelMerger) mergeChunk(ctx context.Context, chunk []DelFile) (result DelFile, err error) {
	paths := make([]string, len(chunk))
	for i, f := range chunk {
		paths[i] = f.Path
	}

	scanner, err := m.scanners.NewScanner(ctx, paths, ScanRetainDeletes, m.cfg.KVMax)
	if err != nil {
		return DelFile{}, errors.Wrap(err, "open del-file scanner")
	}
	defer func() {
		if cerr := scanner.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close del-file scanner")
		}
	}()

	writer, werr := m.writers.NewDelWriter(m.familyDir, m.now().UTC().Format(dateLayout), m.cfg.Compression, m.idSource())
	if werr != nil {
		return DelFile{}, errors.Wrap(werr, "open del writer")
	}

	buf := make([]Cell, m.cfg.KVMax)
	for {
		n, hasMore, serr := scanner.Next(buf)
		if serr != nil {
			_ = writer.Close()
			return DelFile{}, errors.Wrap(serr, "scan del files")
		}
		for i := 0; i < n; i++ {
			if aerr := writer.Append(buf[i]); aerr != nil {
				_ = writer.Close()
				return DelFile{}, errors.Wrap(aerr, "write merged del file")
			}
		}
		if !hasMore {
			break
		}
	}

	maxSeqID := aggregateDelMaxSeqID(chunk)
	if err := writer.AppendMetadata(maxSeqID); err != nil {
		_ = writer.Close()
		return DelFile{}, errors.Wrap(err, "write del file trailer")
	}
	if err := writer.Close(); err != nil {
		return DelFile{}, errors.Wrap(err, "close del writer")
	}

	level.Info(m.logger).Log("msg", "merged del-file chunk", "inputs", len(chunk), "output", writer.Path())
	return DelFile{Path: writer.Path(), MaxSequenceID: maxSeqID}, nil
}

func aggregateDelMaxSeqID(files []DelFile) int64 {
	var max int64
	for _, f := range files {
		if f.MaxSequenceID > max {
			max = f.MaxSequenceID
		}
	}
	return max
}
