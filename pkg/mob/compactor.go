// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"context"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// batchState is the state-machine of one batch's lifecycle (spec.md
// §4.4 "Scope of try/finally cleanup"). Each stage arms or disarms the
// undo actions that must run if the batch fails before reaching DONE.
type batchState int

const (
	stateInit batchState = iota
	stateMobOpen
	stateRefOpen
	stateScanDone
	stateCommitted
	stateAttached
	stateDone
)

// cleanupLadder tracks which undo actions remain armed for the batch
// currently in flight, and runs them in reverse on any exit path. This
// is the explicit state machine spec.md §9 asks for in place of a
// try/finally/try/finally nest.
type cleanupLadder struct {
	fs Filesystem

	state               batchState
	tmpMobPath          string
	committedMobPath    string
	bulkloadDir         string
	cleanupTmpMob       bool
	cleanupBulkloadDir  bool
	cleanupCommittedMob bool
	logger              log.Logger
}

func (c *cleanupLadder) armTmpMob(path string) {
	c.tmpMobPath = path
	c.cleanupTmpMob = true
}

func (c *cleanupLadder) armBulkloadDir(dir string) {
	c.bulkloadDir = dir
	c.cleanupBulkloadDir = true
}

func (c *cleanupLadder) armCommittedMob(path string) {
	c.committedMobPath = path
	c.cleanupCommittedMob = true
	// Once committed, the temp path no longer exists under that name.
	c.cleanupTmpMob = false
}

// disarm marks the batch ATTACHED: every cleanup below is no longer
// the caller's responsibility.
func (c *cleanupLadder) disarm() {
	c.cleanupTmpMob = false
	c.cleanupBulkloadDir = false
	c.cleanupCommittedMob = false
}

// unwind runs the armed undo actions for the state the batch failed
// in. Before COMMITTED: delete the temp MOB file and wipe the staging
// directory. Between COMMITTED and ATTACHED: delete the just-committed
// MOB file from the family directory, since no reference yet points at
// it.
func (c *cleanupLadder) unwind() {
	if c.cleanupCommittedMob {
		if err := c.fs.Remove(c.committedMobPath, false); err != nil {
			level.Error(c.logger).Log("msg", "failed to remove committed MOB file during rollback", "path", c.committedMobPath, "err", err)
		}
	}
	if c.cleanupBulkloadDir {
		if err := c.fs.Remove(c.bulkloadDir, true); err != nil {
			level.Error(c.logger).Log("msg", "failed to wipe bulkload staging dir during rollback", "path", c.bulkloadDir, "err", err)
		}
	}
	if c.cleanupTmpMob {
		if err := c.fs.Remove(c.tmpMobPath, false); err != nil {
			level.Error(c.logger).Log("msg", "failed to remove temp MOB file during rollback", "path", c.tmpMobPath, "err", err)
		}
	}
}

// PartitionCompactor is the per-partition emission engine (spec.md
// §4.4): it repeatedly takes a batch of MOB files, scans it together
// with the globally-merged del files, and writes a new MOB file plus a
// correlated reference file.
type PartitionCompactor struct {
	logger     log.Logger
	fs         Filesystem
	scanners   ScannerFactory
	writers    WriterFactory
	commit     *CommitCoordinator
	cfg        Config
	table      TableName
	family     string
	tmpDir     string
	familyDir  string
	bulkRoot   string
	metrics    *Metrics
}

// NewPartitionCompactor builds a PartitionCompactor. tmpDir is where
// MOB writers stage their output before commit; familyDir is the
// column family's committed-file home; bulkRoot is the root of the
// per-partition reference-file staging tree: each partition stages its
// reference files under bulkRoot/<startKey>_<date>. The table's
// namespace and name are not part of that path.
func NewPartitionCompactor(logger log.Logger, fs Filesystem, scanners ScannerFactory, writers WriterFactory, commit *CommitCoordinator, cfg Config, table TableName, family, tmpDir, familyDir, bulkRoot string, metrics *Metrics) *PartitionCompactor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &PartitionCompactor{
		logger: logger, fs: fs, scanners: scanners, writers: writers, commit: commit,
		cfg: cfg, table: table, family: family, tmpDir: tmpDir, familyDir: familyDir, bulkRoot: bulkRoot,
		metrics: metrics,
	}
}

func partitionStagingDir(bulkRoot string, id PartitionID) string {
	return filepath.Join(bulkRoot, id.StartKey+"_"+id.Date)
}

// Compact drives one partition to completion: it repeatedly batches
// the partition's files, emits MOB+reference outputs for each, and
// returns the paths the partition contributed to the final result
// (newly written MOB files, or a carried-over singleton).
func (pc *PartitionCompactor) Compact(ctx context.Context, p *Partition, delPaths []string, selectionTime int64) ([]string, error) {
	stagingDir := partitionStagingDir(pc.bulkRoot, p.ID)

	var out []string
	files := p.Files
	for start := 0; start < len(files); start += pc.cfg.BatchSize {
		end := start + pc.cfg.BatchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[start:end]

		if len(batch) == 1 && len(delPaths) == 0 {
			// No rewrite needed: carry the lone file over unchanged.
			out = append(out, batch[0].Path)
			continue
		}

		begin := time.Now()
		paths, err := pc.runBatch(ctx, p, batch, delPaths, stagingDir, selectionTime)
		if pc.metrics != nil {
			pc.metrics.batchDuration.Observe(time.Since(begin).Seconds())
		}
		if err != nil {
			return nil, errors.Wrapf(err, "partition %s batch %d-%d", p.ID, start, end)
		}
		out = append(out, paths...)

		// Delete the staging directory before the next batch so a
		// future batch's reference file never gets bulkloaded twice
		// (spec.md §4.4 step 8).
		if err := pc.fs.Remove(stagingDir, true); err != nil {
			level.Warn(pc.logger).Log("msg", "failed to clear partition bulkload staging dir between batches", "dir", stagingDir, "err", err)
		}
	}

	return out, nil
}

func (pc *PartitionCompactor) runBatch(ctx context.Context, p *Partition, batch []MobFile, delPaths []string, stagingDir string, selectionTime int64) (paths []string, err error) {
	ladder := &cleanupLadder{fs: pc.fs, logger: pc.logger}
	defer ladder.unwind()

	scanPaths := make([]string, 0, len(batch)+len(delPaths))
	for _, f := range batch {
		scanPaths = append(scanPaths, f.Path)
	}
	scanPaths = append(scanPaths, delPaths...)

	scanner, err := pc.scanners.NewScanner(ctx, scanPaths, ScanDropDeletes, pc.cfg.KVMax)
	if err != nil {
		return nil, errors.Wrap(err, "open compaction scanner")
	}
	defer func() {
		if cerr := scanner.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close compaction scanner")
		}
	}()

	maxSeqID := aggregateMaxSeqID(batch)
	expectedCells := aggregateExpectedCells(batch)

	mobWriter, err := pc.writers.NewMobWriter(pc.tmpDir, p.ID.StartKey, p.LatestDate, maxSeqID, pc.cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, "open MOB writer")
	}
	ladder.state = stateMobOpen
	ladder.armTmpMob(mobWriter.Path())

	// The reference cells written below must name the MOB file this
	// batch actually produces, not a second, independently-generated
	// name: mobWriter.Path() is the one name both the commit step and
	// the bulkloaded reference agree on.
	mobName := filepath.Base(mobWriter.Path())

	if err := pc.fs.MkdirAll(stagingDir); err != nil {
		_ = mobWriter.Close()
		return nil, errors.Wrap(err, "create bulkload staging dir")
	}
	refWriter, err := pc.writers.NewRefWriter(stagingDir, expectedCells)
	if err != nil {
		_ = mobWriter.Close()
		return nil, errors.Wrap(err, "open reference writer")
	}
	ladder.state = stateRefOpen
	ladder.armBulkloadDir(stagingDir)

	tag := NewMobTableNameTag(pc.table)
	mobNameBytes := []byte(mobName)

	var mobCells int64
	buf := make([]Cell, pc.cfg.KVMax)
	for {
		n, hasMore, serr := scanner.Next(buf)
		if serr != nil {
			err = errors.Wrap(serr, "scan batch")
			break
		}
		for i := 0; i < n; i++ {
			cell := buf[i]
			if werr := mobWriter.Append(cell); werr != nil {
				err = errors.Wrap(werr, "append MOB cell")
				break
			}
			refCell := Cell{
				Row:       cell.Row,
				Family:    cell.Family,
				Qualifier: cell.Qualifier,
				Timestamp: cell.Timestamp,
				Type:      CellPut,
				Value:     mobNameBytes,
				Tags:      []Tag{tag},
			}
			if werr := refWriter.Append(refCell); werr != nil {
				err = errors.Wrap(werr, "append reference cell")
				break
			}
			mobCells++
		}
		if err != nil || !hasMore {
			break
		}
	}
	if err != nil {
		_ = mobWriter.Close()
		_ = refWriter.Close()
		return nil, err
	}
	ladder.state = stateScanDone

	if cerr := scanner.Close(); cerr != nil {
		_ = mobWriter.Close()
		_ = refWriter.Close()
		return nil, errors.Wrap(cerr, "close compaction scanner")
	}

	if merr := mobWriter.AppendMetadata(maxSeqID, true, mobCells); merr != nil {
		_ = mobWriter.Close()
		_ = refWriter.Close()
		return nil, errors.Wrap(merr, "write MOB trailer")
	}
	if cerr := mobWriter.Close(); cerr != nil {
		_ = refWriter.Close()
		return nil, errors.Wrap(cerr, "close MOB writer")
	}

	// The ref writer is closed in this same step regardless of outcome:
	// on the success path the staging directory survives until after
	// bulkload; on the failure path below, closing it first and then
	// wiping the directory is the ordering spec.md §9 requires.
	if merr := refWriter.AppendMetadata(maxSeqID, selectionTime); merr != nil {
		_ = refWriter.Close()
		return nil, errors.Wrap(merr, "write reference trailer")
	}
	if cerr := refWriter.Close(); cerr != nil {
		return nil, errors.Wrap(cerr, "close reference writer")
	}

	if mobCells == 0 {
		// Every cell in the batch was deleted; nothing to commit.
		return nil, nil
	}

	committedPath, cerr := pc.commit.CommitMob(mobWriter.Path(), pc.familyDir)
	if cerr != nil {
		return nil, errors.Wrap(cerr, "commit MOB file")
	}
	ladder.state = stateCommitted
	ladder.armCommittedMob(committedPath)

	if berr := pc.commit.Bulkload(ctx, stagingDir, pc.table); berr != nil {
		return nil, errors.Wrap(berr, "bulkload reference file")
	}
	ladder.state = stateAttached
	ladder.disarm()

	inputPaths := make([]string, len(batch))
	for i, f := range batch {
		inputPaths[i] = f.Path
	}
	pc.commit.ArchiveInputs(pc.table, pc.family, inputPaths)

	if pc.metrics != nil {
		pc.metrics.cellsWritten.Add(float64(mobCells))
		pc.metrics.filesArchived.Add(float64(len(inputPaths)))
	}

	if st, serr := pc.fs.Stat(committedPath); serr == nil {
		level.Info(pc.logger).Log("msg", "committed compacted MOB file", "partition", p.ID.String(), "path", committedPath, "size", humanize.Bytes(uint64(st.Length)), "cells", mobCells, "inputs", len(inputPaths))
	}

	ladder.state = stateDone
	return []string{committedPath}, nil
}
