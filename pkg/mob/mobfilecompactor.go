// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// MobFileCompactor is the public entry point (spec.md §6): given a set
// of candidate files and whether the caller forced a full compaction,
// it returns the paths that make up the live result.
type MobFileCompactor interface {
	Compact(ctx context.Context, files []Candidate, isForceAllFiles bool) ([]string, error)
}

// Paths collects the directories a PartitionedMobFileCompactor needs
// beyond the Config knobs: where committed MOB/del files live, where
// writers stage their temp output, and where reference files wait to
// be bulkloaded.
type Paths struct {
	// FamilyDir is the column family's live directory: committed MOB
	// files and merged del files land here.
	FamilyDir string
	// TmpDir is scratch space for in-progress MOB writers, cleaned up
	// by the cleanup ladder on any failure before commit.
	TmpDir string
	// BulkloadRoot is the root directory under which each partition
	// gets its own reference-file staging subdirectory.
	BulkloadRoot string
}

// PartitionedMobFileCompactor is the default MobFileCompactor: it
// wires the Selector, DelMerger, Orchestrator and PartitionCompactor
// together behind compact() the way spec.md §4.5 and §6 describe.
type PartitionedMobFileCompactor struct {
	logger     log.Logger
	fs         Filesystem
	scanners   ScannerFactory
	writers    WriterFactory
	bulkloader Bulkloader
	archiver   Archiver
	cfg        Config
	table      TableName
	family     string
	paths      Paths
	metrics    *Metrics
	now        func() time.Time
}

// NewPartitionedMobFileCompactor builds a PartitionedMobFileCompactor
// for one table/column-family pair.
func NewPartitionedMobFileCompactor(
	logger log.Logger,
	fs Filesystem,
	scanners ScannerFactory,
	writers WriterFactory,
	bulkloader Bulkloader,
	archiver Archiver,
	cfg Config,
	table TableName,
	family string,
	paths Paths,
	metrics *Metrics,
) *PartitionedMobFileCompactor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &PartitionedMobFileCompactor{
		logger: logger, fs: fs, scanners: scanners, writers: writers,
		bulkloader: bulkloader, archiver: archiver, cfg: cfg,
		table: table, family: family, paths: paths, metrics: metrics,
		now: time.Now,
	}
}

// Compact runs the Selector over files, then the Orchestrator over the
// resulting CompactionRequest, and returns the live output paths.
func (c *PartitionedMobFileCompactor) Compact(ctx context.Context, files []Candidate, isForceAllFiles bool) ([]string, error) {
	req, err := Select(c.fs, files, isForceAllFiles, c.cfg, c.now())
	if err != nil {
		return nil, err
	}

	if len(req.Partitions) == 0 && len(req.DelFiles) == 0 {
		level.Debug(c.logger).Log("msg", "no files eligible for compaction", "table", c.table.String(), "family", c.family)
		return nil, nil
	}

	commit := NewCommitCoordinator(c.logger, c.fs, c.bulkloader, c.archiver)
	delMerger := NewDelMerger(c.logger, c.scanners, c.writers, c.archiver, c.cfg, c.table, c.family, c.paths.FamilyDir)

	newPC := func(p *Partition) *PartitionCompactor {
		bulkRoot := filepath.Join(c.paths.BulkloadRoot, c.family)
		return NewPartitionCompactor(c.logger, c.fs, c.scanners, c.writers, commit, c.cfg, c.table, c.family, c.paths.TmpDir, c.paths.FamilyDir, bulkRoot, c.metrics)
	}

	orch := NewOrchestrator(c.logger, c.fs, commit, delMerger, c.cfg, c.table, c.family, c.metrics, newPC)

	return orch.Run(ctx, req)
}
