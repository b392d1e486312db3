// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Orchestrator is the top-level driver (spec.md §4.5): given a
// CompactionRequest, it merges del files down to the configured cap,
// pre-opens the shared DelReaderPool, fans partition compaction out
// across a bounded worker pool, and aggregates the results.
type Orchestrator struct {
	logger    log.Logger
	fs        Filesystem
	commit    *CommitCoordinator
	delMerger *DelMerger
	newPC     func(p *Partition) *PartitionCompactor
	cfg       Config
	table     TableName
	family    string
	metrics   *Metrics
}

// NewOrchestrator builds an Orchestrator. newPC constructs the
// PartitionCompactor responsible for one partition; it is a factory
// rather than a single shared instance because each partition writes
// into its own staging directory.
func NewOrchestrator(logger log.Logger, fs Filesystem, commit *CommitCoordinator, delMerger *DelMerger, cfg Config, table TableName, family string, metrics *Metrics, newPC func(p *Partition) *PartitionCompactor) *Orchestrator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Orchestrator{logger: logger, fs: fs, commit: commit, delMerger: delMerger, newPC: newPC, cfg: cfg, table: table, family: family, metrics: metrics}
}

// Run executes one compaction request end to end and returns the
// paths of every file that should be considered live output: newly
// written or carried-over MOB files, plus the del files remaining
// after merge unless they were archived (see below). A PartialFailure
// is returned, together with the successful partitions' paths, when
// one or more partitions failed; the caller decides whether that's
// tolerable.
func (o *Orchestrator) Run(ctx context.Context, req *CompactionRequest) ([]string, error) {
	mergedDel, err := o.delMerger.Merge(ctx, req.DelFiles)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil && len(mergedDel) != len(req.DelFiles) {
		o.metrics.delFilesMerged.Add(1)
	}

	pool := NewDelReaderPool(o.fs)
	if err := pool.Open(mergedDel); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := pool.Close(); cerr != nil {
			level.Warn(o.logger).Log("msg", "failed to close del reader pool", "err", cerr)
		}
	}()

	delPaths := pool.Paths()

	partitions := req.SortedPartitions()
	tasks := make([]partitionTask, len(partitions))
	for i, p := range partitions {
		tasks[i] = partitionTask{partition: p, delPaths: delPaths}
	}

	if o.metrics != nil {
		o.metrics.partitionRunsStarted.Add(float64(len(tasks)))
	}

	results, errs := runPartitions(ctx, tasks, o.cfg.Concurrency, func(ctx context.Context, t partitionTask) ([]string, error) {
		pc := o.newPC(t.partition)
		return pc.Compact(ctx, t.partition, t.delPaths, req.SelectionTime)
	})

	failure := newPartialFailure()
	var out []string
	for i, errI := range errs {
		if errI != nil {
			failure.add(partitions[i].ID, errI)
			if o.metrics != nil {
				o.metrics.partitionRunsFailed.Add(1)
			}
			continue
		}
		out = append(out, results[i]...)
		if o.metrics != nil {
			o.metrics.partitionRunsCompleted.Add(1)
		}
	}

	// Del files are only safe to archive once the request covered every
	// candidate the caller handed in (spec.md §3 invariant 5): a
	// PART_FILES selection may have left MOB files out there that still
	// depend on them, so they stay live output instead.
	if failure.errOrNil() == nil && req.Type == AllFiles && len(mergedDel) > 0 {
		paths := make([]string, len(mergedDel))
		for i, df := range mergedDel {
			paths[i] = df.Path
		}
		o.commit.ArchiveInputs(o.table, o.family, paths)
	} else {
		for _, df := range mergedDel {
			out = append(out, df.Path)
		}
	}

	if err := failure.errOrNil(); err != nil {
		return out, err
	}
	return out, nil
}
