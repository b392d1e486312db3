// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/compactor/bucket_compactor.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

package mob

import (
	"context"

	"github.com/grafana/dskit/concurrency"
)

// partitionTask is the explicit unit of work handed to the worker pool
// (spec.md §9 "explicit task values over implicit closures"): a task
// carries everything a worker needs, rather than capturing partition
// state in a closure.
type partitionTask struct {
	partition *Partition
	delPaths  []string
}

// runPartitions fans the given tasks out across cfg.Concurrency
// workers and collects every partition's output paths and/or error.
// It is grounded in the teacher's BucketCompactor.Compact loop:
// concurrency.ForEachJob runs the same bounded-worker-pool pattern as
// the teacher's hand-rolled jobChan/errChan/WaitGroup, just without
// re-deriving it.
func runPartitions(ctx context.Context, tasks []partitionTask, workers int, run func(ctx context.Context, t partitionTask) ([]string, error)) ([][]string, []error) {
	results := make([][]string, len(tasks))
	errs := make([]error, len(tasks))

	if workers < 1 {
		workers = 1
	}

	// Partition failures are aggregated by the caller into a
	// PartialFailure rather than aborting sibling partitions, so
	// ForEachJob itself is never told to fail fast here.
	_ = concurrency.ForEachJob(ctx, len(tasks), workers, func(ctx context.Context, idx int) error {
		paths, err := run(ctx, tasks[idx])
		results[idx] = paths
		errs[idx] = err
		return nil
	})

	return results, errs
}
