// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/compactor/bucket_compactor.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

package mob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the metrics tracked across a MobFileCompactor's
// lifetime, mirroring the shape of the teacher's
// BucketCompactorMetrics.
type Metrics struct {
	partitionRunsStarted   prometheus.Counter
	partitionRunsCompleted prometheus.Counter
	partitionRunsFailed    prometheus.Counter
	filesArchived          prometheus.Counter
	delFilesMerged         prometheus.Counter
	cellsWritten           prometheus.Counter
	batchDuration          prometheus.Histogram
}

// NewMetrics registers and returns a new Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		partitionRunsStarted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mobcompactor_partition_runs_started_total",
			Help: "Total number of partition compaction attempts.",
		}),
		partitionRunsCompleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mobcompactor_partition_runs_completed_total",
			Help: "Total number of partition compactions that completed without error.",
		}),
		partitionRunsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mobcompactor_partition_runs_failed_total",
			Help: "Total number of partition compactions that failed.",
		}),
		filesArchived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mobcompactor_files_archived_total",
			Help: "Total number of input MOB files archived after compaction.",
		}),
		delFilesMerged: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mobcompactor_del_files_merged_total",
			Help: "Total number of compaction requests whose del files were merged down.",
		}),
		cellsWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mobcompactor_cells_written_total",
			Help: "Total number of cells written to new MOB files.",
		}),
		batchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "mobcompactor_batch_duration_seconds",
			Help:    "Time it took to compact a single batch of MOB files.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
