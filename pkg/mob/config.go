// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/compactor/compactor.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

package mob

import (
	"flag"
	"fmt"

	"github.com/pkg/errors"
)

// Config holds the MOB compactor's configuration, matching the
// recognized options in spec.md §6.
type Config struct {
	// MergeableThreshold is the base size under which a MOB file is
	// eligible for compaction (mob.file.compaction.mergeable.threshold).
	MergeableThreshold int64 `yaml:"mergeable_threshold_bytes"`

	// DelFileMaxCount is the upper bound on del files kept after
	// merging (mob.delfile.max.count).
	DelFileMaxCount int `yaml:"del_file_max_count"`

	// BatchSize bounds both the number of MOB files processed per
	// compaction batch and the chunk size used by the del-file merger
	// (mob.file.compaction.batch.size).
	BatchSize int `yaml:"batch_size"`

	// KVMax bounds the number of cells pulled from the scanner per
	// Next call (compaction.kv.max).
	KVMax int `yaml:"kv_max"`

	// Policy is the column-family-level partition policy; it is not a
	// config key but is carried here for convenience of the reference
	// wiring.
	Policy PartitionPolicy `yaml:"-"`

	// Concurrency bounds the partition compactor worker pool
	// (spec.md §5).
	Concurrency int `yaml:"concurrency"`

	// Compression names the codec new MOB writers are configured with,
	// taken from the column family's compaction compression setting.
	Compression string `yaml:"compression"`
}

// RegisterFlags registers the Config's flags on f, in the style of the
// teacher's Config.RegisterFlags.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.Int64Var(&cfg.MergeableThreshold, "mob.file.compaction.mergeable.threshold", 1<<20, "Base size under which a MOB file is eligible for compaction.")
	f.IntVar(&cfg.DelFileMaxCount, "mob.delfile.max.count", 3, "Upper bound on del files kept after merging.")
	f.IntVar(&cfg.BatchSize, "mob.file.compaction.batch.size", 100, "Max files per compaction batch, and per del-file merge chunk.")
	f.IntVar(&cfg.KVMax, "compaction.kv.max", 10000, "Max cells pulled from the scanner per batch.")
	f.IntVar(&cfg.Concurrency, "mob.compaction.concurrency", 1, "Max number of partitions compacted concurrently.")
	f.StringVar(&cfg.Compression, "mob.file.compaction.compression", "snappy", "Compression codec used for newly written MOB files.")
}

// Validate checks the Config for the obviously-invalid combinations
// the rest of the package does not protect against on its own, the way
// the teacher's Config.Validate guards block-range divisibility.
func (cfg *Config) Validate() error {
	if cfg.MergeableThreshold <= 0 {
		return errors.New("mob.file.compaction.mergeable.threshold must be > 0")
	}
	if cfg.DelFileMaxCount <= 0 {
		return errors.New("mob.delfile.max.count must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("mob.file.compaction.batch.size must be > 0")
	}
	if cfg.KVMax <= 0 {
		return errors.New("compaction.kv.max must be > 0")
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("mob.compaction.concurrency (%d) must be > 0", cfg.Concurrency)
	}
	return nil
}
