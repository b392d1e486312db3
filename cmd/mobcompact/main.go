// SPDX-License-Identifier: AGPL-3.0-only

// Command mobcompact is a minimal flag-driven harness for running the
// MOB file compactor against a local directory tree, the way
// cmd/mimir wires compactor.Config into a runnable binary. It is not
// itself part of the compactor's scope: the entry point is
// PartitionedMobFileCompactor.Compact.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/mobstore/mobcompactor/pkg/mob"
	"github.com/mobstore/mobcompactor/pkg/mobstore"
)

func main() {
	var (
		cfg             mob.Config
		dir             string
		namespace       string
		table           string
		family          string
		isForceAllFiles bool
	)

	cfg.Policy = mob.PolicyDaily

	f := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cfg.RegisterFlags(f)
	f.StringVar(&dir, "dir", ".", "Root directory holding the table's MOB and del files.")
	f.StringVar(&namespace, "table.namespace", "", "Table namespace.")
	f.StringVar(&table, "table.name", "", "Table name.")
	f.StringVar(&family, "family", "f", "Column family name.")
	f.BoolVar(&isForceAllFiles, "force-all-files", false, "Ignore mergeable-size thresholds and compact every eligible file.")
	if err := f.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}
	if table == "" {
		level.Error(logger).Log("msg", "-table.name is required")
		os.Exit(1)
	}

	if err := run(logger, cfg, dir, mob.TableName{Namespace: namespace, Name: table}, family, isForceAllFiles); err != nil {
		level.Error(logger).Log("msg", "compaction failed", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, cfg mob.Config, dir string, table mob.TableName, family string, isForceAllFiles bool) error {
	fs := afero.NewOsFs()

	familyDir := filepath.Join(dir, family)
	paths, err := afero.ReadDir(fs, familyDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", familyDir, err)
	}

	candidates := make([]mob.Candidate, 0, len(paths))
	for _, p := range paths {
		if p.IsDir() {
			continue
		}
		candidates = append(candidates, mob.Candidate{Path: filepath.Join(familyDir, p.Name())})
	}

	metrics := mob.NewMetrics(prometheus.NewRegistry())
	compactor := mob.NewPartitionedMobFileCompactor(
		logger,
		mobstore.NewFilesystem(fs),
		mobstore.NewScannerFactory(fs),
		mobstore.NewWriterFactory(fs),
		mobstore.NewBulkload(fs, filepath.Join(dir, "tmp", "bulkload"), logger),
		mobstore.NewArchiver(fs, filepath.Join(dir, "archive"), logger),
		cfg,
		table,
		family,
		mob.Paths{
			FamilyDir:    familyDir,
			TmpDir:       filepath.Join(dir, "tmp", "mob"),
			BulkloadRoot: filepath.Join(dir, "tmp", "bulkload"),
		},
		metrics,
	)

	out, err := compactor.Compact(context.Background(), candidates, isForceAllFiles)
	if err != nil {
		if _, ok := err.(*mob.PartialFailure); !ok {
			return err
		}
		level.Warn(logger).Log("msg", "compaction completed with partial failures", "err", err)
	}

	level.Info(logger).Log("msg", "compaction finished", "live_files", len(out))
	for _, p := range out {
		fmt.Println(p)
	}
	return nil
}
