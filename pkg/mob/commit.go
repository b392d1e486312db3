// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"context"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// CommitCoordinator is the Commit/Bulkload Coordinator (spec.md §4.6):
// it owns the three externally-visible side effects a batch performs
// once its new MOB file is ready -- renaming it into the live family
// directory, attaching its reference file via bulkload, and archiving
// the input files it superseded -- and keeps them behind one seam so
// the PartitionCompactor's state machine never touches Filesystem,
// Bulkloader or Archiver directly.
type CommitCoordinator struct {
	logger     log.Logger
	fs         Filesystem
	bulkloader Bulkloader
	archiver   Archiver
}

// NewCommitCoordinator builds a CommitCoordinator.
func NewCommitCoordinator(logger log.Logger, fs Filesystem, bulkloader Bulkloader, archiver Archiver) *CommitCoordinator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &CommitCoordinator{logger: logger, fs: fs, bulkloader: bulkloader, archiver: archiver}
}

// CommitMob renames a newly-written MOB file from its temp location
// into the family's live directory. The rename is the atomicity
// boundary: once it returns nil, the file is visible to readers under
// its final name even though no reference yet points at it.
func (c *CommitCoordinator) CommitMob(tmpPath, familyDir string) (string, error) {
	dst := filepath.Join(familyDir, filepath.Base(tmpPath))
	if err := c.fs.Rename(tmpPath, dst); err != nil {
		return "", ioErr("rename", tmpPath, err)
	}
	return dst, nil
}

// Bulkload attaches the reference file staged under stagingDir into
// table. A failure here leaves the committed MOB file unreferenced;
// the caller is responsible for rolling it back (spec.md §4.4's
// COMMITTED-but-not-ATTACHED cleanup).
func (c *CommitCoordinator) Bulkload(ctx context.Context, stagingDir string, table TableName) error {
	if err := c.bulkloader.DoBulkLoad(ctx, stagingDir, table); err != nil {
		return errors.Wrapf(err, "bulkload %s into %s", stagingDir, table)
	}
	return nil
}

// ArchiveInputs moves the given input files out of the live directory
// now that a reference-backed replacement has been attached. This is
// best-effort per spec.md §7: a failure is logged and does not fail
// the batch. Files that could not be archived stay where they are;
// nothing retries archiving them.
func (c *CommitCoordinator) ArchiveInputs(table TableName, family string, files []string) {
	if len(files) == 0 {
		return
	}
	if err := c.archiver.RemoveMobFiles(table, family, files); err != nil {
		level.Warn(c.logger).Log("msg", "failed to archive compacted input files", "table", table.String(), "family", family, "count", len(files), "err", err)
	}
}

