// SPDX-License-Identifier: AGPL-3.0-only

package mobstore

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/mobstore/mobcompactor/pkg/mob"
)

// Bulkload is a directory-rename-based stand-in for a real row-store's
// "load incremental files" service: it atomically moves a partition's
// staged reference file(s) into an archive-style "loaded" tree rooted
// at Root, keyed by table and a load timestamp, the same way
// deleteBlock in bucket_compactor.go moves a block to a Pending-Deletion
// prefix rather than deleting it outright.
type Bulkload struct {
	Fs     afero.Fs
	Root   string
	Logger log.Logger
}

// NewBulkload builds a Bulkload rooted at root.
func NewBulkload(fs afero.Fs, root string, logger log.Logger) *Bulkload {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Bulkload{Fs: fs, Root: root, Logger: logger}
}

// DoBulkLoad "attaches" every file under stagingDir into table by
// renaming stagingDir's contents into Root/<table>/<timestamp>/. The
// rename is atomic at the single-directory level via the underlying
// os.Rename (or afero's in-memory equivalent), which is the only
// atomicity guarantee spec.md §4.6 actually requires of this step.
func (b *Bulkload) DoBulkLoad(_ context.Context, stagingDir string, table mob.TableName) error {
	entries, err := afero.ReadDir(b.Fs, stagingDir)
	if err != nil {
		return errors.Wrapf(err, "list staging dir %s", stagingDir)
	}
	if len(entries) == 0 {
		return nil
	}

	dst := filepath.Join(b.Root, table.String(), time.Now().UTC().Format("20060102T150405"))
	if err := b.Fs.MkdirAll(dst, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dst)
	}

	for _, e := range entries {
		src := filepath.Join(stagingDir, e.Name())
		if err := b.Fs.Rename(src, filepath.Join(dst, e.Name())); err != nil {
			return errors.Wrapf(err, "bulkload %s -> %s", src, dst)
		}
	}

	level.Info(b.Logger).Log("msg", "bulkloaded reference files", "table", table.String(), "dir", dst, "files", len(entries))
	return nil
}

// Archiver is a directory-rename-based stand-in for the real
// row-store's archival service: it moves superseded input files into
// an ArchiveRoot/<table>/<family>/ tree instead of deleting them.
type Archiver struct {
	Fs          afero.Fs
	ArchiveRoot string
	Logger      log.Logger
}

// NewArchiver builds an Archiver rooted at archiveRoot.
func NewArchiver(fs afero.Fs, archiveRoot string, logger log.Logger) *Archiver {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Archiver{Fs: fs, ArchiveRoot: archiveRoot, Logger: logger}
}

// RemoveMobFiles moves files into the archive tree, tolerating a file
// that is already gone (a previous, partially-completed archival
// pass) rather than failing the whole batch over it.
func (a *Archiver) RemoveMobFiles(table mob.TableName, family string, files []string) error {
	dst := filepath.Join(a.ArchiveRoot, table.String(), family)
	if err := a.Fs.MkdirAll(dst, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dst)
	}

	var moved int
	for _, f := range files {
		target := filepath.Join(dst, filepath.Base(f))
		if err := a.Fs.Rename(f, target); err != nil {
			if ok, statErr := afero.Exists(a.Fs, f); statErr == nil && !ok {
				continue // already archived
			}
			return errors.Wrapf(err, "archive %s -> %s", f, target)
		}
		moved++
	}

	level.Debug(a.Logger).Log("msg", "archived input files", "table", table.String(), "family", family, "count", moved)
	return nil
}
