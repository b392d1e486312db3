// SPDX-License-Identifier: AGPL-3.0-only

package mobstore

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/mobstore/mobcompactor/pkg/mob"
)

// Filesystem is the local reference implementation of mob.Filesystem,
// backed by an afero.Fs: afero.NewOsFs() in production,
// afero.NewMemMapFs() in tests, mirroring the teacher's pattern of
// injecting an object-storage client through a factory function.
type Filesystem struct {
	Fs afero.Fs
}

// NewFilesystem wraps fs as a mob.Filesystem.
func NewFilesystem(fs afero.Fs) *Filesystem {
	return &Filesystem{Fs: fs}
}

func (f *Filesystem) IsFile(path string) (bool, error) {
	st, err := f.Fs.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "stat %s", path)
	}
	return !st.IsDir(), nil
}

func (f *Filesystem) Stat(path string) (mob.Stat, error) {
	st, err := f.Fs.Stat(path)
	if os.IsNotExist(err) {
		return mob.Stat{}, errors.WithStack(&mob.NotFoundError{Path: path})
	}
	if err != nil {
		return mob.Stat{}, errors.Wrapf(err, "stat %s", path)
	}
	return mob.Stat{Path: path, Length: st.Size(), IsDir: st.IsDir()}, nil
}

func (f *Filesystem) Remove(path string, recursive bool) error {
	var err error
	if recursive {
		err = f.Fs.RemoveAll(path)
	} else {
		err = f.Fs.Remove(path)
	}
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", path)
	}
	return nil
}

func (f *Filesystem) Rename(src, dst string) error {
	if err := f.Fs.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "rename %s -> %s", src, dst)
	}
	return nil
}

func (f *Filesystem) List(dir string) ([]string, error) {
	entries, err := afero.ReadDir(f.Fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (f *Filesystem) MkdirAll(dir string) error {
	if err := f.Fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	return nil
}

// FileMetadata reads back a MOB/del/ref file's trailer metadata map.
func (f *Filesystem) FileMetadata(path string) (map[string]string, error) {
	meta, err := readTrailer(f.Fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "read trailer %s", path)
	}
	return meta, nil
}
