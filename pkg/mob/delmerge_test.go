// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScanner/fakeScannerFactory never return cells: DelMerger tests
// below only exercise the chunking/recursion arithmetic, not content.
type fakeScanner struct{}

func (fakeScanner) Next(out []Cell) (int, bool, error) { return 0, false, nil }
func (fakeScanner) Close() error                       { return nil }

type fakeScannerFactory struct{}

func (fakeScannerFactory) NewScanner(ctx context.Context, paths []string, scanType ScanType, batchLimit int) (Scanner, error) {
	return fakeScanner{}, nil
}

type fakeDelWriter struct{ path string }

func (w *fakeDelWriter) Append(c Cell) error             { return nil }
func (w *fakeDelWriter) AppendMetadata(maxSeqID int64) error { return nil }
func (w *fakeDelWriter) Close() error                    { return nil }
func (w *fakeDelWriter) Path() string                    { return w.path }

type fakeWriterFactory struct{ n int }

func (f *fakeWriterFactory) NewMobWriter(dir, startKey, date string, maxTimestamp int64, compression string) (MobWriter, error) {
	panic("not used by del-merge tests")
}
func (f *fakeWriterFactory) NewRefWriter(dir string, expectedEntries int64) (RefWriter, error) {
	panic("not used by del-merge tests")
}
func (f *fakeWriterFactory) NewDelWriter(dir, date, compression, startKey string) (DelWriter, error) {
	f.n++
	return &fakeDelWriter{path: fmt.Sprintf("merged-%d", f.n)}, nil
}

type fakeArchiver struct{ removed [][]string }

func (a *fakeArchiver) RemoveMobFiles(table TableName, family string, files []string) error {
	a.removed = append(a.removed, append([]string(nil), files...))
	return nil
}

func TestDelMerger_CapRecursion(t *testing.T) {
	// Scenario S4: 5 del files, delFileMaxCount=1, batchSize=2 -> pairwise
	// rounds until exactly one remains.
	cfg := testConfig()
	cfg.DelFileMaxCount = 1
	cfg.BatchSize = 2

	archiver := &fakeArchiver{}
	writers := &fakeWriterFactory{}
	merger := NewDelMerger(nil, fakeScannerFactory{}, writers, archiver, cfg, TableName{Name: "t"}, "f", "familydir")

	files := []DelFile{{Path: "d1"}, {Path: "d2"}, {Path: "d3"}, {Path: "d4"}, {Path: "d5"}}
	out, err := merger.Merge(context.Background(), files)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.NotEmpty(t, archiver.removed)
}

func TestDelMerger_AlreadyUnderCap(t *testing.T) {
	cfg := testConfig()
	cfg.DelFileMaxCount = 8

	merger := NewDelMerger(nil, fakeScannerFactory{}, &fakeWriterFactory{}, &fakeArchiver{}, cfg, TableName{Name: "t"}, "f", "familydir")

	files := []DelFile{{Path: "d1"}, {Path: "d2"}}
	out, err := merger.Merge(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, files, out)
}
