// SPDX-License-Identifier: AGPL-3.0-only

package mob_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobstore/mobcompactor/pkg/mob"
	"github.com/mobstore/mobcompactor/pkg/mobstore"
)

type harness struct {
	fs        afero.Fs
	dir       string
	familyDir string
	writers   *mobstore.WriterFactory
	compactor *mob.PartitionedMobFileCompactor
	table     mob.TableName
}

func newHarness(t *testing.T, cfg mob.Config) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	dir := "/data"
	familyDir := filepath.Join(dir, "f")
	require.NoError(t, fs.MkdirAll(familyDir, 0o755))

	table := mob.TableName{Namespace: "ns", Name: "t"}
	paths := mob.Paths{
		FamilyDir:    familyDir,
		TmpDir:       filepath.Join(dir, "tmp", "mob"),
		BulkloadRoot: filepath.Join(dir, "tmp", "bulkload"),
	}

	compactor := mob.NewPartitionedMobFileCompactor(
		nil,
		mobstore.NewFilesystem(fs),
		mobstore.NewScannerFactory(fs),
		mobstore.NewWriterFactory(fs),
		mobstore.NewBulkload(fs, filepath.Join(dir, "tmp", "bulkload"), nil),
		mobstore.NewArchiver(fs, filepath.Join(dir, "archive"), nil),
		cfg,
		table,
		"f",
		paths,
		mob.NewMetrics(prometheus.NewRegistry()),
	)

	return &harness{fs: fs, dir: dir, familyDir: familyDir, writers: mobstore.NewWriterFactory(fs), compactor: compactor, table: table}
}

func (h *harness) writeMobFile(t *testing.T, startKey, date string, rows int) string {
	t.Helper()
	w, err := h.writers.NewMobWriter(h.familyDir, startKey, date, 1, "snappy")
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		row := []byte{byte('a' + i)}
		require.NoError(t, w.Append(mob.Cell{Row: row, Family: []byte("f"), Qualifier: []byte("q"), Timestamp: 100, Type: mob.CellPut, Value: []byte("v")}))
	}
	require.NoError(t, w.AppendMetadata(1, false, int64(rows)))
	return w.Path()
}

func (h *harness) writeDelFile(t *testing.T, startKey, date string) string {
	t.Helper()
	w, err := h.writers.NewDelWriter(h.familyDir, date, "snappy", startKey)
	require.NoError(t, err)
	require.NoError(t, w.Append(mob.Cell{Row: []byte("z"), Family: []byte("f"), Qualifier: []byte("q"), Timestamp: 50, Type: mob.CellDelete}))
	require.NoError(t, w.AppendMetadata(1))
	return w.Path()
}

func candidatesFor(paths ...string) []mob.Candidate {
	out := make([]mob.Candidate, len(paths))
	for i, p := range paths {
		out[i] = mob.Candidate{Path: p}
	}
	return out
}

// findRefFile locates the single bulkloaded reference file under root,
// whose path is keyed by a load timestamp the test doesn't control.
func findRefFile(t *testing.T, fs afero.Fs, root string) string {
	t.Helper()
	var found string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasPrefix(info.Name(), "ref_") {
			found = path
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, found, "no bulkloaded reference file found under %s", root)
	return found
}

func TestScenario_TwoFileMerge(t *testing.T) {
	cfg := mob.Config{MergeableThreshold: 1 << 20, DelFileMaxCount: 8, BatchSize: 100, KVMax: 1000, Policy: mob.PolicyDaily, Concurrency: 1, Compression: "snappy"}
	h := newHarness(t, cfg)

	p1 := h.writeMobFile(t, "ff00", "20240101", 2)
	p2 := h.writeMobFile(t, "ff00", "20240101", 3)

	out, err := h.compactor.Compact(context.Background(), candidatesFor(p1, p2), false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, filepath.Base(out[0]), "20240101_ff00")

	// Inputs were archived, not left behind.
	for _, p := range []string{p1, p2} {
		ok, err := afero.Exists(h.fs, p)
		require.NoError(t, err)
		assert.False(t, ok, "input %s should have been archived", p)
	}

	// The bulkloaded reference file's cells must name the MOB file this
	// compaction actually produced, not some other generated name.
	refPath := findRefFile(t, h.fs, filepath.Join(h.dir, "tmp", "bulkload"))
	scanners := mobstore.NewScannerFactory(h.fs)
	scanner, err := scanners.NewScanner(context.Background(), []string{refPath}, mob.ScanRetainDeletes, 100)
	require.NoError(t, err)
	defer scanner.Close()

	cells := make([]mob.Cell, 10)
	n, hasMore, err := scanner.Next(cells)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Greater(t, n, 0)
	for i := 0; i < n; i++ {
		assert.Equal(t, filepath.Base(out[0]), string(cells[i].Value), "reference cell must point at the committed MOB file")
	}
}

func TestScenario_AllFilesArchivesDelFiles(t *testing.T) {
	cfg := mob.Config{MergeableThreshold: 1 << 20, DelFileMaxCount: 8, BatchSize: 100, KVMax: 1000, Policy: mob.PolicyDaily, Concurrency: 1, Compression: "snappy"}
	h := newHarness(t, cfg)

	mobPath := h.writeMobFile(t, "ff00", "20240101", 2)
	delPath := h.writeDelFile(t, "ff00", "20240101")

	out, err := h.compactor.Compact(context.Background(), candidatesFor(mobPath, delPath), true)
	require.NoError(t, err)

	for _, p := range out {
		assert.NotEqual(t, delPath, p)
	}

	ok, err := afero.Exists(h.fs, delPath)
	require.NoError(t, err)
	assert.False(t, ok, "del file should have been archived once every candidate was ALL_FILES-selected")
}

func TestScenario_NoEligibleFiles(t *testing.T) {
	cfg := mob.Config{MergeableThreshold: 1, DelFileMaxCount: 8, BatchSize: 100, KVMax: 1000, Policy: mob.PolicyDaily, Concurrency: 1, Compression: "snappy"}
	h := newHarness(t, cfg)

	p1 := h.writeMobFile(t, "ff00", "20240101", 2)

	out, err := h.compactor.Compact(context.Background(), candidatesFor(p1), false)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScenario_ConcurrentPartitions(t *testing.T) {
	cfg := mob.Config{MergeableThreshold: 1 << 20, DelFileMaxCount: 8, BatchSize: 100, KVMax: 1000, Policy: mob.PolicyDaily, Concurrency: 4, Compression: "snappy"}
	h := newHarness(t, cfg)

	a1 := h.writeMobFile(t, "aaaa", "20240101", 2)
	a2 := h.writeMobFile(t, "aaaa", "20240101", 2)
	b1 := h.writeMobFile(t, "bbbb", "20240101", 2)
	b2 := h.writeMobFile(t, "bbbb", "20240101", 2)

	out, err := h.compactor.Compact(context.Background(), candidatesFor(a1, a2, b1, b2), false)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestScenario_SelectNilInputsDoNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		_, _ = mob.Select(nil, nil, false, mob.Config{}, time.Now())
	})
}
