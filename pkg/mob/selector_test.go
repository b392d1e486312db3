// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFS is a minimal in-memory mob.Filesystem double for selector
// tests, where no actual cell data or compaction runs.
type fakeFS struct {
	files map[string]int64
}

func newFakeFS() *fakeFS { return &fakeFS{files: map[string]int64{}} }

func (f *fakeFS) put(path string, length int64) { f.files[path] = length }

func (f *fakeFS) IsFile(path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeFS) Stat(path string) (Stat, error) {
	length, ok := f.files[path]
	if !ok {
		return Stat{}, &NotFoundError{Path: path}
	}
	return Stat{Path: path, Length: length}, nil
}

func (f *fakeFS) Remove(path string, recursive bool) error {
	delete(f.files, path)
	return nil
}

func (f *fakeFS) Rename(src, dst string) error {
	f.files[dst] = f.files[src]
	delete(f.files, src)
	return nil
}

func (f *fakeFS) List(dir string) ([]string, error) { return nil, nil }
func (f *fakeFS) MkdirAll(dir string) error          { return nil }
func (f *fakeFS) FileMetadata(path string) (map[string]string, error) {
	return nil, nil
}

func testConfig() Config {
	return Config{
		MergeableThreshold: 64,
		DelFileMaxCount:    8,
		BatchSize:          100,
		KVMax:              1000,
		Policy:             PolicyDaily,
		Concurrency:        1,
		Compression:        "snappy",
	}
}

func TestSelect_NoOpSingleton(t *testing.T) {
	// Scenario S1.
	fs := newFakeFS()
	fs.put("d20240101_ff00", 10)
	now := mustParseDate(t, "20240101")

	req, err := Select(fs, []Candidate{{Path: "d20240101_ff00"}}, false, testConfig(), now)
	require.NoError(t, err)

	assert.Empty(t, req.DelFiles)
	require.Len(t, req.Partitions, 1)
	assert.Len(t, req.Partitions[0].Files, 1)
	assert.Equal(t, AllFiles, req.Type)
}

func TestSelect_SingletonPrune(t *testing.T) {
	// Scenario S2.
	fs := newFakeFS()
	fs.put("d20240101_ff00", 10)
	fs.put("del_20240101_ff00", 5)
	now := mustParseDate(t, "20240101")

	req, err := Select(fs, []Candidate{{Path: "d20240101_ff00"}, {Path: "del_20240101_ff00"}}, false, testConfig(), now)
	require.NoError(t, err)

	assert.Empty(t, req.Partitions)
	require.Len(t, req.DelFiles, 1)
}

func TestSelect_TwoFileMerge(t *testing.T) {
	// Scenario S3.
	fs := newFakeFS()
	fs.put("d20240101_ff00_a", 10)
	fs.put("d20240101_ff00_b", 20)
	now := mustParseDate(t, "20240101")

	req, err := Select(fs, []Candidate{{Path: "d20240101_ff00_a"}, {Path: "d20240101_ff00_b"}}, false, testConfig(), now)
	require.NoError(t, err)

	require.Len(t, req.Partitions, 1)
	assert.Len(t, req.Partitions[0].Files, 2)
	assert.Equal(t, "20240101", req.Partitions[0].LatestDate)
}

func TestSelect_WeeklyEscalation(t *testing.T) {
	// Scenario S5.
	fs := newFakeFS()
	now := mustParseDate(t, "20240115") // Monday, current week
	fs.put("d20240115_ff00", 100)       // current week, ineligible at 100 >= 64
	fs.put("d20240101_ff00", 100)       // two weeks prior, eligible at 100 < 128

	cfg := testConfig()
	cfg.Policy = PolicyWeekly

	req, err := Select(fs, []Candidate{{Path: "d20240115_ff00"}, {Path: "d20240101_ff00"}}, false, cfg, now)
	require.NoError(t, err)

	require.Len(t, req.Partitions, 1)
	assert.Equal(t, "20240101", req.Partitions[0].ID.Date)
	assert.Len(t, req.Partitions[0].Files, 1)
}

func TestSelect_FileLink(t *testing.T) {
	fs := newFakeFS()
	fs.put("alt2", 10)
	now := time.Now()

	req, err := Select(fs, []Candidate{{Link: &FileLink{Name: "logical", Alternative: []string{"alt1", "alt2"}}}}, true, testConfig(), now)
	require.NoError(t, err)
	assert.Empty(t, req.Partitions) // "alt2" isn't a parseable MOB name, counted irrelevant
	assert.Equal(t, AllFiles, req.Type)
}

func TestSelect_FileLinkUnresolvable(t *testing.T) {
	fs := newFakeFS()
	now := time.Now()

	req, err := Select(fs, []Candidate{{Link: &FileLink{Name: "logical", Alternative: []string{"missing"}}}}, false, testConfig(), now)
	require.NoError(t, err)
	assert.Empty(t, req.Partitions)
	assert.Empty(t, req.DelFiles)
}
