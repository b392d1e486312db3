// SPDX-License-Identifier: AGPL-3.0-only

package mobstore_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobstore/mobcompactor/pkg/mob"
	"github.com/mobstore/mobcompactor/pkg/mobstore"
)

func TestMobWriterScannerRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	writers := mobstore.NewWriterFactory(fs)

	w, err := writers.NewMobWriter("/f", "aaaa", "20240101", 10, "snappy")
	require.NoError(t, err)

	cells := []mob.Cell{
		{Row: []byte("a"), Family: []byte("f"), Qualifier: []byte("q"), Timestamp: 2, Type: mob.CellPut, Value: []byte("v2")},
		{Row: []byte("a"), Family: []byte("f"), Qualifier: []byte("q"), Timestamp: 1, Type: mob.CellPut, Value: []byte("v1")},
		{Row: []byte("b"), Family: []byte("f"), Qualifier: []byte("q"), Timestamp: 5, Type: mob.CellPut, Value: []byte("v5")},
	}
	for _, c := range cells {
		require.NoError(t, w.Append(c))
	}
	require.NoError(t, w.AppendMetadata(10, true, int64(len(cells))))

	scanners := mobstore.NewScannerFactory(fs)
	scanner, err := scanners.NewScanner(context.Background(), []string{w.Path()}, mob.ScanRetainDeletes, 10)
	require.NoError(t, err)
	defer scanner.Close()

	out := make([]mob.Cell, 10)
	n, hasMore, err := scanner.Next(out)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Equal(t, 3, n)
	assert.Equal(t, "a", string(out[0].Row))
	assert.Equal(t, "a", string(out[1].Row))
	assert.Equal(t, "b", string(out[2].Row))

	fsys := mobstore.NewFilesystem(fs)
	meta, err := fsys.FileMetadata(w.Path())
	require.NoError(t, err)
	assert.Equal(t, "3", meta[mob.MetaMobCellsCount])
}

func TestScanner_DropDeletes(t *testing.T) {
	fs := afero.NewMemMapFs()
	writers := mobstore.NewWriterFactory(fs)

	w, err := writers.NewMobWriter("/f", "aaaa", "20240101", 10, "none")
	require.NoError(t, err)
	// A family delete at ts=5 should suppress the ts=3 put that follows
	// it, while the ts=7 put, newer than the delete, survives.
	require.NoError(t, w.Append(mob.Cell{Row: []byte("a"), Family: []byte("f"), Qualifier: []byte(""), Timestamp: 5, Type: mob.CellDeleteFamily}))
	require.NoError(t, w.Append(mob.Cell{Row: []byte("a"), Family: []byte("f"), Qualifier: []byte("q"), Timestamp: 3, Type: mob.CellPut, Value: []byte("v3")}))
	require.NoError(t, w.Append(mob.Cell{Row: []byte("a"), Family: []byte("f"), Qualifier: []byte("q"), Timestamp: 7, Type: mob.CellPut, Value: []byte("v7")}))
	require.NoError(t, w.AppendMetadata(10, true, 3))

	scanners := mobstore.NewScannerFactory(fs)
	scanner, err := scanners.NewScanner(context.Background(), []string{w.Path()}, mob.ScanDropDeletes, 10)
	require.NoError(t, err)
	defer scanner.Close()

	out := make([]mob.Cell, 10)
	n, _, err := scanner.Next(out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.EqualValues(t, 7, out[0].Timestamp)
	assert.Equal(t, "v7", string(out[0].Value))
}
