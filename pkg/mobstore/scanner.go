// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/storj/storj/blob/main/storagenode/hashstore/store.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: Storj Labs, Inc.

package mobstore

import (
	"bytes"
	"container/heap"
	"context"
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/mobstore/mobcompactor/pkg/mob"
)

func readFileBody(fs afero.Fs, path string) ([]mob.Cell, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(data) < 5 {
		return nil, errors.Errorf("%s: too short to be a valid cell file", path)
	}

	flag := data[0]
	bodyLen := binary.BigEndian.Uint32(data[1:5])
	if uint32(len(data)) < 5+bodyLen {
		return nil, errors.Errorf("%s: truncated body", path)
	}
	body := data[5 : 5+bodyLen]
	if flag == 1 {
		decoded, derr := snappy.Decode(nil, body)
		if derr != nil {
			return nil, errors.Wrapf(derr, "decompress %s", path)
		}
		body = decoded
	}

	return decodeAllCells(body)
}

// readTrailer extracts the trailer metadata map written by fileWriter.close.
func readTrailer(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(data) < 9 {
		return nil, errors.Errorf("%s: too short to carry a trailer", path)
	}
	trailerLen := binary.BigEndian.Uint32(data[len(data)-4:])
	if uint32(len(data)) < 4+trailerLen {
		return nil, errors.Errorf("%s: truncated trailer", path)
	}
	trailerBytes := data[len(data)-4-int(trailerLen) : len(data)-4]
	return unmarshalTrailer(trailerBytes)
}

// fileCursor walks one decoded file's cells in order.
type fileCursor struct {
	cells []mob.Cell
	pos   int
}

func (c *fileCursor) peek() (mob.Cell, bool) {
	if c.pos >= len(c.cells) {
		return mob.Cell{}, false
	}
	return c.cells[c.pos], true
}

func (c *fileCursor) advance() { c.pos++ }

// cursorHeap is a container/heap over the set of open file cursors,
// always popping the cursor whose next cell sorts first (spec.md §6
// scanner ordering), the same k-way merge shape as the teacher's
// multi-log-file heap.
type cursorHeap []*fileCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	ci, _ := h[i].peek()
	cj, _ := h[j].peek()
	return ci.Compare(cj) < 0
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)   { *h = append(*h, x.(*fileCursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scanner is the local k-way-merge implementation of mob.Scanner. It
// applies ScanDropDeletes by suppressing cells covered by a
// family/column/exact-version delete marker seen earlier in the merged
// order, or ScanRetainDeletes by passing every cell through unchanged.
type Scanner struct {
	heap     cursorHeap
	scanType mob.ScanType

	familyDeleteTS int64
	columnDeleteTS int64
	exactDeleteTS  int64
	curRow         []byte
	curFamily      []byte
	curQualifier   []byte
	haveCur        bool
}

func newScanner(fs afero.Fs, paths []string, scanType mob.ScanType) (*Scanner, error) {
	h := make(cursorHeap, 0, len(paths))
	for _, p := range paths {
		cells, err := readFileBody(fs, p)
		if err != nil {
			return nil, err
		}
		if len(cells) == 0 {
			continue
		}
		h = append(h, &fileCursor{cells: cells})
	}
	heap.Init(&h)
	return &Scanner{heap: h, scanType: scanType, familyDeleteTS: -1, columnDeleteTS: -1, exactDeleteTS: -1}, nil
}

// Next fills out with up to len(out) surviving cells and reports
// whether the scanner has more cells after this call.
func (s *Scanner) Next(out []mob.Cell) (int, bool, error) {
	n := 0
	for n < len(out) && s.heap.Len() > 0 {
		cursor := s.heap[0]
		cell, ok := cursor.peek()
		if !ok {
			heap.Pop(&s.heap)
			continue
		}
		cursor.advance()
		if _, ok := cursor.peek(); ok {
			heap.Fix(&s.heap, 0)
		} else {
			heap.Pop(&s.heap)
		}

		if s.resetBoundary(cell) {
			s.familyDeleteTS = -1
			s.columnDeleteTS = -1
		}

		switch s.scanType {
		case mob.ScanRetainDeletes:
			out[n] = cell
			n++
		default: // ScanDropDeletes
			if s.dropped(cell) {
				continue
			}
			out[n] = cell
			n++
		}
	}
	return n, s.heap.Len() > 0, nil
}

// resetBoundary reports whether cell starts a new row/family (and, if
// so, also a new qualifier), at which point per-qualifier and
// per-family delete state must be cleared before being applied to it.
func (s *Scanner) resetBoundary(cell mob.Cell) bool {
	newRowOrFamily := !s.haveCur || !bytes.Equal(cell.Row, s.curRow) || !bytes.Equal(cell.Family, s.curFamily)
	newQualifier := newRowOrFamily || !bytes.Equal(cell.Qualifier, s.curQualifier)
	s.curRow = cell.Row
	s.curFamily = cell.Family
	s.curQualifier = cell.Qualifier
	s.haveCur = true
	if newQualifier {
		s.columnDeleteTS = -1
		s.exactDeleteTS = -1
	}
	return newRowOrFamily
}

// dropped applies HBase-style delete-marker suppression: a family
// delete at timestamp T hides every cell at or below T in that family;
// a column delete hides every cell at or below T for that qualifier; a
// single-version delete hides exactly the cell at that timestamp. Cells
// arrive row/family/qualifier ascending, timestamp descending, so a
// delete marker is always seen before the versions it covers.
func (s *Scanner) dropped(cell mob.Cell) bool {
	switch cell.Type {
	case mob.CellDeleteFamily:
		if cell.Timestamp > s.familyDeleteTS {
			s.familyDeleteTS = cell.Timestamp
		}
		return true
	case mob.CellDeleteColumn:
		if cell.Timestamp > s.columnDeleteTS {
			s.columnDeleteTS = cell.Timestamp
		}
		return true
	case mob.CellDelete:
		s.exactDeleteTS = cell.Timestamp
		return true
	default:
		if cell.Timestamp <= s.familyDeleteTS || cell.Timestamp <= s.columnDeleteTS || cell.Timestamp == s.exactDeleteTS {
			return true
		}
		return false
	}
}

func (s *Scanner) Close() error { return nil }

// ScannerFactory builds Scanner instances rooted at an afero.Fs,
// implementing mob.ScannerFactory.
type ScannerFactory struct {
	Fs afero.Fs
}

func NewScannerFactory(fs afero.Fs) *ScannerFactory { return &ScannerFactory{Fs: fs} }

func (f *ScannerFactory) NewScanner(_ context.Context, paths []string, scanType mob.ScanType, _ int) (mob.Scanner, error) {
	return newScanner(f.Fs, paths, scanType)
}
