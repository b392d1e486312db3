// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/compactor/bucket_compactor.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

// Package mob implements compaction of MOB (medium object blob) files
// and their associated del (tombstone) files: classifying candidates
// into partitions, merging del files, and rewriting each partition's
// MOB files into fewer, larger ones with a correlated reference file
// that is bulkloaded into the owning table.
package mob

import (
	"fmt"
	"sort"
)

// CellType distinguishes a live cell from the different delete markers
// a del file may carry.
type CellType byte

const (
	CellPut CellType = iota
	CellDeleteFamily
	CellDeleteColumn
	CellDelete
)

// TagType identifies the kind of a Tag attached to a Cell.
type TagType byte

// MobTableNameTag is the tag type used on reference cells to carry the
// fully-qualified name of the table that owns the MOB file being
// referenced (spec.md §4.4 step 4).
const MobTableNameTag TagType = 1

// Tag is a small typed annotation carried alongside a Cell's value.
// Reference cells carry a MobTableNameTag pointing back at the owning
// table.
type Tag struct {
	Type  TagType
	Value []byte
}

// Cell is the unit moved by the scanner and writer interfaces: a
// single row/family/qualifier/timestamp entry with its value, type and
// any tags.
type Cell struct {
	Row       []byte
	Family    []byte
	Qualifier []byte
	Timestamp int64
	Type      CellType
	Value     []byte
	Tags      []Tag
}

func bytesLess(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Compare orders cells the way the scanner must deliver them: by row,
// family, qualifier ascending, then by timestamp descending (newest
// version first), then delete markers ahead of puts at the same
// timestamp, matching the order a wide-column store's own
// memstore/file readers produce.
func (c Cell) Compare(o Cell) int {
	if d := bytesLess(c.Row, o.Row); d != 0 {
		return d
	}
	if d := bytesLess(c.Family, o.Family); d != 0 {
		return d
	}
	if d := bytesLess(c.Qualifier, o.Qualifier); d != 0 {
		return d
	}
	switch {
	case c.Timestamp > o.Timestamp:
		return -1
	case c.Timestamp < o.Timestamp:
		return 1
	case c.Type > o.Type:
		return -1
	case c.Type < o.Type:
		return 1
	default:
		return 0
	}
}

// TableName is a fully-qualified table identifier.
type TableName struct {
	Namespace string
	Name      string
}

func (t TableName) String() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + ":" + t.Name
}

// MobFile describes one immutable input MOB file.
type MobFile struct {
	Path          string
	Length        int64
	MaxSequenceID int64
	// Metadata holds file-info entries written into the file's trailer,
	// notably MOB_CELLS_COUNT.
	Metadata map[string]string
}

// CellCount returns the MOB_CELLS_COUNT trailer value, or 0 if absent
// or unparsable.
func (f MobFile) CellCount() int64 {
	return metadataInt64(f.Metadata, MetaMobCellsCount)
}

// DelFile describes one immutable tombstone file. Del files are not
// partitioned; they apply globally within a compaction.
type DelFile struct {
	Path          string
	Length        int64
	MaxSequenceID int64
}

// FileLink is an optional indirection: a candidate that names several
// possible physical targets, the first existing one of which is the
// real file.
type FileLink struct {
	Name        string
	Alternative []string
}

// PartitionPolicy selects how a file's date maps to a partition bucket
// and mergeable-size threshold (spec.md §4.1).
type PartitionPolicy int

const (
	PolicyDaily PartitionPolicy = iota
	PolicyWeekly
	PolicyMonthly
)

func (p PartitionPolicy) String() string {
	switch p {
	case PolicyDaily:
		return "DAILY"
	case PolicyWeekly:
		return "WEEKLY"
	case PolicyMonthly:
		return "MONTHLY"
	default:
		return fmt.Sprintf("PartitionPolicy(%d)", int(p))
	}
}

// PartitionID identifies a group of MOB files sharing a start-key
// prefix and date bucket under the active policy.
type PartitionID struct {
	StartKey string
	Date     string

	// Threshold is the mergeable-size cut-off computed for this bucket
	// at selection time (spec.md §4.1).
	Threshold int64
}

func (id PartitionID) String() string {
	return id.StartKey + "/" + id.Date
}

// Partition groups the MOB files selected for one PartitionID, in
// insertion order; ordering among them is otherwise imposed by the
// scanner layer.
type Partition struct {
	ID         PartitionID
	Files      []MobFile
	LatestDate string
}

// add inserts f into the partition and updates LatestDate if f's date
// (passed in by the caller, since Partition itself does not parse
// file names) is newer.
func (p *Partition) add(f MobFile, date string) {
	p.Files = append(p.Files, f)
	if date > p.LatestDate {
		p.LatestDate = date
	}
}

// RequestType records whether a CompactionRequest's selection saw
// every input candidate (ALL_FILES) or only some of them (PART_FILES);
// it gates del-file archival (spec.md §3 invariant 5).
type RequestType int

const (
	AllFiles RequestType = iota
	PartFiles
)

// CompactionRequest is the output of the Selector: the partitions to
// compact, the del files to merge against them, and enough bookkeeping
// to decide whether del-file archival is safe afterwards.
type CompactionRequest struct {
	Partitions    []*Partition
	DelFiles      []DelFile
	SelectionTime int64
	Type          RequestType
}

// SortedPartitions returns the request's partitions in a stable order
// (by start key, then date), for deterministic fan-out and tests.
func (r *CompactionRequest) SortedPartitions() []*Partition {
	out := make([]*Partition, len(r.Partitions))
	copy(out, r.Partitions)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.StartKey != out[j].ID.StartKey {
			return out[i].ID.StartKey < out[j].ID.StartKey
		}
		return out[i].ID.Date < out[j].ID.Date
	})
	return out
}
