// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"path/filepath"
	"strconv"
	"strings"
)

// MetaMobCellsCount is the trailer metadata key carrying the number of
// cells written into a MOB file (spec.md §3 "Attributes consumed").
const MetaMobCellsCount = "MOB_CELLS_COUNT"

// delFilePrefix distinguishes a tombstone file's name from a MOB
// file's (spec.md §3 "distinguishable from MobFile by name prefix").
const delFilePrefix = "del_"

// mobFilePrefix is the leading byte of a MOB file name, followed by an
// 8-digit YYYYMMDD date, an underscore, and the hex-encoded start key.
const mobFilePrefix = "d"

// ParseMobFileName extracts the date bucket and hex-encoded start key
// embedded in a MOB file's basename. ok is false if name doesn't match
// the expected "d<YYYYMMDD>_<startKeyHex>[_<suffix>]" shape.
func ParseMobFileName(path string) (date, startKeyHex string, ok bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, mobFilePrefix) || len(name) < len(mobFilePrefix)+8+1 {
		return "", "", false
	}
	rest := name[len(mobFilePrefix):]
	date = rest[:8]
	if _, err := strconv.Atoi(date); err != nil {
		return "", "", false
	}
	rest = rest[8:]
	if !strings.HasPrefix(rest, "_") {
		return "", "", false
	}
	rest = rest[1:]
	if rest == "" {
		return "", "", false
	}
	if i := strings.IndexByte(rest, '_'); i >= 0 {
		rest = rest[:i]
	}
	return date, rest, true
}

// IsDelFileName reports whether path names a del (tombstone) file
// rather than a MOB file.
func IsDelFileName(path string) bool {
	return strings.HasPrefix(filepath.Base(path), delFilePrefix)
}

// BuildMobFileName constructs the name of a new MOB file produced by a
// batch: date of the owning partition, its start key, and a unique
// suffix (spec.md §4.4 step 3).
func BuildMobFileName(startKeyHex, date, uniq string) string {
	return mobFilePrefix + date + "_" + startKeyHex + "_" + uniq
}

// BuildDelFileName constructs the name of a del file merged from a
// chunk of older ones (spec.md §4.3).
func BuildDelFileName(startKeyHex, date, uniq string) string {
	return delFilePrefix + date + "_" + startKeyHex + "_" + uniq
}

// NewMobTableNameTag builds the tag attached to every reference cell,
// carrying the owning table's fully-qualified name (spec.md §4.4 step
// 4).
func NewMobTableNameTag(table TableName) Tag {
	return Tag{Type: MobTableNameTag, Value: []byte(table.String())}
}

// aggregateMaxSeqID returns the maximum MaxSequenceID across files, 0
// for an empty input (spec.md §4.4 step 2).
func aggregateMaxSeqID(files []MobFile) int64 {
	var max int64
	for _, f := range files {
		if f.MaxSequenceID > max {
			max = f.MaxSequenceID
		}
	}
	return max
}

// aggregateExpectedCells sums each file's MOB_CELLS_COUNT trailer
// value (spec.md §4.4 step 2).
func aggregateExpectedCells(files []MobFile) int64 {
	var total int64
	for _, f := range files {
		total += f.CellCount()
	}
	return total
}

func metadataInt64(m map[string]string, key string) int64 {
	if m == nil {
		return 0
	}
	v, ok := m[key]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
