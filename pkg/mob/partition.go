// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"time"
)

const dateLayout = "20060102"

// identifyPartition implements the Partition Identifier (spec.md
// §4.1): given a file's date, the active policy, "now", and the base
// mergeable size, it computes the date bucket and size threshold a
// file of that date falls into, or reports skipCompaction when the
// date can't be classified at all (e.g. unparsable).
func identifyPartition(fileDate string, policy PartitionPolicy, now time.Time, mergeableSize int64) (bucket string, threshold int64, skipCompaction bool) {
	t, err := time.ParseInLocation(dateLayout, fileDate, time.UTC)
	if err != nil {
		return "", 0, true
	}

	switch policy {
	case PolicyDaily:
		return fileDate, mergeableSize, false

	case PolicyWeekly:
		if inCurrentWeek(t, now) {
			return fileDate, mergeableSize, false
		}
		return weekStart(t).Format(dateLayout), 2 * mergeableSize, false

	case PolicyMonthly:
		switch {
		case inCurrentWeek(t, now):
			return fileDate, mergeableSize, false
		case inCurrentMonth(t, now):
			return weekStart(t).Format(dateLayout), 2 * mergeableSize, false
		default:
			return monthStart(t).Format(dateLayout), 3 * mergeableSize, false
		}

	default:
		return "", 0, true
	}
}

// eligibleForPartition applies spec.md §4.1's eligibility rule: a file
// is eligible for compaction when it classified successfully and is
// smaller than the bucket's threshold, unless isForceAllFiles
// overrides the size check.
func eligibleForPartition(length, threshold int64, skipCompaction, isForceAllFiles bool) bool {
	if skipCompaction {
		return false
	}
	return isForceAllFiles || length < threshold
}

// weekStart returns the Monday (ISO week start) of the week
// containing t, at midnight UTC.
func weekStart(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	// time.Weekday: Sunday=0 ... Saturday=6. ISO weeks start on Monday.
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func inCurrentWeek(t, now time.Time) bool {
	return weekStart(t).Equal(weekStart(now))
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func inCurrentMonth(t, now time.Time) bool {
	return monthStart(t).Equal(monthStart(now))
}
