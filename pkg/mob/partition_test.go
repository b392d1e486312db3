// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseDate(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(dateLayout, s, time.UTC)
	require.NoError(t, err)
	return ts
}

func TestIdentifyPartition_Daily(t *testing.T) {
	now := mustParseDate(t, "20240115")
	bucket, threshold, skip := identifyPartition("20240101", PolicyDaily, now, 64)
	assert.False(t, skip)
	assert.Equal(t, "20240101", bucket)
	assert.EqualValues(t, 64, threshold)
}

func TestIdentifyPartition_Weekly_CurrentWeek(t *testing.T) {
	// 2024-01-15 is a Monday.
	now := mustParseDate(t, "20240115")
	bucket, threshold, skip := identifyPartition("20240117", PolicyWeekly, now, 64)
	assert.False(t, skip)
	assert.Equal(t, "20240117", bucket)
	assert.EqualValues(t, 64, threshold)
}

func TestIdentifyPartition_Weekly_Escalation(t *testing.T) {
	// Scenario S5: a file two weeks prior escalates to 2x threshold and
	// buckets under its own week's Monday.
	now := mustParseDate(t, "20240115")
	bucket, threshold, skip := identifyPartition("20240101", PolicyWeekly, now, 64)
	assert.False(t, skip)
	assert.Equal(t, "20240101", bucket) // 2024-01-01 is itself a Monday
	assert.EqualValues(t, 128, threshold)
}

func TestIdentifyPartition_Monthly_Tiers(t *testing.T) {
	now := mustParseDate(t, "20240115")

	bucket, threshold, skip := identifyPartition("20240115", PolicyMonthly, now, 64)
	assert.False(t, skip)
	assert.Equal(t, "20240115", bucket)
	assert.EqualValues(t, 64, threshold)

	bucket, threshold, skip = identifyPartition("20240108", PolicyMonthly, now, 64)
	assert.False(t, skip)
	assert.Equal(t, "20240108", bucket) // Monday of that week
	assert.EqualValues(t, 128, threshold)

	bucket, threshold, skip = identifyPartition("20231201", PolicyMonthly, now, 64)
	assert.False(t, skip)
	assert.Equal(t, "20231201", bucket)
	assert.EqualValues(t, 192, threshold)
}

func TestIdentifyPartition_Unparsable(t *testing.T) {
	_, _, skip := identifyPartition("not-a-date", PolicyDaily, time.Now(), 64)
	assert.True(t, skip)
}

func TestEligibleForPartition(t *testing.T) {
	assert.True(t, eligibleForPartition(10, 64, false, false))
	assert.False(t, eligibleForPartition(100, 64, false, false))
	assert.True(t, eligibleForPartition(100, 64, false, true)) // force overrides size
	assert.False(t, eligibleForPartition(10, 64, true, true))  // skipCompaction always wins
}
