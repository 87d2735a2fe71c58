package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketKeyDay(t *testing.T) {
	ts := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	label, start := bucketKey(ts, GranularityDay)
	assert.Equal(t, "2025-01-15", label)
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 0, start.Minute())
}

func TestBucketKeyMonth(t *testing.T) {
	ts := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	label, start := bucketKey(ts, GranularityMonth)
	assert.Equal(t, "2025-01", label)
	assert.Equal(t, 1, start.Day())
}

func TestBucketKeyWeekStartsOnMonday(t *testing.T) {
	// 2025-01-15 is a Wednesday.
	ts := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	_, start := bucketKey(ts, GranularityWeek)
	assert.Equal(t, time.Monday, start.Weekday())
	assert.True(t, !start.After(ts))
}

func TestFormatStorageIEC(t *testing.T) {
	tests := []struct {
		chunks uint64
		want   string
	}{
		{chunks: 1, want: "4.00 KiB"},
		{chunks: 256, want: "1.00 MiB"},
		{chunks: 262144, want: "1.00 GiB"},
	}
	for _, tc := range tests {
		got := FormatStorageIEC(tc.chunks * ChunkSizeBytes)
		assert.Equal(t, tc.want, got)
	}
}

func TestAggregateGroupsAndSums(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	results := []Result{
		{Chunks: 1 << 10, ExpiryAt: base},
		{Chunks: 1 << 10, ExpiryAt: base.Add(2 * time.Hour)},
		{Chunks: 1 << 12, ExpiryAt: base.AddDate(0, 0, 1)},
	}

	periods := Aggregate(results, GranularityDay)
	assert.Len(t, periods, 2)

	var same, next *Period
	for i := range periods {
		switch periods[i].Label {
		case "2025-03-10":
			same = &periods[i]
		case "2025-03-11":
			next = &periods[i]
		}
	}
	assert.NotNil(t, same)
	assert.NotNil(t, next)
	assert.Equal(t, 2, same.BatchCount)
	assert.Equal(t, uint64(2<<10), same.TotalChunks)
	assert.Equal(t, 1, next.BatchCount)
}
