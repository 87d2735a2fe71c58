package expiry

import (
	"fmt"
	"sort"
	"time"
)

// Granularity is the time bucket batches are grouped into for period
// aggregation.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Valid reports whether g is one of the recognised granularities.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return true
	default:
		return false
	}
}

// bucketKey returns the display label and the bucket's start instant for
// t under granularity g, grounded on the original prototype's day/ISO-week/
// month bucketing.
func bucketKey(t time.Time, g Granularity) (label string, start time.Time) {
	t = t.UTC()
	switch g {
	case GranularityWeek:
		year, week := t.ISOWeek()
		daysFromMonday := (int(t.Weekday()) + 6) % 7
		monday := t.AddDate(0, 0, -daysFromMonday)
		start = time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
		label = fmt.Sprintf("%d-W%02d", year, week)
	case GranularityMonth:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		label = t.Format("2006-01")
	default:
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		label = t.Format("2006-01-02")
	}
	return label, start
}

// Period is one non-empty aggregation bucket: batches expiring within it,
// the total chunk count they cover, and the resulting storage capacity.
type Period struct {
	Label        string
	Start        time.Time
	BatchCount   int
	TotalChunks  uint64
	StorageBytes uint64
	StorageHuman string
}

// Aggregate buckets results by their ExpiryAt timestamp under granularity g,
// summing chunks_expiring and storage_capacity_expiring per bucket.
func Aggregate(results []Result, g Granularity) []Period {
	type bucket struct {
		start  time.Time
		count  int
		chunks uint64
	}
	buckets := make(map[string]*bucket)

	for _, r := range results {
		label, start := bucketKey(r.ExpiryAt, g)
		b, ok := buckets[label]
		if !ok {
			b = &bucket{start: start}
			buckets[label] = b
		}
		b.count++
		b.chunks += r.Chunks
	}

	periods := make([]Period, 0, len(buckets))
	for label, b := range buckets {
		bytes := b.chunks * ChunkSizeBytes
		periods = append(periods, Period{
			Label:        label,
			Start:        b.start,
			BatchCount:   b.count,
			TotalChunks:  b.chunks,
			StorageBytes: bytes,
			StorageHuman: FormatStorageIEC(bytes),
		})
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Start.Before(periods[j].Start) })
	return periods
}

// FormatStorageIEC renders a byte count using binary (1024-based) IEC
// units, at the display boundary only — all aggregation stays in exact
// integers.
func FormatStorageIEC(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}
