package generation

import (
	"errors"
	"fmt"
	"time"
)

// Interval is a resampling bucket width.
type Interval string

const (
	IntervalHalfHour Interval = "30m"
	IntervalHour     Interval = "1h"
	IntervalDay      Interval = "1d"
	IntervalMonth    Interval = "1mo"
	IntervalYear     Interval = "1y"
)

// ErrInvalidInterval is returned for an unknown bucket width.
var ErrInvalidInterval = errors.New("invalid interval")

// ParseInterval validates s. An empty string selects the native half-hour resolution.
func ParseInterval(s string) (Interval, error) {
	switch iv := Interval(s); iv {
	case "":
		return IntervalHalfHour, nil
	case IntervalHalfHour, IntervalHour, IntervalDay, IntervalMonth, IntervalYear:
		return iv, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
}

// bucketStart returns the UTC start of the bucket containing t.
func (iv Interval) bucketStart(t time.Time) time.Time {
	t = t.UTC()
	switch iv {
	case IntervalHour:
		return t.Truncate(time.Hour)
	case IntervalDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case IntervalMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case IntervalYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(30 * time.Minute)
	}
}

// Downsample groups rows sorted by DateTime into buckets of width iv. Each
// output row carries the bucket start, the bucket's largest _id and the mean
// of every metric column.
func Downsample(rows []Generation, iv Interval) []Generation {
	if len(rows) == 0 {
		return nil
	}

	var (
		out   []Generation
		acc   Generation
		sums  []float64
		count int
	)

	flush := func() {
		if count == 0 {
			return
		}
		for i, m := range acc.Metrics() {
			*m = sums[i] / float64(count)
		}
		out = append(out, acc)
	}

	for i := range rows {
		row := &rows[i]
		start := iv.bucketStart(row.DateTime)

		if count == 0 || !start.Equal(acc.DateTime) {
			flush()
			acc = Generation{DateTime: start}
			sums = make([]float64, len(MetricColumns))
			count = 0
		}

		for j, m := range row.Metrics() {
			sums[j] += *m
		}
		if row.ID > acc.ID {
			acc.ID = row.ID
		}
		count++
	}
	flush()

	return out
}

// FilterRange returns the rows whose DateTime lies within [from, to]. A nil
// bound is open.
func FilterRange(rows []Generation, from, to *time.Time) []Generation {
	if from == nil && to == nil {
		return rows
	}

	var result []Generation
	for _, row := range rows {
		if from != nil && row.DateTime.Before(*from) {
			continue
		}
		if to != nil && row.DateTime.After(*to) {
			continue
		}
		result = append(result, row)
	}
	return result
}
