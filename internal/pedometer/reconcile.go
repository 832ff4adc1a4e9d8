package pedometer

import (
	"time"

	"github.com/goodtune/pedometer/internal/storage"
)

// Outcome is what a single counter reading did to the tracking state.
type Outcome int

const (
	// Initialized means the reading became the first baseline.
	Initialized Outcome = iota
	// Rebooted means the counter went backwards and the baseline was rebased.
	Rebooted
	// Idle means the counter did not move.
	Idle
	// Counted means steps were added to a bucket.
	Counted
	// Failed means the state could not be read and the reading was dropped.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Initialized:
		return "initialized"
	case Rebooted:
		return "rebooted"
	case Idle:
		return "idle"
	case Counted:
		return "counted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reconcile folds one raw step-counter reading into state. hour is the
// bucket key of the reading, as returned by HourKey. Only the last bucket is
// ever incremented, so bucket keys stay in first-seen order.
func Reconcile(state *storage.TrackingState, raw int, hour int64) Outcome {
	last := state.LastRawCounter

	switch {
	case last == 0:
		state.LastRawCounter = raw
		return Initialized
	case last > raw:
		// The counter restarts at boot. The persisted baseline is the
		// post-reboot reading, not zero, so steps before it are not counted.
		state.LastRawCounter = raw
		return Rebooted
	case last == raw:
		return Idle
	}

	delta := raw - last
	if b := state.LastBucket(); b != nil && b.Timestamp == hour {
		b.Steps += delta
	} else {
		state.Buckets = append(state.Buckets, storage.StepBucket{Timestamp: hour, Steps: delta})
	}
	state.LastRawCounter = raw

	return Counted
}

// HourKey returns the epoch milliseconds of the start of the calendar hour
// containing t, in loc.
func HourKey(t time.Time, loc *time.Location) int64 {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc).UnixMilli()
}

// startOfDay returns local midnight of the day containing t.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// inRange returns the buckets with start <= timestamp <= end, in order.
func inRange(buckets []storage.StepBucket, start, end int64) []storage.StepBucket {
	out := make([]storage.StepBucket, 0)
	for _, b := range buckets {
		if b.Timestamp >= start && b.Timestamp <= end {
			out = append(out, b)
		}
	}
	return out
}
