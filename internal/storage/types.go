package storage

import (
	"encoding/json"
	"fmt"
)

// StepBucket is the aggregated step count for one calendar hour.
type StepBucket struct {
	Timestamp int64 `json:"timeStamp"` // hour-aligned epoch milliseconds
	Steps     int   `json:"steps"`
}

// TrackingState is the single persisted aggregate.
// Buckets are append-only and ordered by first-seen hour.
type TrackingState struct {
	LastRawCounter int          `json:"stepsOnLastTimeStamp"`
	Buckets        []StepBucket `json:"stepsData"`
}

// LastBucket returns the most recent bucket, or nil when there is none.
func (s *TrackingState) LastBucket() *StepBucket {
	if len(s.Buckets) == 0 {
		return nil
	}
	return &s.Buckets[len(s.Buckets)-1]
}

// Total returns the sum of all bucket counts.
func (s *TrackingState) Total() int {
	total := 0
	for _, b := range s.Buckets {
		total += b.Steps
	}
	return total
}

// EncodeState serializes a tracking state to its persisted JSON form.
func EncodeState(state TrackingState) (string, error) {
	if state.Buckets == nil {
		state.Buckets = []StepBucket{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal tracking state: %w", err)
	}
	return string(data), nil
}

// DecodeState parses a persisted tracking state.
// An empty string decodes to the empty state.
func DecodeState(raw string) (TrackingState, error) {
	state := TrackingState{Buckets: []StepBucket{}}
	if raw == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return TrackingState{Buckets: []StepBucket{}}, fmt.Errorf("unmarshal tracking state: %w", err)
	}
	if state.Buckets == nil {
		state.Buckets = []StepBucket{}
	}
	return state, nil
}
