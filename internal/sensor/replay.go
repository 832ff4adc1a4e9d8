package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Replay is a Manager that plays back a JSON-lines capture of sensor events.
// Each line is one Event.
type Replay struct {
	*Dispatcher

	source io.Reader
	closer io.Closer
	logger zerolog.Logger
}

// NewReplay creates a replay manager reading events from r.
func NewReplay(r io.Reader, logger zerolog.Logger) *Replay {
	return &Replay{
		Dispatcher: NewDispatcher(),
		source:     r,
		logger:     logger.With().Str("component", "sensor-replay").Logger(),
	}
}

// OpenReplay opens a capture file for replay.
func OpenReplay(path string, logger zerolog.Logger) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay capture: %w", err)
	}
	r := NewReplay(f, logger)
	r.closer = f
	return r, nil
}

// DefaultSensor reports the capture's step counter.
func (r *Replay) DefaultSensor(t Type) (Sensor, bool) {
	if t != TypeStepCounter {
		return Sensor{}, false
	}
	return Sensor{Type: TypeStepCounter, Name: "replay step counter"}, true
}

// RegisterListener registers l for events of s.
func (r *Replay) RegisterListener(l Listener, s Sensor, _ Delay) (Registration, error) {
	return r.Add(l, s), nil
}

// Unregister removes a registration.
func (r *Replay) Unregister(id Registration) {
	r.Remove(id)
}

// Run dispatches every event in the capture, in order, and returns the
// number of events read. Malformed lines are logged and skipped.
func (r *Replay) Run(ctx context.Context) (int, error) {
	scanner := bufio.NewScanner(r.source)
	count := 0
	line := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(text), &event); err != nil {
			r.logger.Warn().Err(err).Int("line", line).Msg("Skipping malformed sensor event")
			continue
		}
		if event.Sensor == "" {
			event.Sensor = TypeStepCounter
		}

		count++
		r.Dispatch(event)
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("read replay capture: %w", err)
	}

	r.logger.Debug().Int("events", count).Msg("Replay finished")
	return count, nil
}

// Close closes the capture file, if the replay opened one.
func (r *Replay) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
