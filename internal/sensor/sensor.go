// Package sensor models the host's step-counter sensor service: sensors,
// events, listeners and the managers that deliver events to them.
package sensor

import (
	"math"
	"time"
)

// Type identifies a kind of sensor.
type Type string

// TypeStepCounter reports the cumulative step count since the device booted.
const TypeStepCounter Type = "step_counter"

// Delay is the requested event delivery rate.
type Delay int

const (
	// DelayFastest delivers events as soon as the sensor reports them.
	DelayFastest Delay = iota
	// DelayGame is the rate suited to games.
	DelayGame
	// DelayUI is the rate suited to user interface updates.
	DelayUI
	// DelayNormal is the default rate.
	DelayNormal
)

// Sensor describes a sensor offered by a Manager.
type Sensor struct {
	Type   Type   `json:"type"`
	Name   string `json:"name"`
	Vendor string `json:"vendor,omitempty"`
}

// Event is a single sensor reading.
type Event struct {
	Sensor    Type      `json:"sensor"`
	Values    []float32 `json:"values"`
	Timestamp int64     `json:"timestamp"` // nanoseconds since Boot
	Boot      time.Time `json:"boot"`
}

// Time returns the wall-clock instant of the event. Events without a boot
// reference are taken to have happened at now.
func (e Event) Time(now time.Time) time.Time {
	if e.Boot.IsZero() {
		return now
	}
	return e.Boot.Add(time.Duration(e.Timestamp))
}

// StepValue converts the first value of a step-counter event to a count.
// Missing, NaN, infinite and negative values read as zero.
func (e Event) StepValue() int {
	if len(e.Values) == 0 {
		return 0
	}
	v := float64(e.Values[0])
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > math.MaxInt32 {
		return 0
	}
	return int(v)
}

// Listener receives sensor events.
type Listener interface {
	OnSensorChanged(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

// OnSensorChanged calls f(e).
func (f ListenerFunc) OnSensorChanged(e Event) { f(e) }

// Registration identifies a registered listener.
type Registration uint64

// Manager is the sensor service a host provides.
type Manager interface {
	// DefaultSensor returns the default sensor of a type, if the device has one.
	DefaultSensor(t Type) (Sensor, bool)
	RegisterListener(l Listener, s Sensor, delay Delay) (Registration, error)
	Unregister(id Registration)
}
