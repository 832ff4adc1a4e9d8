package sensor

import "sync"

type subscription struct {
	listener Listener
	sensor   Sensor
}

// Dispatcher fans events out to the listeners registered for their sensor
// type. Managers embed it.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID Registration
	subs   map[Registration]subscription
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[Registration]subscription)}
}

// Add registers a listener and returns its registration.
func (d *Dispatcher) Add(l Listener, s Sensor) Registration {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.subs[d.nextID] = subscription{listener: l, sensor: s}
	return d.nextID
}

// Remove drops a registration. Unknown registrations are ignored.
func (d *Dispatcher) Remove(id Registration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.subs[id]; !ok {
		return false
	}
	delete(d.subs, id)
	return true
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Dispatch delivers e to every listener registered for e.Sensor and returns
// how many listeners received it.
func (d *Dispatcher) Dispatch(e Event) int {
	d.mu.RLock()
	targets := make([]Listener, 0, len(d.subs))
	for _, sub := range d.subs {
		if sub.sensor.Type == e.Sensor {
			targets = append(targets, sub.listener)
		}
	}
	d.mu.RUnlock()

	for _, l := range targets {
		l.OnSensorChanged(e)
	}
	return len(targets)
}

// DispatchTo delivers e to a single registration, if it is still registered.
func (d *Dispatcher) DispatchTo(id Registration, e Event) bool {
	d.mu.RLock()
	sub, ok := d.subs[id]
	d.mu.RUnlock()

	if !ok || sub.sensor.Type != e.Sensor {
		return false
	}
	sub.listener.OnSensorChanged(e)
	return true
}
