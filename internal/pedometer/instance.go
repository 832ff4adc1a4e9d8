package pedometer

import (
	"errors"
	"sync"
)

// ErrNotInitialized is returned by Instance before Initialize.
var ErrNotInitialized = errors.New("pedometer_instance_not_initialize")

var (
	instanceMu sync.RWMutex
	instance   *Pedometer
)

// Initialize sets the process-wide pedometer used by background work.
func Initialize(p *Pedometer) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = p
}

// Instance returns the process-wide pedometer.
func Instance() (*Pedometer, error) {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	if instance == nil {
		return nil, ErrNotInitialized
	}
	return instance, nil
}
