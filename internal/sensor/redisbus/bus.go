// Package redisbus delivers sensor events published by device bridges over
// Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goodtune/pedometer/internal/sensor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannelPrefix is prepended to the sensor type to form a channel name.
const DefaultChannelPrefix = "pedometer:sensor"

// Bus is a sensor.Manager backed by Redis pub/sub. Each registration owns
// its own subscription so unregistering one listener never affects another.
type Bus struct {
	*sensor.Dispatcher

	client *redis.Client
	prefix string
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[sensor.Registration]*redis.PubSub
}

// New creates a bus on an existing client.
func New(client *redis.Client, prefix string, logger zerolog.Logger) *Bus {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Bus{
		Dispatcher: sensor.NewDispatcher(),
		client:     client,
		prefix:     prefix,
		logger:     logger.With().Str("component", "sensor-bus").Logger(),
		subs:       make(map[sensor.Registration]*redis.PubSub),
	}
}

// Channel returns the channel events of type t are published on.
func (b *Bus) Channel(t sensor.Type) string {
	return fmt.Sprintf("%s:%s", b.prefix, t)
}

// DefaultSensor reports the remote step counter. Other types are not bridged.
func (b *Bus) DefaultSensor(t sensor.Type) (sensor.Sensor, bool) {
	if t != sensor.TypeStepCounter {
		return sensor.Sensor{}, false
	}
	return sensor.Sensor{Type: sensor.TypeStepCounter, Name: "bridged step counter"}, true
}

// RegisterListener subscribes to the sensor's channel and delivers decoded
// events to l from a dedicated goroutine until the registration is removed.
func (b *Bus) RegisterListener(l sensor.Listener, s sensor.Sensor, _ sensor.Delay) (sensor.Registration, error) {
	ctx := context.Background()
	channel := b.Channel(s.Type)

	ps := b.client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no event published after
	// registration is lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return 0, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	id := b.Add(l, s)

	b.mu.Lock()
	b.subs[id] = ps
	b.mu.Unlock()

	go b.consume(id, s.Type, ps)

	b.logger.Debug().Str("channel", channel).Uint64("registration", uint64(id)).Msg("Sensor listener registered")
	return id, nil
}

func (b *Bus) consume(id sensor.Registration, t sensor.Type, ps *redis.PubSub) {
	for msg := range ps.Channel() {
		var event sensor.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed sensor event")
			continue
		}
		if event.Sensor == "" {
			event.Sensor = t
		}
		b.DispatchTo(id, event)
	}
}

// Unregister closes the registration's subscription.
func (b *Bus) Unregister(id sensor.Registration) {
	b.Remove(id)

	b.mu.Lock()
	ps, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		if err := ps.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("Failed to close subscription")
		}
	}
}

// Publish sends an event to the bus, as a device bridge would.
func (b *Bus) Publish(ctx context.Context, event sensor.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sensor event: %w", err)
	}
	return b.client.Publish(ctx, b.Channel(event.Sensor), payload).Err()
}

// Close removes every registration.
func (b *Bus) Close() error {
	b.mu.Lock()
	ids := make([]sensor.Registration, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.Unregister(id)
	}
	return nil
}
