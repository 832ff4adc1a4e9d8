// Package pedometer turns a cumulative step counter into persisted hourly
// step buckets and answers range queries over them.
package pedometer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goodtune/pedometer/internal/metrics"
	"github.com/goodtune/pedometer/internal/permission"
	"github.com/goodtune/pedometer/internal/sensor"
	"github.com/goodtune/pedometer/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	// WorkKey names and tags the periodic background tracking work.
	WorkKey = "PEDOMETER_KEY"

	// DefaultBackgroundInterval is also the shortest allowed interval.
	DefaultBackgroundInterval = 15 * time.Minute

	// DefaultRangeCacheSize is the number of range query results kept.
	DefaultRangeCacheSize = 256
)

var (
	// ErrNotRegistered is returned by RequestPermission before Register.
	ErrNotRegistered = permission.ErrNotRegistered

	// ErrNoScheduler is returned by the background operations when no
	// scheduler was configured.
	ErrNoScheduler = errors.New("background scheduler not configured")
)

// Listener receives the raw counter value of every step-counter event.
type Listener interface {
	OnStepChange(steps int)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(steps int)

// OnStepChange calls f(steps).
func (f ListenerFunc) OnStepChange(steps int) { f(steps) }

// Notification is the foreground notification shown while background
// tracking runs.
type Notification struct {
	Title       string `json:"title"`
	ContextText string `json:"context_text"`
	SmallIcon   string `json:"small_icon"`
}

// BackgroundScheduler runs the periodic tracking work.
type BackgroundScheduler interface {
	// ScheduleTracking enqueues unique periodic work named and tagged key,
	// keeping an already scheduled work.
	ScheduleTracking(ctx context.Context, key string, interval time.Duration, n Notification) error
	CancelAllByTag(ctx context.Context, tag string) error
}

// Config holds pedometer settings.
type Config struct {
	Location           *time.Location
	BackgroundInterval time.Duration
	RangeCacheSize     int
}

// rangeKey identifies a cached range query. version is the hash of the
// persisted record the result was computed from, so a write by any process
// sharing the store makes older entries unreachable.
type rangeKey struct {
	start, end int64
	version    uint64
}

// Deps are the host services the pedometer runs on. Preferences and Gate are
// required. Without Sensors nothing is tracked but queries still work.
type Deps struct {
	Preferences storage.PreferenceStore
	Sensors     sensor.Manager
	Gate        *permission.Gate
	Scheduler   BackgroundScheduler
	Clock       Clock
}

// Pedometer records step-counter events into hourly buckets.
type Pedometer struct {
	cfg       Config
	prefs     storage.PreferenceStore
	sensors   sensor.Manager
	gate      *permission.Gate
	scheduler BackgroundScheduler
	clock     Clock
	cache     *lru.Cache[rangeKey, []storage.StepBucket]
	logger    zerolog.Logger

	// mu serializes every read-modify-write of the persisted state and every
	// query, whichever goroutine delivers the event.
	mu       sync.Mutex
	revision atomic.Uint64

	regMu       sync.Mutex
	tracking    sensor.Registration
	hasTracking bool
	watchers    map[sensor.Registration]struct{}
}

// New creates a pedometer.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Pedometer {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.BackgroundInterval < DefaultBackgroundInterval {
		cfg.BackgroundInterval = DefaultBackgroundInterval
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if cfg.RangeCacheSize <= 0 {
		cfg.RangeCacheSize = DefaultRangeCacheSize
	}

	p := &Pedometer{
		cfg:       cfg,
		prefs:     deps.Preferences,
		sensors:   deps.Sensors,
		gate:      deps.Gate,
		scheduler: deps.Scheduler,
		clock:     deps.Clock,
		logger:    logger.With().Str("component", "pedometer").Logger(),
		watchers:  make(map[sensor.Registration]struct{}),
	}

	cache, err := lru.New[rangeKey, []storage.StepBucket](cfg.RangeCacheSize)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Range cache disabled")
	} else {
		p.cache = cache
	}

	return p
}

// Register attaches the host's permission prompt.
func (p *Pedometer) Register(launcher permission.Launcher) *Pedometer {
	p.gate.SetLauncher(launcher)
	return p
}

// RequestPermission asks the user for the activity recognition permission.
func (p *Pedometer) RequestPermission(ctx context.Context) (bool, error) {
	granted, err := p.gate.Request(ctx)
	if err != nil {
		if errors.Is(err, ErrNotRegistered) {
			p.logger.Error().Msg("Permission requested before a launcher was registered")
		}
		return false, err
	}
	return granted, nil
}

// IsGranted reports whether step counting is permitted. Policy errors read as
// not granted.
func (p *Pedometer) IsGranted(ctx context.Context) bool {
	granted, err := p.gate.IsGranted(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Permission check failed")
		return false
	}
	return granted
}

// StartStepsTracking starts persisting step-counter events. Calling it again
// replaces the previous registration. Devices without a step counter are
// left alone.
func (p *Pedometer) StartStepsTracking(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s, ok := p.stepCounter()
	if !ok {
		p.logger.Debug().Msg("No step counter sensor, tracking not started")
		return nil
	}

	p.regMu.Lock()
	defer p.regMu.Unlock()

	if p.hasTracking {
		p.sensors.Unregister(p.tracking)
		p.hasTracking = false
	}

	id, err := p.sensors.RegisterListener(sensor.ListenerFunc(p.onSensorChanged), s, sensor.DelayFastest)
	if err != nil {
		return fmt.Errorf("register step counter listener: %w", err)
	}
	p.tracking = id
	p.hasTracking = true

	p.logger.Info().Str("sensor", s.Name).Msg("Step tracking started")
	return nil
}

// TrackSteps forwards raw step-counter values to l until the returned cancel
// func is called.
func (p *Pedometer) TrackSteps(l Listener) (cancel func()) {
	noop := func() {}
	if l == nil {
		return noop
	}

	s, ok := p.stepCounter()
	if !ok {
		p.logger.Debug().Msg("No step counter sensor, listener not registered")
		return noop
	}

	id, err := p.sensors.RegisterListener(sensor.ListenerFunc(func(e sensor.Event) {
		l.OnStepChange(e.StepValue())
	}), s, sensor.DelayFastest)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to register step listener")
		return noop
	}

	p.regMu.Lock()
	p.watchers[id] = struct{}{}
	p.regMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.regMu.Lock()
			delete(p.watchers, id)
			p.regMu.Unlock()
			p.sensors.Unregister(id)
		})
	}
}

// GetSteps returns the buckets whose hour starts within [startMillis,
// endMillis], in recording order.
func (p *Pedometer) GetSteps(ctx context.Context, startMillis, endMillis int64) ([]storage.StepBucket, error) {
	return p.query(ctx, "range", startMillis, endMillis, true)
}

// GetDailySteps returns today's buckets, from local midnight up to now.
func (p *Pedometer) GetDailySteps(ctx context.Context) ([]storage.StepBucket, error) {
	now := p.clock.Now()
	return p.query(ctx, "daily", startOfDay(now, p.cfg.Location).UnixMilli(), now.UnixMilli(), false)
}

// query reloads the persisted record and filters it. Results of cacheable
// queries are reused while the record is unchanged.
func (p *Pedometer) query(ctx context.Context, kind string, start, end int64, cacheable bool) ([]storage.StepBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := p.loadRaw(ctx)
	if err != nil {
		return nil, err
	}

	useCache := cacheable && p.cache != nil
	key := rangeKey{start: start, end: end, version: xxhash.Sum64String(raw)}
	if useCache {
		if buckets, ok := p.cache.Get(key); ok {
			metrics.RangeCacheHits.Inc()
			return slices.Clone(buckets), nil
		}
		metrics.RangeCacheMisses.Inc()
	}

	buckets := inRange(p.decode(raw).Buckets, start, end)
	if useCache {
		p.cache.Add(key, slices.Clone(buckets))
	}
	return buckets, nil
}

// StartBackgroundTracking schedules periodic re-registration of the step
// listener with n as the foreground notification. An already scheduled
// work is kept.
func (p *Pedometer) StartBackgroundTracking(ctx context.Context, n Notification) error {
	if p.scheduler == nil {
		return ErrNoScheduler
	}
	if err := p.scheduler.ScheduleTracking(ctx, WorkKey, p.cfg.BackgroundInterval, n); err != nil {
		return fmt.Errorf("schedule background tracking: %w", err)
	}
	p.logger.Info().Dur("interval", p.cfg.BackgroundInterval).Msg("Background tracking scheduled")
	return nil
}

// StopBackgroundTracking cancels the periodic work.
func (p *Pedometer) StopBackgroundTracking(ctx context.Context) error {
	if p.scheduler == nil {
		return ErrNoScheduler
	}
	if err := p.scheduler.CancelAllByTag(ctx, WorkKey); err != nil {
		return fmt.Errorf("cancel background tracking: %w", err)
	}
	p.logger.Info().Msg("Background tracking cancelled")
	return nil
}

// Revision counts state writes made by this process.
func (p *Pedometer) Revision() uint64 {
	return p.revision.Load()
}

// Close unregisters every listener the pedometer registered.
func (p *Pedometer) Close() error {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	if p.hasTracking {
		p.sensors.Unregister(p.tracking)
		p.hasTracking = false
	}
	for id := range p.watchers {
		p.sensors.Unregister(id)
		delete(p.watchers, id)
	}
	return nil
}

// Record folds one event into the persisted state. It is the step listener
// registered by StartStepsTracking and is exported for offline replays.
// When the state cannot be read the event is dropped and nothing is written.
func (p *Pedometer) Record(ctx context.Context, e sensor.Event) Outcome {
	steps := e.StepValue()
	hour := HourKey(e.Time(p.clock.Now()), p.cfg.Location)

	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := p.loadRaw(ctx)
	if err != nil {
		metrics.SensorEventsTotal.WithLabelValues(Failed.String()).Inc()
		return Failed
	}

	state := p.decode(raw)
	before := state.Total()

	outcome := Reconcile(&state, steps, hour)
	metrics.SensorEventsTotal.WithLabelValues(outcome.String()).Inc()
	if outcome == Counted {
		metrics.StepsRecorded.Add(float64(state.Total() - before))
	}

	if err := p.save(ctx, state); err != nil {
		metrics.StorageErrors.WithLabelValues("write").Inc()
		p.logger.Error().Err(err).Msg("Failed to persist step state")
		return outcome
	}

	p.logger.Debug().
		Int("raw", steps).
		Int64("hour", hour).
		Str("outcome", outcome.String()).
		Msg("Step counter reading recorded")

	return outcome
}

func (p *Pedometer) stepCounter() (sensor.Sensor, bool) {
	if p.sensors == nil {
		return sensor.Sensor{}, false
	}
	return p.sensors.DefaultSensor(sensor.TypeStepCounter)
}

func (p *Pedometer) onSensorChanged(e sensor.Event) {
	if e.Sensor != sensor.TypeStepCounter {
		return
	}
	p.Record(context.Background(), e)
}

// loadRaw reads the persisted record. A missing record reads as "". Any
// other failure is returned so callers never overwrite a state they could
// not see.
func (p *Pedometer) loadRaw(ctx context.Context) (string, error) {
	raw, err := p.prefs.GetString(ctx, storage.StateKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		metrics.StorageErrors.WithLabelValues("read").Inc()
		p.logger.Error().Err(err).Msg("Failed to read step state")
		return "", fmt.Errorf("get %s: %w", storage.StateKey, err)
	}
	return raw, nil
}

// decode parses a persisted record. A malformed record decodes as the empty
// state.
func (p *Pedometer) decode(raw string) storage.TrackingState {
	state, err := storage.DecodeState(raw)
	if err != nil {
		metrics.StateDecodeErrors.Inc()
		p.logger.Warn().Err(err).Msg("Discarding malformed step state")
	}
	return state
}

func (p *Pedometer) save(ctx context.Context, state storage.TrackingState) error {
	encoded, err := storage.EncodeState(state)
	if err != nil {
		return err
	}
	if err := p.prefs.PutString(ctx, storage.StateKey, encoded); err != nil {
		return fmt.Errorf("put %s: %w", storage.StateKey, err)
	}
	p.revision.Add(1)
	metrics.Buckets.Set(float64(len(state.Buckets)))
	return nil
}
