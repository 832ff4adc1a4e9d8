package pedometer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/pedometer/internal/permission"
	"github.com/goodtune/pedometer/internal/sensor"
	"github.com/goodtune/pedometer/internal/storage"
	"github.com/goodtune/pedometer/internal/storage/bolt"
	"github.com/rs/zerolog"
)

type memoryPrefs struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryPrefs() *memoryPrefs {
	return &memoryPrefs{values: make(map[string]string)}
}

func (m *memoryPrefs) GetString(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *memoryPrefs) PutString(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryPrefs) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memoryPrefs) Keys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys, nil
}

// fakeSensors is a Manager whose events are pushed by the test.
type fakeSensors struct {
	*sensor.Dispatcher
	missing bool
}

func newFakeSensors() *fakeSensors {
	return &fakeSensors{Dispatcher: sensor.NewDispatcher()}
}

func (f *fakeSensors) DefaultSensor(t sensor.Type) (sensor.Sensor, bool) {
	if f.missing || t != sensor.TypeStepCounter {
		return sensor.Sensor{}, false
	}
	return sensor.Sensor{Type: sensor.TypeStepCounter, Name: "fake"}, true
}

func (f *fakeSensors) RegisterListener(l sensor.Listener, s sensor.Sensor, _ sensor.Delay) (sensor.Registration, error) {
	return f.Add(l, s), nil
}

func (f *fakeSensors) Unregister(id sensor.Registration) {
	f.Remove(id)
}

func (f *fakeSensors) steps(n float32) int {
	return f.Dispatch(sensor.Event{Sensor: sensor.TypeStepCounter, Values: []float32{n}})
}

type fakeScheduler struct {
	scheduled map[string]Notification
	intervals map[string]time.Duration
}

func (s *fakeScheduler) ScheduleTracking(_ context.Context, key string, interval time.Duration, n Notification) error {
	if _, ok := s.scheduled[key]; ok {
		return nil
	}
	s.scheduled[key] = n
	s.intervals[key] = interval
	return nil
}

func (s *fakeScheduler) CancelAllByTag(_ context.Context, tag string) error {
	delete(s.scheduled, tag)
	return nil
}

type fixture struct {
	pedometer *Pedometer
	sensors   *fakeSensors
	prefs     storage.PreferenceStore
	clock     *TestClock
	scheduler *fakeScheduler
}

func newFixture(t *testing.T, prefs storage.PreferenceStore) *fixture {
	t.Helper()

	policy, err := permission.NewPolicy("", zerolog.Nop())
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	f := &fixture{
		sensors:   newFakeSensors(),
		prefs:     prefs,
		clock:     &TestClock{CurrentTime: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)},
		scheduler: &fakeScheduler{scheduled: map[string]Notification{}, intervals: map[string]time.Duration{}},
	}
	f.pedometer = New(Config{Location: time.UTC}, Deps{
		Preferences: prefs,
		Sensors:     f.sensors,
		Gate:        permission.NewGate(policy, permission.NewMemoryChecker(nil), 33, zerolog.Nop()),
		Scheduler:   f.scheduler,
		Clock:       f.clock,
	}, zerolog.Nop())
	return f
}

func TestTrackingRecordsHourlyBuckets(t *testing.T) {
	f := newFixture(t, newMemoryPrefs())
	ctx := context.Background()

	if err := f.pedometer.StartStepsTracking(ctx); err != nil {
		t.Fatalf("start tracking: %v", err)
	}

	f.sensors.steps(100)
	f.sensors.steps(105)
	f.sensors.steps(108)

	f.clock.Advance(time.Hour)
	f.sensors.steps(120)

	buckets, err := f.pedometer.GetSteps(ctx, 0, f.clock.Now().UnixMilli())
	if err != nil {
		t.Fatalf("get steps: %v", err)
	}

	h9 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	h10 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	want := []storage.StepBucket{{Timestamp: h9, Steps: 8}, {Timestamp: h10, Steps: 12}}
	if len(buckets) != len(want) {
		t.Fatalf("expected %v, got %v", want, buckets)
	}
	for i := range want {
		if buckets[i] != want[i] {
			t.Fatalf("bucket %d: expected %+v, got %+v", i, want[i], buckets[i])
		}
	}

	if f.pedometer.Revision() != 4 {
		t.Fatalf("expected one write per event, got revision %d", f.pedometer.Revision())
	}
}

func TestStartStepsTrackingReplacesListener(t *testing.T) {
	f := newFixture(t, newMemoryPrefs())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.pedometer.StartStepsTracking(ctx); err != nil {
			t.Fatalf("start tracking: %v", err)
		}
	}

	if n := f.sensors.Len(); n != 1 {
		t.Fatalf("expected a single registration, got %d", n)
	}

	f.sensors.steps(10)
	f.sensors.steps(15)

	buckets, _ := f.pedometer.GetDailySteps(ctx)
	if len(buckets) != 1 || buckets[0].Steps != 5 {
		t.Fatalf("expected steps to be counted once, got %+v", buckets)
	}
}

func TestStartStepsTrackingWithoutSensor(t *testing.T) {
	f := newFixture(t, newMemoryPrefs())
	f.sensors.missing = true

	if err := f.pedometer.StartStepsTracking(context.Background()); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	if f.sensors.Len() != 0 {
		t.Fatal("expected no registration")
	}

	cancel := f.pedometer.TrackSteps(ListenerFunc(func(int) {}))
	cancel()
}

func TestTrackStepsForwardsRawValues(t *testing.T) {
	f := newFixture(t, newMemoryPrefs())

	var got []int
	cancel := f.pedometer.TrackSteps(ListenerFunc(func(steps int) { got = append(got, steps) }))

	f.sensors.steps(7)
	f.sensors.steps(9)
	cancel()
	cancel()
	f.sensors.steps(11)

	if len(got) != 2 || got[0] != 7 || got[1] != 9 {
		t.Fatalf("expected [7 9], got %v", got)
	}
	if f.sensors.Len() != 0 {
		t.Fatalf("expected listener removed, got %d registrations", f.sensors.Len())
	}
}

func TestGetDailyStepsExcludesYesterday(t *testing.T) {
	prefs := newMemoryPrefs()
	today := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	yesterday := today - time.Hour.Milliseconds()

	encoded, err := storage.EncodeState(storage.TrackingState{
		LastRawCounter: 500,
		Buckets: []storage.StepBucket{
			{Timestamp: yesterday, Steps: 40},
			{Timestamp: today, Steps: 3},
			{Timestamp: today + 9*time.Hour.Milliseconds(), Steps: 12},
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = prefs.PutString(context.Background(), storage.StateKey, encoded)

	f := newFixture(t, prefs)
	buckets, err := f.pedometer.GetDailySteps(context.Background())
	if err != nil {
		t.Fatalf("daily steps: %v", err)
	}
	if len(buckets) != 2 || buckets[0].Steps != 3 || buckets[1].Steps != 12 {
		t.Fatalf("unexpected daily buckets %+v", buckets)
	}
}

func TestMalformedStateStartsFresh(t *testing.T) {
	prefs := newMemoryPrefs()
	_ = prefs.PutString(context.Background(), storage.StateKey, "{not json")

	f := newFixture(t, prefs)
	ctx := context.Background()

	buckets, err := f.pedometer.GetSteps(ctx, 0, 1<<62)
	if err != nil || len(buckets) != 0 {
		t.Fatalf("expected empty result, got %v (%v)", buckets, err)
	}

	if got := f.pedometer.Record(ctx, sensor.Event{Sensor: sensor.TypeStepCounter, Values: []float32{30}}); got != Initialized {
		t.Fatalf("expected fresh initialization, got %s", got)
	}

	raw, _ := prefs.GetString(ctx, storage.StateKey)
	state, err := storage.DecodeState(raw)
	if err != nil || state.LastRawCounter != 30 {
		t.Fatalf("expected state to be rewritten, got %q", raw)
	}
}

func TestStatePersistsAcrossInstances(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "pedometer.bolt"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	defer func() { _ = store.Close() }()

	prefs := store.Preferences(storage.DefaultPreferencesName)
	ctx := context.Background()

	first := newFixture(t, prefs)
	_ = first.pedometer.StartStepsTracking(ctx)
	first.sensors.steps(100)
	first.sensors.steps(140)
	_ = first.pedometer.Close()

	second := newFixture(t, prefs)
	_ = second.pedometer.StartStepsTracking(ctx)
	second.sensors.steps(150)

	buckets, err := second.pedometer.GetDailySteps(ctx)
	if err != nil {
		t.Fatalf("daily steps: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Steps != 50 {
		t.Fatalf("expected baseline to survive restart, got %+v", buckets)
	}
}

func TestRequestPermission(t *testing.T) {
	f := newFixture(t, newMemoryPrefs())
	ctx := context.Background()

	if _, err := f.pedometer.RequestPermission(ctx); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if f.pedometer.IsGranted(ctx) {
		t.Fatal("expected permission not granted")
	}

	granted, err := f.pedometer.
		Register(permission.StaticLauncher{Allow: []string{permission.ActivityRecognition}}).
		RequestPermission(ctx)
	if err != nil || !granted {
		t.Fatalf("expected grant, got %v (%v)", granted, err)
	}
	if !f.pedometer.IsGranted(ctx) {
		t.Fatal("expected permission granted after request")
	}
}

func TestBackgroundTracking(t *testing.T) {
	f := newFixture(t, newMemoryPrefs())
	ctx := context.Background()

	n := Notification{Title: "Pedometer", ContextText: "Counting", SmallIcon: "ic_walk"}
	if err := f.pedometer.StartBackgroundTracking(ctx, n); err != nil {
		t.Fatalf("start background: %v", err)
	}
	if err := f.pedometer.StartBackgroundTracking(ctx, Notification{Title: "other"}); err != nil {
		t.Fatalf("start background again: %v", err)
	}

	if got := f.scheduler.scheduled[WorkKey]; got != n {
		t.Fatalf("expected first notification to be kept, got %+v", got)
	}
	if got := f.scheduler.intervals[WorkKey]; got != DefaultBackgroundInterval {
		t.Fatalf("expected %v interval, got %v", DefaultBackgroundInterval, got)
	}

	if err := f.pedometer.StopBackgroundTracking(ctx); err != nil {
		t.Fatalf("stop background: %v", err)
	}
	if len(f.scheduler.scheduled) != 0 {
		t.Fatal("expected work to be cancelled")
	}
}

func TestBackgroundTrackingWithoutScheduler(t *testing.T) {
	p := New(Config{}, Deps{Preferences: newMemoryPrefs(), Sensors: newFakeSensors()}, zerolog.Nop())
	if err := p.StartBackgroundTracking(context.Background(), Notification{}); !errors.Is(err, ErrNoScheduler) {
		t.Fatalf("expected ErrNoScheduler, got %v", err)
	}
}

func TestInstance(t *testing.T) {
	Initialize(nil)
	if _, err := Instance(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	p := New(Config{}, Deps{Preferences: newMemoryPrefs(), Sensors: newFakeSensors()}, zerolog.Nop())
	Initialize(p)
	defer Initialize(nil)

	got, err := Instance()
	if err != nil || got != p {
		t.Fatalf("expected initialized instance, got %v (%v)", got, err)
	}
}

// flakyPrefs fails the next failReads reads.
type flakyPrefs struct {
	*memoryPrefs
	mu        sync.Mutex
	failReads int
}

func (f *flakyPrefs) failNextRead() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads++
}

func (f *flakyPrefs) GetString(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	if f.failReads > 0 {
		f.failReads--
		f.mu.Unlock()
		return "", errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.memoryPrefs.GetString(ctx, key)
}

func totalSteps(t *testing.T, p *Pedometer) int {
	t.Helper()

	buckets, err := p.GetSteps(context.Background(), 0, 1<<62)
	if err != nil {
		t.Fatalf("get steps: %v", err)
	}
	state := storage.TrackingState{Buckets: buckets}
	return state.Total()
}

func TestRecordKeepsHistoryWhenReadFails(t *testing.T) {
	prefs := &flakyPrefs{memoryPrefs: newMemoryPrefs()}
	f := newFixture(t, prefs)
	ctx := context.Background()

	f.pedometer.Record(ctx, sensor.Event{Sensor: sensor.TypeStepCounter, Values: []float32{100}})
	f.pedometer.Record(ctx, sensor.Event{Sensor: sensor.TypeStepCounter, Values: []float32{150}})
	if got := totalSteps(t, f.pedometer); got != 50 {
		t.Fatalf("expected 50 steps, got %d", got)
	}

	prefs.failNextRead()
	if outcome := f.pedometer.Record(ctx, sensor.Event{Sensor: sensor.TypeStepCounter, Values: []float32{160}}); outcome != Failed {
		t.Fatalf("expected failed, got %s", outcome)
	}
	if got := totalSteps(t, f.pedometer); got != 50 {
		t.Fatalf("expected history to survive a failed read, got %d steps", got)
	}

	// The dropped reading is caught up by the next one.
	if outcome := f.pedometer.Record(ctx, sensor.Event{Sensor: sensor.TypeStepCounter, Values: []float32{170}}); outcome != Counted {
		t.Fatalf("expected counted, got %s", outcome)
	}
	if got := totalSteps(t, f.pedometer); got != 70 {
		t.Fatalf("expected 70 steps, got %d", got)
	}
}

func TestGetStepsReturnsReadError(t *testing.T) {
	prefs := &flakyPrefs{memoryPrefs: newMemoryPrefs()}
	f := newFixture(t, prefs)

	prefs.failNextRead()
	if _, err := f.pedometer.GetSteps(context.Background(), 0, 1<<62); err == nil {
		t.Fatal("expected read error")
	}
}

func TestRangeQuerySeesOtherWriters(t *testing.T) {
	prefs := newMemoryPrefs()
	f := newFixture(t, prefs)
	other := New(Config{Location: time.UTC}, Deps{Preferences: prefs, Clock: f.clock}, zerolog.Nop())
	ctx := context.Background()

	if err := f.pedometer.StartStepsTracking(ctx); err != nil {
		t.Fatalf("start tracking: %v", err)
	}
	f.sensors.steps(100)
	f.sensors.steps(110)

	buckets, err := f.pedometer.GetSteps(ctx, 0, 1<<62)
	if err != nil || len(buckets) != 1 || buckets[0].Steps != 10 {
		t.Fatalf("expected one bucket of 10, got %+v (%v)", buckets, err)
	}

	// Callers own the returned slice.
	buckets[0].Steps = 999
	if got := totalSteps(t, f.pedometer); got != 10 {
		t.Fatalf("expected cached result to be unaffected, got %d", got)
	}

	other.Record(ctx, sensor.Event{Sensor: sensor.TypeStepCounter, Values: []float32{150}})
	if got := totalSteps(t, f.pedometer); got != 50 {
		t.Fatalf("expected the other writer's steps, got %d", got)
	}
}
