package background

import (
	"context"
	"time"

	"github.com/goodtune/pedometer/internal/pedometer"
	"github.com/rs/zerolog"
)

// DefaultSmallIcon is used when the tracking work has no icon.
const DefaultSmallIcon = "ic_walk"

// Notification is the ongoing notification shown while tracking in the
// background.
type Notification struct {
	Title       string
	ContextText string
	SmallIcon   string
	Ongoing     bool
}

// Notifier shows a foreground notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info().
		Str("title", n.Title).
		Str("text", n.ContextText).
		Str("icon", n.SmallIcon).
		Bool("ongoing", n.Ongoing).
		Msg("Foreground notification")
	return nil
}

// Tracker starts step tracking.
type Tracker interface {
	StartStepsTracking(ctx context.Context) error
}

// LookupFunc finds the tracker a work run should use.
type LookupFunc func() (Tracker, error)

// InstanceLookup resolves the process-wide pedometer.
func InstanceLookup() (Tracker, error) {
	p, err := pedometer.Instance()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TrackingWorker keeps step tracking registered while the service runs
// without a foreground client.
type TrackingWorker struct {
	lookup   LookupFunc
	notifier Notifier
	logger   zerolog.Logger
}

// NewTrackingWorker creates a tracking worker. A nil lookup resolves the
// process-wide pedometer.
func NewTrackingWorker(lookup LookupFunc, notifier Notifier, logger zerolog.Logger) *TrackingWorker {
	if lookup == nil {
		lookup = InstanceLookup
	}
	logger = logger.With().Str("component", "tracking-worker").Logger()
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &TrackingWorker{
		lookup:   lookup,
		notifier: notifier,
		logger:   logger,
	}
}

// DoWork implements Worker.
func (w *TrackingWorker) DoWork(ctx context.Context, data Data) Result {
	tracker, err := w.lookup()
	if err != nil {
		w.logger.Error().Err(err).Msg("No pedometer to track with")
		return Failure
	}

	n := Notification{
		Title:       data.String(KeyTitle, ""),
		ContextText: data.String(KeyContextText, ""),
		SmallIcon:   data.String(KeySmallIcon, DefaultSmallIcon),
		Ongoing:     true,
	}
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to show tracking notification")
	}

	if err := tracker.StartStepsTracking(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Failed to start step tracking")
		return Retry
	}

	return Success
}

// NotificationData builds the tracking work input.
func NotificationData(n pedometer.Notification) Data {
	return Data{
		KeyTitle:       n.Title,
		KeyContextText: n.ContextText,
		KeySmallIcon:   n.SmallIcon,
	}
}

// Tracking schedules the tracking worker for the pedometer.
type Tracking struct {
	scheduler *Scheduler
	worker    Worker
}

// NewTracking adapts a scheduler and worker to pedometer.BackgroundScheduler.
func NewTracking(scheduler *Scheduler, worker Worker) *Tracking {
	return &Tracking{scheduler: scheduler, worker: worker}
}

// ScheduleTracking enqueues the tracking work, keeping one already scheduled.
func (t *Tracking) ScheduleTracking(ctx context.Context, key string, interval time.Duration, n pedometer.Notification) error {
	return t.scheduler.EnqueueUniquePeriodic(ctx, key, PeriodicWork{
		Worker:   t.worker,
		Interval: interval,
		Tags:     []string{key},
		Data:     NotificationData(n),
	}, Keep)
}

// CancelAllByTag cancels the tracking work.
func (t *Tracking) CancelAllByTag(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.scheduler.CancelAllByTag(tag)
	return nil
}
