package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/metrics"
	"device-monitor/internal/store"
)

const DefaultWindow = 10 * time.Second

// Notification is one user-facing signal for a newly raised alert.
type Notification struct {
	Alert domain.Alert `json:"alert"`
	Sound bool         `json:"sound"`
}

// ToastSink shows a visual notification.
type ToastSink interface {
	Toast(ctx context.Context, n Notification) error
}

// SoundSink plays the audible alarm.
type SoundSink interface {
	Sound(ctx context.Context, a domain.Alert) error
}

type PreferenceSource interface {
	AlarmSound() bool
}

// AlertSubscriber delivers the alert list, newest first, on every change.
type AlertSubscriber interface {
	Subscribe(ctx context.Context, fn func([]domain.Alert)) (store.Unsubscribe, error)
}

// Notifier fires one notification per newly raised unacknowledged alert.
type Notifier struct {
	l       *slog.Logger
	toast   ToastSink
	sound   SoundSink
	prefs   PreferenceSource
	tracker *Tracker
	window  time.Duration
	now     func() time.Time
}

type Option func(*Notifier)

func WithTracker(t *Tracker) Option {
	return func(n *Notifier) { n.tracker = t }
}

// WithWindow sets how recent an alert must be to notify.
func WithWindow(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// New builds a Notifier. sound may be nil, in which case notifications are
// visual only.
func New(l *slog.Logger, toast ToastSink, sound SoundSink, prefs PreferenceSource, opts ...Option) *Notifier {
	n := &Notifier{
		l:       l.With(slog.String("component", "notifier")),
		toast:   toast,
		sound:   sound,
		prefs:   prefs,
		tracker: DefaultTracker,
		window:  DefaultWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run subscribes to alerts and handles every update until ctx is done.
func (n *Notifier) Run(ctx context.Context, alerts AlertSubscriber) error {
	unsub, err := alerts.Subscribe(ctx, func(list []domain.Alert) {
		n.Handle(ctx, list)
	})
	if err != nil {
		return fmt.Errorf("subscribe alerts: %w", err)
	}
	defer unsub()

	<-ctx.Done()
	return nil
}

// Handle looks at the most recent unacknowledged alert in list and fires a
// notification if it is new and inside the window. It reports whether one
// fired.
func (n *Notifier) Handle(ctx context.Context, list []domain.Alert) bool {
	latest, ok := latestUnacknowledged(list)
	if !ok {
		return false
	}

	if n.now().Sub(latest.CreatedAt) >= n.window {
		return false
	}

	if !n.tracker.Claim(latest.ID) {
		return false
	}

	sound := n.sound != nil && n.prefs != nil && n.prefs.AlarmSound()

	if err := n.toast.Toast(ctx, Notification{Alert: latest, Sound: sound}); err != nil {
		n.l.Error("toast failed", slog.String("alertID", latest.ID), logging.ErrAttr(err))
	}

	if sound {
		if err := n.sound.Sound(ctx, latest); err != nil {
			n.l.Error("alarm sound failed", slog.String("alertID", latest.ID), logging.ErrAttr(err))
		}
	}

	metrics.NotificationsFired.Add(1)
	n.l.Info("notification fired",
		slog.String("alertID", latest.ID),
		slog.String("deviceID", latest.DeviceID),
		slog.Bool("sound", sound),
	)
	return true
}

func latestUnacknowledged(list []domain.Alert) (domain.Alert, bool) {
	for _, a := range list {
		if !a.Acknowledged {
			return a, true
		}
	}
	return domain.Alert{}, false
}
