package monitor

import (
	"context"
	"log/slog"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/metrics"
)

const (
	DefaultOfflineThreshold = 5 * time.Minute
	DefaultLivenessInterval = time.Minute
)

// DeviceUpdater writes a partial device update.
type DeviceUpdater interface {
	UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) error
}

// LivenessEvaluator derives online/offline status from LastUpdated.
type LivenessEvaluator struct {
	l         *slog.Logger
	devices   DeviceUpdater
	threshold time.Duration
	interval  time.Duration
	now       func() time.Time
	trigger   chan struct{}
}

func NewLivenessEvaluator(l *slog.Logger, devices DeviceUpdater, threshold, interval time.Duration) *LivenessEvaluator {
	if threshold <= 0 {
		threshold = DefaultOfflineThreshold
	}
	if interval <= 0 {
		interval = DefaultLivenessInterval
	}
	return &LivenessEvaluator{
		l:         l.With(slog.String("component", "liveness")),
		devices:   devices,
		threshold: threshold,
		interval:  interval,
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
	}
}

// Transition returns the status d should move to at now, if any.
func (e *LivenessEvaluator) Transition(d domain.Device, now time.Time) (domain.DeviceStatus, bool) {
	stale := now.Sub(d.LastUpdated) > e.threshold

	switch {
	case d.Status == domain.StatusOnline && stale:
		return domain.StatusOffline, true
	case d.Status == domain.StatusOffline && !stale:
		return domain.StatusOnline, true
	}
	return "", false
}

// Evaluate writes every due status transition and returns how many
// succeeded. A failed write is logged and left for the next run.
func (e *LivenessEvaluator) Evaluate(ctx context.Context, devices []domain.Device, now time.Time) int {
	written := 0
	for _, d := range devices {
		next, ok := e.Transition(d, now)
		if !ok {
			continue
		}

		if err := e.devices.UpdateDevice(ctx, d.ID, domain.StatusPatch(next)); err != nil {
			metrics.StatusWriteFailures.Add(1)
			e.l.Error("failed to write device status",
				slog.String("deviceID", d.ID),
				slog.String("status", string(next)),
				logging.ErrAttr(err),
			)
			continue
		}

		metrics.StatusTransitions.Add(1)
		written++
		e.l.Info("device status changed",
			slog.String("deviceID", d.ID),
			slog.String("from", string(d.Status)),
			slog.String("to", string(next)),
		)
	}
	return written
}

// Trigger requests an evaluation outside the regular schedule. Requests
// made while one is already pending are merged.
func (e *LivenessEvaluator) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run evaluates once immediately, then on every tick and every Trigger,
// until ctx is done. snapshot supplies the current device list.
func (e *LivenessEvaluator) Run(ctx context.Context, snapshot func() []domain.Device) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.Evaluate(ctx, snapshot(), e.now())

	for {
		select {
		case <-ticker.C:
			e.Evaluate(ctx, snapshot(), e.now())
		case <-e.trigger:
			e.Evaluate(ctx, snapshot(), e.now())
		case <-ctx.Done():
			return
		}
	}
}
