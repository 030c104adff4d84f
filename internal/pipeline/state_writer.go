package pipeline

import (
	"context"
	"log/slog"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/metrics"
)

const (
	stateBatchSize     = 100
	stateFlushInterval = 50 * time.Millisecond
)

type DeviceUpdater interface {
	UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) error
}

// StateWriter applies readings to the device records. Readings for the same
// device within one flush are combined when they report different fields,
// so a burst costs fewer writes without hiding any reported value.
type StateWriter struct {
	l       *slog.Logger
	ch      <-chan *domain.Reading
	devices DeviceUpdater
}

func NewStateWriter(l *slog.Logger, ch <-chan *domain.Reading, devices DeviceUpdater) *StateWriter {
	return &StateWriter{
		l:       l.With(slog.String("component", "state-writer")),
		ch:      ch,
		devices: devices,
	}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.Reading, 0, stateBatchSize)
	ticker := time.NewTicker(stateFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-w.ch:
			if !ok {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, r)
			if len(batch) >= stateBatchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// ctx is gone, so finish the pending batch on a fresh one
			w.flush(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

func (w *StateWriter) flush(ctx context.Context, batch []*domain.Reading) {
	for _, p := range mergeByDevice(batch) {
		if err := w.devices.UpdateDevice(ctx, p.deviceID, p.patch); err != nil {
			metrics.StateWriteFailures.Add(1)
			w.l.Error("device update failed", slog.String("deviceID", p.deviceID), logging.ErrAttr(err))
		}
	}
}

type devicePatch struct {
	deviceID string
	patch    domain.DevicePatch
}

// mergeByDevice folds each reading into the device's latest pending patch
// unless the two report a common field; then the reading starts a new patch.
// Every reported value reaches the store and per-device order is kept.
func mergeByDevice(batch []*domain.Reading) []devicePatch {
	open := make(map[string]int, len(batch))
	var out []devicePatch

	for _, r := range batch {
		if r.Empty() {
			continue
		}
		next := r.Patch()

		if i, ok := open[r.DeviceID]; ok && !overlaps(out[i].patch, next) {
			fold(&out[i].patch, next)
			continue
		}

		open[r.DeviceID] = len(out)
		out = append(out, devicePatch{deviceID: r.DeviceID, patch: next})
	}
	return out
}

func overlaps(a, b domain.DevicePatch) bool {
	both := func(x, y *float64) bool { return x != nil && y != nil }
	return both(a.Latitude, b.Latitude) ||
		both(a.Longitude, b.Longitude) ||
		both(a.Temperature, b.Temperature) ||
		both(a.Humidity, b.Humidity) ||
		both(a.WindSpeed, b.WindSpeed) ||
		both(a.GasLevel, b.GasLevel)
}

func fold(p *domain.DevicePatch, next domain.DevicePatch) {
	if next.Latitude != nil {
		p.Latitude = next.Latitude
	}
	if next.Longitude != nil {
		p.Longitude = next.Longitude
	}
	if next.Temperature != nil {
		p.Temperature = next.Temperature
	}
	if next.Humidity != nil {
		p.Humidity = next.Humidity
	}
	if next.WindSpeed != nil {
		p.WindSpeed = next.WindSpeed
	}
	if next.GasLevel != nil {
		p.GasLevel = next.GasLevel
	}
}
