package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/geo"
	"device-monitor/internal/logging"
	"device-monitor/internal/metrics"
)

const DefaultMovementThreshold = 5.0

type position struct {
	lat, lon float64
}

// MovementDetector raises a location alert when an online device moves
// more than the threshold between two consecutive snapshots.
type MovementDetector struct {
	l         *slog.Logger
	alerts    AlertCreator
	open      ViolationSet
	now       func() time.Time
	threshold float64
	oneShot   bool

	mu   sync.Mutex
	last map[string]position
}

type MovementOption func(*MovementDetector)

// WithMovementThreshold sets the distance in meters above which a move alerts.
func WithMovementThreshold(meters float64) MovementOption {
	return func(m *MovementDetector) { m.threshold = meters }
}

// WithOneShot keeps the location key open for the life of the process, so
// only the first qualifying move of each device alerts.
func WithOneShot(oneShot bool) MovementOption {
	return func(m *MovementDetector) { m.oneShot = oneShot }
}

func NewMovementDetector(l *slog.Logger, alerts AlertCreator, open ViolationSet, opts ...MovementOption) *MovementDetector {
	m := &MovementDetector{
		l:         l.With(slog.String("component", "movement-detector")),
		alerts:    alerts,
		open:      open,
		now:       time.Now,
		threshold: DefaultMovementThreshold,
		last:      make(map[string]position),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check runs CheckDevice for each device and then forgets devices missing
// from the snapshot.
func (m *MovementDetector) Check(ctx context.Context, devices []domain.Device) {
	for i := range devices {
		m.CheckDevice(ctx, &devices[i])
	}
	m.Prune(devices)
}

// CheckDevice compares an online device against its cached position and
// then caches the current one. Offline devices are left alone.
func (m *MovementDetector) CheckDevice(ctx context.Context, d *domain.Device) {
	if d.Status != domain.StatusOnline {
		return
	}

	cur := position{lat: d.Latitude, lon: d.Longitude}

	m.mu.Lock()
	prev, ok := m.last[d.ID]
	m.last[d.ID] = cur
	m.mu.Unlock()

	if ok {
		m.checkMove(ctx, d, geo.Distance(prev.lat, prev.lon, cur.lat, cur.lon))
	}
}

// Prune drops cached positions of devices not in the snapshot.
func (m *MovementDetector) Prune(devices []domain.Device) {
	seen := make(map[string]struct{}, len(devices))
	for i := range devices {
		seen[devices[i].ID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.last {
		if _, ok := seen[id]; !ok {
			delete(m.last, id)
		}
	}
}

func (m *MovementDetector) checkMove(ctx context.Context, d *domain.Device, dist float64) {
	key := domain.ViolationKey(d.ID, domain.AlertLocation)

	if dist <= m.threshold {
		if m.oneShot {
			return
		}
		if err := m.open.Clear(ctx, key); err != nil {
			metrics.ViolationFailures.Add(1)
			m.l.Error("failed to clear violation", slog.String("key", key), logging.ErrAttr(err))
		}
		return
	}

	open, err := m.open.IsOpen(ctx, key)
	if err != nil {
		metrics.ViolationFailures.Add(1)
		m.l.Error("failed to check violation", slog.String("key", key), logging.ErrAttr(err))
		return
	}
	if open {
		return
	}

	alert := domain.Alert{
		DeviceID:   d.ID,
		DeviceName: d.Name,
		Type:       domain.AlertLocation,
		Value:      dist,
		Threshold:  m.threshold,
		Message:    fmt.Sprintf("Device moved %.2f meters from its previous location", dist),
		CreatedAt:  m.now(),
	}

	id, err := m.alerts.Create(ctx, alert)
	if err != nil {
		metrics.AlertWriteFailures.Add(1)
		m.l.Error("failed to create movement alert", slog.String("deviceID", d.ID), logging.ErrAttr(err))
		return
	}
	metrics.AlertsCreated.Add(1)

	if err := m.open.Open(ctx, key); err != nil {
		metrics.ViolationFailures.Add(1)
		m.l.Error("failed to open violation", slog.String("key", key), logging.ErrAttr(err))
	}

	m.l.Info("movement alert created",
		slog.String("alertID", id),
		slog.String("deviceID", d.ID),
		slog.Float64("meters", dist),
	)
}

// Forget drops the cached position of a deleted device.
func (m *MovementDetector) Forget(deviceID string) {
	m.mu.Lock()
	delete(m.last, deviceID)
	m.mu.Unlock()
}

// Cached reports the last position seen for deviceID.
func (m *MovementDetector) Cached(deviceID string) (lat, lon float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.last[deviceID]
	return p.lat, p.lon, ok
}
