package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/metrics"
	"device-monitor/internal/store"
)

type Options struct {
	OfflineThreshold  time.Duration
	LivenessInterval  time.Duration
	MovementThreshold float64
	MovementOneShot   bool

	// Violations defaults to a fresh MemoryViolations.
	Violations ViolationSet
}

// Monitor owns all monitoring state for one store. Device snapshots are
// handled on the subscription goroutine in delivery order; liveness runs on
// its own goroutine from a ticker and from snapshot changes.
type Monitor struct {
	l          *slog.Logger
	store      store.Store
	violations ViolationSet

	thresholds *ThresholdDetector
	movement   *MovementDetector
	liveness   *LivenessEvaluator

	mu      sync.RWMutex
	devices []domain.Device
	ready   chan struct{}
	once    sync.Once
}

func New(l *slog.Logger, st store.Store, alerts AlertCreator, opts Options) *Monitor {
	violations := opts.Violations
	if violations == nil {
		violations = NewMemoryViolations()
	}

	movementThreshold := opts.MovementThreshold
	if movementThreshold <= 0 {
		movementThreshold = DefaultMovementThreshold
	}

	return &Monitor{
		l:          l.With(slog.String("component", "monitor")),
		store:      st,
		violations: violations,
		thresholds: NewThresholdDetector(l, alerts, violations),
		movement: NewMovementDetector(l, alerts, violations,
			WithMovementThreshold(movementThreshold),
			WithOneShot(opts.MovementOneShot),
		),
		liveness: NewLivenessEvaluator(l, st, opts.OfflineThreshold, opts.LivenessInterval),
		ready:    make(chan struct{}),
	}
}

// Run subscribes to device snapshots and runs the liveness loop until ctx
// is done.
func (m *Monitor) Run(ctx context.Context) error {
	unsub, err := m.store.SubscribeDevices(ctx, func(devices []domain.Device) {
		m.handleSnapshot(ctx, devices)
	})
	if err != nil {
		return fmt.Errorf("subscribe devices: %w", err)
	}
	defer unsub()

	m.l.Info("monitor started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.liveness.Run(ctx, m.Snapshot)
	}()

	<-ctx.Done()
	wg.Wait()

	m.l.Info("monitor stopped")
	return nil
}

func (m *Monitor) handleSnapshot(ctx context.Context, devices []domain.Device) {
	m.mu.Lock()
	m.devices = slices.Clone(devices)
	m.mu.Unlock()
	m.once.Do(func() { close(m.ready) })

	// each device is checked in full before the next one
	for i := range devices {
		m.thresholds.CheckDevice(ctx, &devices[i])
		m.movement.CheckDevice(ctx, &devices[i])
	}
	m.movement.Prune(devices)
	m.liveness.Trigger()

	metrics.SnapshotsProcessed.Add(1)
}

// Ready is closed once the first snapshot has been handled.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

// Snapshot returns a copy of the latest device list.
func (m *Monitor) Snapshot() []domain.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.devices)
}

// Devices returns the latest device list with per-metric threshold status.
func (m *Monitor) Devices() []domain.DeviceView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]domain.DeviceView, len(m.devices))
	for i, d := range m.devices {
		views[i] = domain.View(d)
	}
	return views
}

// Device returns one device from the latest snapshot.
func (m *Monitor) Device(id string) (domain.DeviceView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := slices.IndexFunc(m.devices, func(d domain.Device) bool { return d.ID == id })
	if i < 0 {
		return domain.DeviceView{}, false
	}
	return domain.View(m.devices[i]), true
}

// AddDevice stores a new device. Status defaults to online and unset
// thresholds to DefaultThresholds.
func (m *Monitor) AddDevice(ctx context.Context, d domain.Device) (string, error) {
	if d.Status == "" {
		d.Status = domain.StatusOnline
	}
	if d.Thresholds == (domain.Thresholds{}) {
		d.Thresholds = domain.DefaultThresholds
	}

	id, err := m.store.AddDevice(ctx, d)
	if err != nil {
		return "", fmt.Errorf("add device: %w", err)
	}

	m.l.Info("device added", slog.String("deviceID", id), slog.String("name", d.Name))
	return id, nil
}

func (m *Monitor) UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) error {
	if err := m.store.UpdateDevice(ctx, id, patch); err != nil {
		return fmt.Errorf("update device %s: %w", id, err)
	}
	return nil
}

func (m *Monitor) UpdateThresholds(ctx context.Context, id string, t domain.Thresholds) error {
	return m.UpdateDevice(ctx, id, domain.DevicePatch{Thresholds: &t})
}

// RemoveDevice deletes the device and drops its cached position and open
// violation keys. Its alerts are kept.
func (m *Monitor) RemoveDevice(ctx context.Context, id string) error {
	if err := m.store.DeleteDevice(ctx, id); err != nil {
		return fmt.Errorf("remove device %s: %w", id, err)
	}

	m.movement.Forget(id)
	if err := clearDevice(ctx, m.violations, id); err != nil {
		metrics.ViolationFailures.Add(1)
		m.l.Error("failed to clear violations of removed device", slog.String("deviceID", id), logging.ErrAttr(err))
	}

	m.l.Info("device removed", slog.String("deviceID", id))
	return nil
}
