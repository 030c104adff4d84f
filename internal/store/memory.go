package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/geo"
)

// MemoryStore keeps both collections in process memory and pushes a fresh
// snapshot to every subscriber after each write.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	devices []domain.Device
	alerts  []domain.Alert

	nextSub   int
	deviceSub map[int]*mailbox[domain.Device]
	alertSub  map[int]*mailbox[domain.Alert]
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for LastUpdated and AcknowledgedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:       time.Now,
		deviceSub: make(map[int]*mailbox[domain.Device]),
		alertSub:  make(map[int]*mailbox[domain.Alert]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) SubscribeDevices(ctx context.Context, fn func([]domain.Device)) (Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++

	m := newMailbox(ctx, fn)
	s.deviceSub[id] = m
	m.put(s.deviceSnapshotLocked())

	return func() {
		s.mu.Lock()
		delete(s.deviceSub, id)
		s.mu.Unlock()
		m.close()
	}, nil
}

func (s *MemoryStore) SubscribeAlerts(ctx context.Context, fn func([]domain.Alert)) (Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++

	m := newMailbox(ctx, fn)
	s.alertSub[id] = m
	m.put(s.alertSnapshotLocked())

	return func() {
		s.mu.Lock()
		delete(s.alertSub, id)
		s.mu.Unlock()
		m.close()
	}, nil
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceSnapshotLocked(), nil
}

func (s *MemoryStore) AddDevice(ctx context.Context, d domain.Device) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = newID()
	d.LastUpdated = s.now()
	s.devices = append(s.devices, d)
	s.publishDevicesLocked()

	return d.ID, nil
}

func (s *MemoryStore) UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.deviceIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}

	patch.Apply(&s.devices[i])
	if !patch.StatusOnly() {
		s.devices[i].LastUpdated = s.now()
	}
	s.publishDevicesLocked()

	return nil
}

func (s *MemoryStore) DeleteDevice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.deviceIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}

	s.devices = slices.Delete(s.devices, i, i+1)
	s.publishDevicesLocked()

	return nil
}

func (s *MemoryStore) AddAlert(ctx context.Context, a domain.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = newID()
	s.alerts = append(s.alerts, a)
	s.publishAlertsLocked()

	return a.ID, nil
}

func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.alertIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}

	at := s.now()
	s.alerts[i].Acknowledged = true
	s.alerts[i].AcknowledgedAt = &at
	s.publishAlertsLocked()

	return nil
}

func (s *MemoryStore) DeleteAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.alertIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}

	s.alerts = slices.Delete(s.alerts, i, i+1)
	s.publishAlertsLocked()

	return nil
}

func (s *MemoryStore) GetAlerts(ctx context.Context) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alertSnapshotLocked(), nil
}

// DevicesNear returns the IDs of devices within radiusMeters, nearest first.
func (s *MemoryStore) DevicesNear(ctx context.Context, lat, lon, radiusMeters float64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		id   string
		dist float64
	}
	var hits []hit
	for _, d := range s.devices {
		if dist := geo.Distance(lat, lon, d.Latitude, d.Longitude); dist <= radiusMeters {
			hits = append(hits, hit{id: d.ID, dist: dist})
		}
	}
	slices.SortFunc(hits, func(a, b hit) int { return cmp.Compare(a.dist, b.dist) })

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func (s *MemoryStore) deviceIndexLocked(id string) int {
	return slices.IndexFunc(s.devices, func(d domain.Device) bool { return d.ID == id })
}

func (s *MemoryStore) alertIndexLocked(id string) int {
	return slices.IndexFunc(s.alerts, func(a domain.Alert) bool { return a.ID == id })
}

func (s *MemoryStore) deviceSnapshotLocked() []domain.Device {
	return slices.Clone(s.devices)
}

func (s *MemoryStore) alertSnapshotLocked() []domain.Alert {
	// newest insert first so equal CreatedAt values still list newest first
	out := make([]domain.Alert, 0, len(s.alerts))
	for _, a := range slices.Backward(s.alerts) {
		if a.AcknowledgedAt != nil {
			at := *a.AcknowledgedAt
			a.AcknowledgedAt = &at
		}
		out = append(out, a)
	}
	sortAlerts(out)
	return out
}

func (s *MemoryStore) publishDevicesLocked() {
	for _, m := range s.deviceSub {
		m.put(s.deviceSnapshotLocked())
	}
}

func (s *MemoryStore) publishAlertsLocked() {
	for _, m := range s.alertSub {
		m.put(s.alertSnapshotLocked())
	}
}
