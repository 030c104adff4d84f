package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/store"
)

var ErrInvalidAlert = errors.New("invalid alert")

// Manager owns the alert lifecycle: create, acknowledge, clear.
type Manager struct {
	l     *slog.Logger
	store store.Store
	now   func() time.Time
}

func NewManager(l *slog.Logger, st store.Store) *Manager {
	return &Manager{
		l:     l.With(slog.String("component", "alerts")),
		store: st,
		now:   time.Now,
	}
}

// Create stores a new unacknowledged alert. DeviceID, Type and Message are
// required; CreatedAt is stamped when zero.
func (m *Manager) Create(ctx context.Context, a domain.Alert) (string, error) {
	switch {
	case a.DeviceID == "":
		return "", fmt.Errorf("%w: missing device id", ErrInvalidAlert)
	case a.Type == "":
		return "", fmt.Errorf("%w: missing type", ErrInvalidAlert)
	case a.Message == "":
		return "", fmt.Errorf("%w: missing message", ErrInvalidAlert)
	}

	a.ID = ""
	a.Acknowledged = false
	a.AcknowledgedAt = nil
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}

	id, err := m.store.AddAlert(ctx, a)
	if err != nil {
		return "", fmt.Errorf("add alert: %w", err)
	}
	return id, nil
}

// Acknowledge marks an alert acknowledged. Acknowledging twice re-stamps
// AcknowledgedAt.
func (m *Manager) Acknowledge(ctx context.Context, id string) error {
	if err := m.store.AcknowledgeAlert(ctx, id); err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	return nil
}

// AcknowledgeAll acknowledges every unacknowledged alert one by one. A
// failure does not stop the rest; the count of successes is returned with
// the joined errors.
func (m *Manager) AcknowledgeAll(ctx context.Context) (int, error) {
	all, err := m.store.GetAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("get alerts: %w", err)
	}

	unacked, _ := Partition(all)

	var (
		errs  []error
		count int
	)
	for _, a := range unacked {
		if err := m.Acknowledge(ctx, a.ID); err != nil {
			m.l.Error("failed to acknowledge alert", slog.String("alertID", a.ID), logging.ErrAttr(err))
			errs = append(errs, err)
			continue
		}
		count++
	}

	return count, errors.Join(errs...)
}

// ClearAcknowledged deletes acknowledged alerts one by one and stops at the
// first failure, leaving the rest in place. Unacknowledged alerts are never
// touched.
func (m *Manager) ClearAcknowledged(ctx context.Context) (int, error) {
	all, err := m.store.GetAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("get alerts: %w", err)
	}

	_, acked := Partition(all)

	for i, a := range acked {
		if err := m.store.DeleteAlert(ctx, a.ID); err != nil {
			m.l.Error("failed to clear alert",
				slog.String("alertID", a.ID),
				slog.Int("deleted", i),
				slog.Int("remaining", len(acked)-i),
				logging.ErrAttr(err),
			)
			return i, fmt.Errorf("delete alert %s: %w", a.ID, err)
		}
	}

	m.l.Info("acknowledged alerts cleared", slog.Int("count", len(acked)))
	return len(acked), nil
}

// List fetches all alerts, newest first.
func (m *Manager) List(ctx context.Context) ([]domain.Alert, error) {
	alerts, err := m.store.GetAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get alerts: %w", err)
	}
	return alerts, nil
}

// Subscribe delivers the full alert list, newest first, on every change.
func (m *Manager) Subscribe(ctx context.Context, fn func([]domain.Alert)) (store.Unsubscribe, error) {
	return m.store.SubscribeAlerts(ctx, fn)
}

// Partition splits alerts into unacknowledged and acknowledged, keeping
// their order.
func Partition(alerts []domain.Alert) (unacked, acked []domain.Alert) {
	for _, a := range alerts {
		if a.Acknowledged {
			acked = append(acked, a)
		} else {
			unacked = append(unacked, a)
		}
	}
	return unacked, acked
}
