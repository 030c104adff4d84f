package monitor

import (
	"context"
	"log/slog"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/metrics"
)

// AlertCreator persists a new alert and returns its ID.
type AlertCreator interface {
	Create(ctx context.Context, a domain.Alert) (string, error)
}

// ThresholdDetector raises one alert per metric violation episode.
type ThresholdDetector struct {
	l      *slog.Logger
	alerts AlertCreator
	open   ViolationSet
	now    func() time.Time
}

func NewThresholdDetector(l *slog.Logger, alerts AlertCreator, open ViolationSet) *ThresholdDetector {
	return &ThresholdDetector{
		l:      l.With(slog.String("component", "threshold-detector")),
		alerts: alerts,
		open:   open,
		now:    time.Now,
	}
}

// Check evaluates every metric of every device in snapshot order.
func (t *ThresholdDetector) Check(ctx context.Context, devices []domain.Device) {
	for i := range devices {
		t.CheckDevice(ctx, &devices[i])
	}
}

// CheckDevice evaluates the metrics of one device in domain.Metrics order.
func (t *ThresholdDetector) CheckDevice(ctx context.Context, d *domain.Device) {
	for _, m := range domain.Metrics {
		t.checkMetric(ctx, d, m)
	}
}

func (t *ThresholdDetector) checkMetric(ctx context.Context, d *domain.Device, m domain.Metric) {
	key := domain.ViolationKey(d.ID, m.Type)
	r := m.Range(&d.Thresholds)
	value := m.Value(d)

	breach := domain.Evaluate(value, r)
	if breach == domain.InRange {
		if err := t.open.Clear(ctx, key); err != nil {
			metrics.ViolationFailures.Add(1)
			t.l.Error("failed to clear violation", slog.String("key", key), logging.ErrAttr(err))
		}
		return
	}

	open, err := t.open.IsOpen(ctx, key)
	if err != nil {
		metrics.ViolationFailures.Add(1)
		t.l.Error("failed to check violation", slog.String("key", key), logging.ErrAttr(err))
		return
	}
	if open {
		return
	}

	alert := domain.Alert{
		DeviceID:   d.ID,
		DeviceName: d.Name,
		Type:       m.Type,
		Value:      value,
		Threshold:  breach.Bound(r),
		Message:    m.Message(breach, r),
		CreatedAt:  t.now(),
	}

	id, err := t.alerts.Create(ctx, alert)
	if err != nil {
		metrics.AlertWriteFailures.Add(1)
		t.l.Error("failed to create alert",
			slog.String("deviceID", d.ID),
			slog.String("type", string(m.Type)),
			logging.ErrAttr(err),
		)
		return
	}
	metrics.AlertsCreated.Add(1)

	if err := t.open.Open(ctx, key); err != nil {
		metrics.ViolationFailures.Add(1)
		t.l.Error("failed to open violation", slog.String("key", key), logging.ErrAttr(err))
	}

	t.l.Info("threshold alert created",
		slog.String("alertID", id),
		slog.String("deviceID", d.ID),
		slog.String("type", string(m.Type)),
		slog.Float64("value", value),
	)
}
