package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
)

const (
	retryAttempts     = 3
	retryInitialDelay = time.Second
)

// Remote implements Store on PostgreSQL rows plus Redis pub/sub change
// notifications. Every write publishes the touched collection name; each
// subscription reloads the full list when it hears its collection, which
// gives the same full-snapshot semantics as MemoryStore.
type Remote struct {
	l     *slog.Logger
	db    *PostgresStore
	redis *RedisStore
	now   func() time.Time
}

func NewRemote(l *slog.Logger, db *PostgresStore, redis *RedisStore) *Remote {
	return &Remote{
		l:     l.With(slog.String("component", "remote-store")),
		db:    db,
		redis: redis,
		now:   time.Now,
	}
}

// retry runs op with exponential backoff. ErrNotFound is never retried.
func (s *Remote) retry(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialDelay
	b.Multiplier = 2

	policy := backoff.WithContext(backoff.WithMaxRetries(b, retryAttempts-1), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.l.Warn("store operation failed, retrying", slog.String("op", name), slog.Duration("wait", wait), logging.ErrAttr(err))
	})
}

func (s *Remote) notify(ctx context.Context, collection string) {
	if err := s.redis.PublishChange(ctx, collection); err != nil {
		s.l.Error("change notification failed", slog.String("collection", collection), logging.ErrAttr(err))
	}
}

func (s *Remote) SubscribeDevices(ctx context.Context, fn func([]domain.Device)) (Unsubscribe, error) {
	return subscribeRemote(ctx, s, CollectionDevices, s.db.ListDevices, fn)
}

func (s *Remote) SubscribeAlerts(ctx context.Context, fn func([]domain.Alert)) (Unsubscribe, error) {
	return subscribeRemote(ctx, s, CollectionAlerts, s.db.ListAlerts, fn)
}

// subscribeRemote delivers an initial snapshot, then a fresh one after
// every change message for collection. Reload failures are logged and the
// next change message tries again.
func subscribeRemote[T any](
	ctx context.Context,
	s *Remote,
	collection string,
	load func(context.Context) ([]T, error),
	fn func([]T),
) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)

	pubsub := s.redis.SubscribeChanges(ctx)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, err
	}

	m := newMailbox(ctx, fn)

	reload := func() {
		items, err := load(ctx)
		if err != nil {
			s.l.Error("snapshot reload failed", slog.String("collection", collection), logging.ErrAttr(err))
			return
		}
		m.put(items)
	}

	go func() {
		defer pubsub.Close()
		defer m.close()

		reload()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == collection {
					reload()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { cancel() }, nil
}

func (s *Remote) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var devices []domain.Device
	err := s.retry(ctx, "list-devices", func() error {
		var err error
		devices, err = s.db.ListDevices(ctx)
		return err
	})
	return devices, err
}

func (s *Remote) AddDevice(ctx context.Context, d domain.Device) (string, error) {
	d.ID = newID()
	d.LastUpdated = s.now()

	insert := idempotentInsert(func() error { return s.db.InsertDevice(ctx, d) })
	if err := s.retry(ctx, "add-device", insert); err != nil {
		return "", err
	}

	if err := s.redis.SetDevicePosition(ctx, d); err != nil {
		s.l.Warn("geo index update failed", slog.String("deviceID", d.ID), logging.ErrAttr(err))
	}
	s.notify(ctx, CollectionDevices)

	return d.ID, nil
}

func (s *Remote) UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) error {
	var updated domain.Device
	err := s.retry(ctx, "update-device", func() error {
		var err error
		updated, err = s.db.UpdateDevice(ctx, id, patch, s.now())
		return err
	})
	if err != nil {
		return err
	}

	if patch.Latitude != nil || patch.Longitude != nil {
		if err := s.redis.SetDevicePosition(ctx, updated); err != nil {
			s.l.Warn("geo index update failed", slog.String("deviceID", id), logging.ErrAttr(err))
		}
	}
	s.notify(ctx, CollectionDevices)

	return nil
}

func (s *Remote) DeleteDevice(ctx context.Context, id string) error {
	if err := s.retry(ctx, "delete-device", func() error { return s.db.DeleteDevice(ctx, id) }); err != nil {
		return err
	}

	if err := s.redis.RemoveDevicePosition(ctx, id); err != nil {
		s.l.Warn("geo index removal failed", slog.String("deviceID", id), logging.ErrAttr(err))
	}
	s.notify(ctx, CollectionDevices)

	return nil
}

func (s *Remote) AddAlert(ctx context.Context, a domain.Alert) (string, error) {
	a.ID = newID()

	insert := idempotentInsert(func() error { return s.db.InsertAlert(ctx, a) })
	if err := s.retry(ctx, "add-alert", insert); err != nil {
		return "", err
	}
	s.notify(ctx, CollectionAlerts)

	return a.ID, nil
}

// idempotentInsert wraps an insert with a pre-assigned primary key for
// retrying. A unique violation on a later attempt means an earlier attempt
// committed after its caller gave up, so it counts as success.
func idempotentInsert(insert func() error) func() error {
	attempt := 0
	return func() error {
		attempt++
		err := insert()
		if attempt > 1 && isUniqueViolation(err) {
			return nil
		}
		return err
	}
}

func (s *Remote) AcknowledgeAlert(ctx context.Context, id string) error {
	at := s.now()
	if err := s.retry(ctx, "acknowledge-alert", func() error { return s.db.AcknowledgeAlert(ctx, id, at) }); err != nil {
		return err
	}
	s.notify(ctx, CollectionAlerts)

	return nil
}

func (s *Remote) DeleteAlert(ctx context.Context, id string) error {
	if err := s.retry(ctx, "delete-alert", func() error { return s.db.DeleteAlert(ctx, id) }); err != nil {
		return err
	}
	s.notify(ctx, CollectionAlerts)

	return nil
}

func (s *Remote) GetAlerts(ctx context.Context) ([]domain.Alert, error) {
	var alerts []domain.Alert
	err := s.retry(ctx, "get-alerts", func() error {
		var err error
		alerts, err = s.db.ListAlerts(ctx)
		return err
	})
	return alerts, err
}

// DevicesNear answers from the Redis GEO index.
func (s *Remote) DevicesNear(ctx context.Context, lat, lon, radiusMeters float64) ([]string, error) {
	return s.redis.DevicesNear(ctx, lat, lon, radiusMeters)
}
