package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"device-monitor/internal/config"
	"device-monitor/internal/domain"
)

// PostgresStore keeps devices, alerts and reading history in
// PostgreSQL/TimescaleDB. Tables are created by scripts/init_db.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const deviceColumns = `id, name, latitude, longitude, temperature, humidity,
	wind_speed, gas_level, status, last_updated, thresholds`

func scanDevice(row pgx.Row) (domain.Device, error) {
	var (
		d      domain.Device
		status string
	)
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Latitude,
		&d.Longitude,
		&d.Temperature,
		&d.Humidity,
		&d.WindSpeed,
		&d.GasLevel,
		&status,
		&d.LastUpdated,
		&d.Thresholds,
	)
	d.Status = domain.DeviceStatus(status)
	return d, err
}

func (s *PostgresStore) ListDevices(ctx context.Context) ([]domain.Device, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list devices failed: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device failed: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *PostgresStore) InsertDevice(ctx context.Context, d domain.Device) error {
	query := `
		INSERT INTO devices
			(id, name, latitude, longitude, temperature, humidity,
			 wind_speed, gas_level, status, last_updated, thresholds)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		d.ID,
		d.Name,
		d.Latitude,
		d.Longitude,
		d.Temperature,
		d.Humidity,
		d.WindSpeed,
		d.GasLevel,
		string(d.Status),
		d.LastUpdated,
		d.Thresholds,
	)
	return err
}

// UpdateDevice applies patch under a row lock so concurrent patches to
// different fields do not overwrite each other. LastUpdated is refreshed
// unless the patch only changes status.
func (s *PostgresStore) UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch, now time.Time) (domain.Device, error) {
	var updated domain.Device

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		d, err := scanDevice(tx.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load device failed: %w", err)
		}

		patch.Apply(&d)
		if !patch.StatusOnly() {
			d.LastUpdated = now
		}

		_, err = tx.Exec(ctx, `
			UPDATE devices SET
				name = $2, latitude = $3, longitude = $4,
				temperature = $5, humidity = $6, wind_speed = $7, gas_level = $8,
				status = $9, last_updated = $10, thresholds = $11
			WHERE id = $1
		`,
			d.ID,
			d.Name,
			d.Latitude,
			d.Longitude,
			d.Temperature,
			d.Humidity,
			d.WindSpeed,
			d.GasLevel,
			string(d.Status),
			d.LastUpdated,
			d.Thresholds,
		)
		if err != nil {
			return fmt.Errorf("update device failed: %w", err)
		}

		updated = d
		return nil
	})

	return updated, err
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertAlert(ctx context.Context, a domain.Alert) error {
	query := `
		INSERT INTO device_alerts
			(id, device_id, device_name, alert_type, value, threshold,
			 message, created_at, acknowledged, acknowledged_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		a.ID,
		a.DeviceID,
		a.DeviceName,
		string(a.Type),
		a.Value,
		a.Threshold,
		a.Message,
		a.CreatedAt,
		a.Acknowledged,
		a.AcknowledgedAt,
	)
	return err
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE device_alerts
		SET acknowledged = true, acknowledged_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("acknowledge alert failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM device_alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, device_id, device_name, alert_type, value, threshold,
		       message, created_at, acknowledged, acknowledged_at
		FROM device_alerts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list alerts failed: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var (
			a         domain.Alert
			alertType string
		)
		err := rows.Scan(
			&a.ID,
			&a.DeviceID,
			&a.DeviceName,
			&alertType,
			&a.Value,
			&a.Threshold,
			&a.Message,
			&a.CreatedAt,
			&a.Acknowledged,
			&a.AcknowledgedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan alert failed: %w", err)
		}
		a.Type = domain.AlertType(alertType)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

var readingColumns = []string{
	"timestamp",
	"device_id",
	"latitude",
	"longitude",
	"temperature",
	"humidity",
	"wind_speed",
	"gas_level",
	"raw_payload",
}

// BatchInsertReadings appends raw sensor readings to the device_readings
// hypertable. Metrics a reading did not carry are stored as NULL.
func (s *PostgresStore) BatchInsertReadings(ctx context.Context, readings []*domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(readings))
	for i, r := range readings {
		var raw interface{}
		if len(r.RawPayload) > 0 {
			raw = string(r.RawPayload)
		}
		rows[i] = []interface{}{
			r.ReceivedAt,
			r.DeviceID,
			r.Latitude,
			r.Longitude,
			r.Temperature,
			r.Humidity,
			r.WindSpeed,
			r.GasLevel,
			raw,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"device_readings"},
		readingColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(readings), err)
	}

	return nil
}
