package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "monitor_user"),
		dbGetEnv("DB_PASSWORD", "monitor_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "device_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1Extensions(ctx, conn)
	step2DevicesTable(ctx, conn)
	step3AlertsTable(ctx, conn)
	step4ReadingsTable(ctx, conn)
	step5Indexes(ctx, conn)
	step6Verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis <api-key>=<device-id>")
}

// ─────────────────────────────────────────────────────────────
// Step 1: Extensions
// ─────────────────────────────────────────────────────────────
func step1Extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2: devices table
// ─────────────────────────────────────────────────────────────
func step2DevicesTable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: devices table ───────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS devices (

			-- UUIDv7 assigned by the service
			id            TEXT             PRIMARY KEY,
			name          TEXT             NOT NULL,

			latitude      DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude     DOUBLE PRECISION NOT NULL DEFAULT 0,

			-- Latest sensor values
			temperature   DOUBLE PRECISION NOT NULL DEFAULT 0,
			humidity      DOUBLE PRECISION NOT NULL DEFAULT 0,
			wind_speed    DOUBLE PRECISION NOT NULL DEFAULT 0,
			gas_level     DOUBLE PRECISION NOT NULL DEFAULT 0,

			-- online | offline, written by the liveness evaluator
			status        TEXT             NOT NULL DEFAULT 'online',

			-- Not bumped by status-only updates
			last_updated  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			-- {"temperature":{"min":..,"max":..},"humidity":..,"windSpeed":..,"gasLevel":..}
			-- min > max is accepted on purpose
			thresholds    JSONB            NOT NULL,

			created_at    TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_device_status CHECK (status IN ('online', 'offline'))
		);
	`, "devices table created")
}

// ─────────────────────────────────────────────────────────────
// Step 3: device_alerts table
// ─────────────────────────────────────────────────────────────
func step3AlertsTable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: device_alerts table ─────────────────")

	// No foreign key to devices: alerts outlive the device they belong to
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS device_alerts (
			id               TEXT             PRIMARY KEY,

			device_id        TEXT             NOT NULL,
			device_name      TEXT             NOT NULL,

			-- Must exactly match domain.AlertType constants
			alert_type       TEXT             NOT NULL,

			-- Offending reading, or meters moved for location alerts
			value            DOUBLE PRECISION NOT NULL,
			threshold        DOUBLE PRECISION NOT NULL,
			message          TEXT             NOT NULL,

			created_at       TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			acknowledged     BOOLEAN          NOT NULL DEFAULT false,
			acknowledged_at  TIMESTAMPTZ,

			CONSTRAINT chk_alert_type CHECK (
				alert_type IN ('temperature', 'humidity', 'windSpeed', 'gasLevel', 'location')
			)
		);
	`, "device_alerts table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4: device_readings hypertable
// ─────────────────────────────────────────────────────────────
func step4ReadingsTable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: device_readings table ───────────────")

	// Metrics a reading did not carry stay NULL
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS device_readings (
			timestamp    TIMESTAMPTZ      NOT NULL,
			device_id    TEXT             NOT NULL,

			latitude     DOUBLE PRECISION,
			longitude    DOUBLE PRECISION,
			temperature  DOUBLE PRECISION,
			humidity     DOUBLE PRECISION,
			wind_speed   DOUBLE PRECISION,
			gas_level    DOUBLE PRECISION,

			raw_payload  JSONB
		);
	`, "device_readings table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'device_readings',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "device_readings converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 5: Indexes
// ─────────────────────────────────────────────────────────────
func step5Indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_devices_created",
			sql: `CREATE INDEX IF NOT EXISTS idx_devices_created
				  ON devices (created_at);`,
			why: "query: device list in insertion order",
		},
		{
			name: "idx_alerts_created",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_created
				  ON device_alerts (created_at DESC);`,
			why: "query: alert list, newest first",
		},
		{
			name: "idx_alerts_device",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_device
				  ON device_alerts (device_id, created_at DESC);`,
			why: "query: alerts for one device",
		},
		{
			name: "idx_alerts_acknowledged",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_acknowledged
				  ON device_alerts (created_at DESC)
				  WHERE acknowledged;`,
			why: "query: clear acknowledged alerts (partial index)",
		},
		{
			name: "idx_readings_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_readings_device_time
				  ON device_readings (device_id, timestamp DESC);`,
			why: "query: reading history for one device",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 6: Verify everything was created
// ─────────────────────────────────────────────────────────────
func step6Verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Verification ────────────────────────")

	tables := []string{"devices", "device_alerts", "device_readings"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertableName string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'device_readings'
	`).Scan(&hypertableName)
	if err != nil {
		log.Fatalf("device_readings is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertableName)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('devices', 'device_alerts', 'device_readings')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
