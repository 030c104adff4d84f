package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"device-monitor/internal/logging"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	// HTTP
	HTTPPort string
	LogLevel slog.Level

	// Backing store: memory | postgres
	StoreBackend string
	// Violation state: memory | redis
	ViolationBackend string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MQTT
	MQTTEnabled  bool
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Monitoring
	OfflineThreshold        time.Duration
	LivenessInterval        time.Duration
	MovementThresholdMeters float64
	MovementAlertOneShot    bool
	NotifyWindow            time.Duration
	AlarmSoundDefault       bool

	// Reading pipeline
	ReadingChannelSize     int
	HistoryBatchSize       int
	HistoryFlushIntervalMS int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:                getEnv("HTTP_PORT", "8080"),
		LogLevel:                logging.ParseLevel(getEnv("LOG_LEVEL", "INFO"), slog.LevelInfo),
		StoreBackend:            strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		ViolationBackend:        strings.ToLower(getEnv("VIOLATION_BACKEND", BackendMemory)),
		DBHost:                  getEnv("DB_HOST", "localhost"),
		DBPort:                  getEnv("DB_PORT", "5432"),
		DBUser:                  getEnv("DB_USER", "monitor_user"),
		DBPassword:              getEnv("DB_PASSWORD", "monitor_password"),
		DBName:                  getEnv("DB_NAME", "device_monitor"),
		DBMaxConns:              int32(getEnvInt("DB_MAX_CONNS", 10)),
		RedisAddr:               getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:           getEnv("REDIS_PASSWORD", ""),
		RedisDB:                 getEnvInt("REDIS_DB", 0),
		MQTTEnabled:             getEnvBool("MQTT_ENABLED", false),
		MQTTBroker:              getEnv("MQTT_BROKER", "tcp://127.0.0.1:1883"),
		MQTTClientID:            getEnv("MQTT_CLIENT_ID", "device-monitor"),
		MQTTUsername:            getEnv("MQTT_USERNAME", ""),
		MQTTPassword:            getEnv("MQTT_PASSWORD", ""),
		OfflineThreshold:        getEnvDuration("OFFLINE_THRESHOLD", 5*time.Minute),
		LivenessInterval:        getEnvDuration("LIVENESS_INTERVAL", time.Minute),
		MovementThresholdMeters: getEnvFloat("MOVEMENT_THRESHOLD_METERS", 5),
		MovementAlertOneShot:    getEnvBool("MOVEMENT_ALERT_ONE_SHOT", false),
		NotifyWindow:            getEnvDuration("NOTIFY_WINDOW", 10*time.Second),
		AlarmSoundDefault:       getEnvBool("ALARM_SOUND_DEFAULT", true),
		ReadingChannelSize:      getEnvInt("READING_CHANNEL_SIZE", 1000),
		HistoryBatchSize:        getEnvInt("HISTORY_BATCH_SIZE", 200),
		HistoryFlushIntervalMS:  getEnvInt("HISTORY_FLUSH_INTERVAL_MS", 500),
		AuthCacheTTLSeconds:     getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:            strings.Split(getEnv("VALID_API_KEYS", ""), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "5m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
