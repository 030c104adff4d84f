package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"device-monitor/internal/alerts"
	"device-monitor/internal/auth"
	"device-monitor/internal/config"
	"device-monitor/internal/logging"
	"device-monitor/internal/monitor"
	"device-monitor/internal/notify"
	"device-monitor/internal/pipeline"
	"device-monitor/internal/store"
	transporthttp "device-monitor/internal/transport/http"
	transportmqtt "device-monitor/internal/transport/mqtt"
)

func main() {
	cfg := config.Load()
	l := logging.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, l, cfg); err != nil {
		l.Error("monitor exited", logging.ErrAttr(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, l *slog.Logger, cfg *config.Config) error {
	health := make(map[string]transporthttp.HealthCheck)

	var redisStore *store.RedisStore
	if cfg.StoreBackend == config.BackendPostgres || cfg.ViolationBackend == config.BackendRedis {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		health["redis"] = redisStore.Ping
	}

	var (
		st      store.Store
		locator store.Locator
		db      *store.PostgresStore
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		mem := store.NewMemoryStore()
		st, locator = mem, mem
	case config.BackendPostgres:
		var err error
		db, err = store.NewPostgresStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		health["postgres"] = db.Ping

		remote := store.NewRemote(l, db, redisStore)
		st, locator = remote, remote
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	var violations monitor.ViolationSet
	switch cfg.ViolationBackend {
	case config.BackendMemory:
		violations = monitor.NewMemoryViolations()
	case config.BackendRedis:
		violations = monitor.NewRedisViolations(redisStore)
	default:
		return fmt.Errorf("unknown violation backend %q", cfg.ViolationBackend)
	}

	l.Info("backends selected",
		slog.String("store", cfg.StoreBackend),
		slog.String("violations", cfg.ViolationBackend),
	)

	alertManager := alerts.NewManager(l, st)
	mon := monitor.New(l, st, alertManager, monitor.Options{
		OfflineThreshold:  cfg.OfflineThreshold,
		LivenessInterval:  cfg.LivenessInterval,
		MovementThreshold: cfg.MovementThresholdMeters,
		MovementOneShot:   cfg.MovementAlertOneShot,
		Violations:        violations,
	})

	historySize := 0
	if db != nil {
		historySize = cfg.ReadingChannelSize
	}
	dispatcher := pipeline.NewDispatcher(cfg.ReadingChannelSize, historySize)

	var (
		mqttClient *transportmqtt.Client
		sound      notify.SoundSink
	)
	if cfg.MQTTEnabled {
		var err error
		mqttClient, err = transportmqtt.New(l, transportmqtt.Options{
			BrokerURL: cfg.MQTTBroker,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
		}, dispatcher)
		if err != nil {
			return err
		}
		sound = mqttClient
	}

	hub := transporthttp.NewHub(l)
	prefs := notify.NewPreferences(cfg.AlarmSoundDefault)
	notifier := notify.New(l, hub, sound, prefs, notify.WithWindow(cfg.NotifyWindow))

	var keys auth.KeyLookup
	if redisStore != nil {
		keys = redisStore
	}
	authenticator := auth.NewAuthenticator(cfg, keys)

	handler := transporthttp.NewHandler(l, transporthttp.HandlerDeps{
		Devices:  mon,
		Alerts:   alertManager,
		Prefs:    prefs,
		Readings: dispatcher,
		Locator:  locator,
		Hub:      hub,
		Grants:   authenticator,
		Health:   health,
	})
	router := transporthttp.NewRouter(l, handler, transporthttp.NewAuthMiddleware(authenticator))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error { return notifier.Run(ctx, alertManager) })

	g.Go(func() error {
		pipeline.NewStateWriter(l, dispatcher.StateChan, mon).Run(ctx)
		return nil
	})
	if db != nil {
		g.Go(func() error {
			pipeline.NewHistoryWriter(l, dispatcher.HistoryChan, db, cfg.HistoryBatchSize, cfg.HistoryFlushIntervalMS).Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		unsub, err := st.SubscribeDevices(ctx, hub.BroadcastDevices)
		if err != nil {
			return fmt.Errorf("subscribe devices for dashboard: %w", err)
		}
		defer unsub()
		<-ctx.Done()
		return nil
	})
	g.Go(func() error {
		unsub, err := alertManager.Subscribe(ctx, hub.BroadcastAlerts)
		if err != nil {
			return fmt.Errorf("subscribe alerts for dashboard: %w", err)
		}
		defer unsub()
		<-ctx.Done()
		return nil
	})

	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("MQTT unavailable, continuing without it", logging.ErrAttr(err))
			}
			<-ctx.Done()
			mqttClient.Disconnect()
			return nil
		})
	}

	g.Go(func() error {
		l.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	l.Info("monitor shut down")
	return err
}
