// Emberlink Core: device pairing, scoped credentials and the real-time
// event stream for an Emberlink installation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberhaus/emberlink/internal/api"
	"github.com/emberhaus/emberlink/internal/area"
	"github.com/emberhaus/emberlink/internal/audit"
	"github.com/emberhaus/emberlink/internal/auth"
	"github.com/emberhaus/emberlink/internal/infrastructure/config"
	"github.com/emberhaus/emberlink/internal/infrastructure/database"
	"github.com/emberhaus/emberlink/internal/infrastructure/influxdb"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
	"github.com/emberhaus/emberlink/internal/infrastructure/mqtt"
	"github.com/emberhaus/emberlink/internal/pairing"

	_ "github.com/emberhaus/emberlink/migrations"
)

// Version is stamped by the build.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "emberlink: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: "emberlink",
		Version: Version,
	})
	logger.Info("emberlink core starting")

	db, err := database.Open(cfg.Database.Path, cfg.Database.BusyTimeout, cfg.Database.WALMode)
	if err != nil {
		return err
	}
	defer db.Close()

	authSvc, err := auth.NewService(auth.ServiceOptions{
		Users:         auth.NewUserRepository(db),
		Clients:       auth.NewClientRepository(db),
		Credentials:   auth.NewCredentialRepository(db),
		JWTSecret:     cfg.Security.JWT.Secret,
		JWTTTL:        cfg.Security.JWT.TTL(),
		CredentialTTL: cfg.Security.Client.TTL(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	if err := auth.SeedAdmin(auth.NewUserRepository(db), logger); err != nil {
		return err
	}

	pairingMgr, err := pairing.NewManager(pairing.Options{
		Sessions:    pairing.NewSessionRepository(db),
		Auth:        authSvc,
		Logger:      logger,
		TTL:         cfg.Pairing.TTL(),
		MaxAttempts: cfg.Pairing.MaxAttempts,
		Retention:   time.Duration(cfg.Pairing.RetentionHours) * time.Hour,
		SweepEvery:  cfg.Pairing.SweepEvery(),
	})
	if err != nil {
		return err
	}

	hub := api.NewHub(cfg.WebSocket.SendBufferSize, logger)
	authSvc.SetNotifier(hub)

	telemetry, err := influxdb.Connect(ctx, cfg.InfluxDB, logger)
	if err != nil {
		// Telemetry is best-effort; a down InfluxDB must not block boot.
		logger.Warn("influxdb unavailable, telemetry disabled", "error", err)
		telemetry = nil
	}
	defer telemetry.Close()

	broker, err := mqtt.Connect(cfg.MQTT, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	if err := broker.SubscribeStates(func(areaName, device string, payload []byte) {
		hub.PublishArea(api.Event{
			Type:    "state",
			Area:    areaName,
			Device:  device,
			Payload: json.RawMessage(payload),
		})
	}); err != nil {
		return err
	}

	server, err := api.New(api.Deps{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Auth:      authSvc,
		Pairing:   pairingMgr,
		Areas:     area.NewRepository(db),
		Audit:     audit.NewTrail(db, logger),
		Hub:       hub,
		Telemetry: telemetry,
	})
	if err != nil {
		return err
	}

	return server.Start(ctx)
}
