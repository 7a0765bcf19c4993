package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	fiberapp "github.com/evcharge/ems-coordinator/internal/adapter/http/fiber"
	"github.com/evcharge/ems-coordinator/internal/adapter/fabric"
	"github.com/evcharge/ems-coordinator/internal/adapter/storage/postgres"
	"github.com/evcharge/ems-coordinator/internal/bess"
	"github.com/evcharge/ems-coordinator/internal/coordinator"
	"github.com/evcharge/ems-coordinator/internal/domain"
	"github.com/evcharge/ems-coordinator/pkg/config"
	"github.com/evcharge/ems-coordinator/pkg/topology"
)

const (
	serviceName    = "ems-coordinator"
	serviceVersion = "v1.0.0"
)

func main() {
	// 1. Logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("starting EMS coordinator", zap.String("service", serviceName), zap.String("version", serviceVersion))

	// 2. Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// 3. Site topology (boot-time, immutable thereafter)
	topo, err := topology.Load(cfg.Topology.FilePath)
	if err != nil {
		logger.Fatal("failed to load topology", zap.Error(err))
	}

	// 4. Database connection + migrations
	db, err := postgres.NewConnection(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer postgres.Close(db)

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	sink := postgres.NewRepository(db, logger)

	// 5. BESS controller, if this site has a battery
	var battery *bess.Controller
	if topo.Battery != nil {
		state := domain.NewBatteryState(*topo.Battery, cfg.Coordinator.InitialBatterySOC)
		policy := bess.Policy{
			MinChargePowerKW:             cfg.Coordinator.BESSMinChargePowerKW,
			ChargeOpportunityUtilization: cfg.Coordinator.BESSChargeOpportunityUtilization,
		}
		battery = bess.NewController(state, policy)
	}

	// 6. Message fabric (MQTT) — constructed before the coordinator since
	// the coordinator needs it as its ports.MessageFabric, but not
	// connected until the coordinator loop is already running so no
	// inbound message can race an uninitialized registry.
	coordCfg := coordinator.Config{
		SiteID:                   cfg.Coordinator.SiteID,
		ReallocationHysteresisKW: cfg.Coordinator.ReallocationHysteresisKW,
		BESSHysteresisKW:         cfg.Coordinator.BESSHysteresisKW,
		MetricsSampleEvery:       cfg.Coordinator.MetricsSampleEvery,
		RequestBufferSize:        256,
	}

	mqttCfg := fabric.Config{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  cfg.MQTT.ClientID,
		SiteID:    cfg.Coordinator.SiteID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		QoS:       byte(cfg.MQTT.QoS),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fabricAdapter := fabric.New(mqttCfg, nil, logger)
	coord := coordinator.New(topo, battery, sink, fabricAdapter, coordCfg, logger)
	fabricAdapter.SetCoordinator(coord)

	go coord.Run(ctx)

	if err := fabricAdapter.Connect(); err != nil {
		logger.Error("mqtt broker connection failed, running without live fabric", zap.Error(err))
	}
	defer fabricAdapter.Close()

	// 7. REST façade
	app := fiberapp.New(coord, cfg, logger)
	app.Use(recover.New())

	go func() {
		logger.Info("starting HTTP server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 8. Prometheus metrics server (ambient observability, separate port
	// so the fiber app's own middleware stack stays EMS-request-only).
	if cfg.Prometheus.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Prometheus.Path, promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Prometheus.Port)
			logger.Info("starting metrics server", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http server forced shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("shutdown complete")
}
