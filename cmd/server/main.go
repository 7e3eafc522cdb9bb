package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/bulk-logistics/internal/autonomy"
	"github.com/example/bulk-logistics/internal/bank"
	"github.com/example/bulk-logistics/internal/config"
	"github.com/example/bulk-logistics/internal/costing"
	"github.com/example/bulk-logistics/internal/fleet"
	httpapi "github.com/example/bulk-logistics/internal/http"
	"github.com/example/bulk-logistics/internal/ingest"
	"github.com/example/bulk-logistics/internal/logging"
	"github.com/example/bulk-logistics/internal/notify"
	"github.com/example/bulk-logistics/internal/planner"
	"github.com/example/bulk-logistics/internal/simclock"
	"github.com/example/bulk-logistics/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = pg
	} else {
		mem := storage.NewMemoryStore()
		if err := mem.SeedVehicles(ctx, fleet.DefaultFleet(simclock.SimStartDate)); err != nil {
			logger.Error("seed fleet", "error", err)
			os.Exit(1)
		}
		logger.Info("using in-memory store with default fleet")
		store = mem
	}

	bankClient := bank.NewClient(cfg.BankBaseURL, cfg.CompanyName)
	if cfg.BankBaseURL != "" {
		if account, err := bankClient.OpenAccount(ctx); err != nil {
			logger.Warn("open bank account", "error", err)
		} else {
			logger.Info("bank account ready", "account", account)
		}
		if cfg.NotificationURL != "" {
			if err := bankClient.RegisterNotificationURL(ctx, cfg.NotificationURL+"/api/bank-notification"); err != nil {
				logger.Warn("register bank webhook", "error", err)
			}
		}
	}

	clock := simclock.New(cfg.SimDayDuration)
	cost := &costing.Calculator{
		Selector: &fleet.Selector{Vehicles: store},
		Loans:    bankClient,
		Logger:   logging.ForComponent(logger, "costing"),
	}
	dailyPlanner := &planner.Planner{
		Requests: store,
		Vehicles: store,
		Clock:    clock,
		Logger:   logging.ForComponent(logger, "planner"),
	}

	var lock autonomy.RunLock
	if cfg.RedisAddr != "" {
		lock = autonomy.NewRedisRunLock(cfg.RedisAddr, cfg.RedisPassword, cfg.PlanLockKey)
	} else {
		lock = autonomy.NewLocalRunLock()
	}

	var events ingest.EventPublisher = ingest.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		events = producer
	}

	wsreg := notify.NewWSRegistry()
	sim := &autonomy.Service{
		Planner: dailyPlanner,
		Store:   store,
		Clock:   clock,
		Lock:    lock,
		Events:  events,
		WS:      wsreg,
		Logger:  logging.ForComponent(logger, "autonomy"),
	}

	worker := notify.NewWorker(store,
		notify.NewHTTPNotifier(cfg.NotificationURL),
		logging.ForComponent(logger, "notify"))
	go worker.Run(ctx)

	api := httpapi.NewServer(httpapi.Config{
		CompanyName:    cfg.CompanyName,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, store, cost, sim, clock, wsreg, logging.ForComponent(logger, "http"))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("bulk-logistics listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	sim.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	// give the notify worker a beat to finish in-flight sends
	time.Sleep(100 * time.Millisecond)
}
