package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/backend"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/config"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/directory"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/httpapi"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/ingest"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/logging"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/negotiation"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/payments"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/syncsched"
)

func main() {
	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := backend.NewHTTPClient(cfg.BackendBaseURL, cfg.BackendTimeout)

	var dir negotiation.DriverDirectory
	switch cfg.DirectoryBackend {
	case "redis":
		rd := directory.NewRedisDirectory(cfg.RedisAddr, cfg.RedisPassword)
		defer rd.Close()
		dir = directory.NewCached(rd)
	case "postgres":
		pd, err := directory.NewPostgresDirectory(cfg.PGDSN)
		if err != nil {
			log.Error("driver directory unavailable", "error", err)
			os.Exit(1)
		}
		defer pd.Close()
		dir = directory.NewCached(pd)
	default:
		dir = directory.NewMemoryDirectory()
	}

	var events negotiation.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		ke := ingest.NewKafkaEvents(cfg.KafkaBrokers, cfg.KafkaTopic, logging.WithComponent(log, "ingest"))
		defer ke.Close()
		events = ke
	}

	var gateway negotiation.PaymentGateway
	if cfg.PaymentsEnabled {
		gateway = payments.NewStripeGateway(cfg.Currency)
	}

	srv := httpapi.NewServer(ctx, httpapi.Deps{
		Client:    client,
		Directory: dir,
		Events:    events,
		Payments:  gateway,
		Policy: syncsched.Policy{
			Base:     cfg.PollBase,
			Floor:    cfg.PollFloor,
			Max:      cfg.PollMax,
			Cooldown: cfg.PollCooldown,
		},
		FailureThreshold: cfg.FailureThreshold,
		RankCriterion:    cfg.RankCriterion,
		Logger:           logging.WithComponent(log, "httpapi"),
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		log.Info("session gateway listening", "addr", cfg.HTTPAddr, "backend", cfg.BackendBaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	srv.Shutdown()
	log.Info("goodbye")
}
