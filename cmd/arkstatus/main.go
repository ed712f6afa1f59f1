// main is the entry point of the ArkStatus service.
// It wires the tenant store, upstream clients, report pipeline, scheduler and admin API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/config"
	"github.com/woozymasta/arkstatus/internal/discord"
	"github.com/woozymasta/arkstatus/internal/fake"
	"github.com/woozymasta/arkstatus/internal/game"
	"github.com/woozymasta/arkstatus/internal/geoip"
	"github.com/woozymasta/arkstatus/internal/logger"
	"github.com/woozymasta/arkstatus/internal/maintenance"
	"github.com/woozymasta/arkstatus/internal/metrics"
	"github.com/woozymasta/arkstatus/internal/nitrado"
	"github.com/woozymasta/arkstatus/internal/report"
	"github.com/woozymasta/arkstatus/internal/scheduler"
	"github.com/woozymasta/arkstatus/internal/server"
	"github.com/woozymasta/arkstatus/internal/status"
	"github.com/woozymasta/arkstatus/internal/storage"
	"github.com/woozymasta/arkstatus/internal/tenant"
	"github.com/woozymasta/arkstatus/internal/vars"
)

func main() {
	cfg := config.Parse()

	closeLog := logger.Setup(cfg.Logger)
	defer closeLog()

	log.Info().Str("version", vars.Version).Str("commit", vars.CommitShort()).Msg("Starting arkstatus service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tenant configs
	tenants, err := tenant.NewStore(cfg.Tenants.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open tenant config store")
	}

	if cfg.Storage.GenerateCount > 0 {
		written := fake.GenerateTenants(tenants, cfg.Storage.GenerateCount)
		log.Info().Int("tenants", written).Msg("Fake tenant configs generated")
		return
	}

	// Database
	store, err := storage.New(ctx, cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	querier := game.NewQuerier(cfg.A2S)

	// database or tenant config maintenance
	if maintenance.Run(ctx, cfg, store, tenants, querier) {
		return
	}

	// GeoIP
	var geoProvider *geoip.Provider
	if cfg.GeoIP.Path != "" {
		geoProvider = openGeoIP(ctx, cfg.GeoIP)
		if geoProvider != nil {
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
			go geoip.Watch(ctx, geoProvider, cfg.GeoIP.URL, cfg.GeoIP.Interval)
		}
	}

	// Discord
	channel, err := discord.New(cfg.Discord.Token, cfg.Discord)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Discord client")
	}
	defer func() { _ = channel.Close() }()

	identifyCtx, cancelIdentify := context.WithTimeout(ctx, 30*time.Second)
	err = channel.Identify(identifyCtx)
	cancelIdentify()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate Discord bot")
	}

	// Report pipeline
	pool := nitrado.NewPool(cfg.Nitrado)
	aggregator := status.NewAggregator(
		status.NewReconciler(querier, geoProvider),
		func(token string) status.ManagementAPI { return pool.Client(token) },
	)
	publisher := report.NewPublisher(channel, report.Renderer{Interval: cfg.Poll.Interval}, cfg.Discord.SweepHistory)
	sched := scheduler.New(tenants, aggregator, publisher, store, scheduler.Options{
		Interval:     cfg.Poll.Interval,
		CycleTimeout: cfg.Poll.CycleTimeout,
	})

	if cfg.Poll.Once {
		sched.RunOnce(ctx)
		log.Info().Msg("Single pass finished")
		return
	}

	// Admin API
	var httpServer *http.Server
	var admin *server.Server
	if cfg.Server.Address != "" {
		admin = server.New(server.Deps{
			Tenants:  tenants,
			Cycles:   sched,
			Accounts: pool,
			Prober:   querier,
			Failures: store,
			Metrics:  metrics.Handler(metrics.NewRegistry()),
		}, cfg.Server)

		httpServer = &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      admin.Handler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: cfg.Poll.CycleTimeout + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info().Str("address", cfg.Server.Address).Msg("Admin API listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin API failed")
				stop()
			}
		}()
	}

	// Scheduler runs until a signal arrives
	sched.Run(ctx)

	log.Info().Msg("Shutting down...")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Admin API forced to shutdown")
		}
		admin.Close()
	}

	log.Info().Msg("Service exited")
}

// openGeoIP makes sure the database file exists and opens it, nil disables region lookup.
func openGeoIP(ctx context.Context, cfg config.GeoIP) *geoip.Provider {
	log.Info().Msg("Checking GeoIP database...")
	if _, err := geoip.EnsureDB(ctx, cfg.Path, cfg.URL, cfg.Interval); err != nil {
		log.Error().Err(err).Msg("Failed to download GeoIP database")
	}

	provider, err := geoip.Open(cfg.Path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open GeoIP database, region lookup disabled")
		return nil
	}

	return provider
}
