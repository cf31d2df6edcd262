package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rohits-web03/clientvault/internal/api"
	"github.com/rohits-web03/clientvault/internal/api/handlers"
	"github.com/rohits-web03/clientvault/internal/auth"
	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/delivery"
	"github.com/rohits-web03/clientvault/internal/logging"
	"github.com/rohits-web03/clientvault/internal/repositories"
)

// @title clientvault API
// @version 1.0
// @description Archive assembly and delivery for customer files.
// @BasePath /
func main() {
	var (
		port    = flag.String("port", "", "listen port (overrides PORT)")
		migrate = flag.Bool("migrate", true, "apply database migrations on start")
		hashKey = flag.String("hash-service-key", "", "print the bcrypt hash of a service key and exit")
	)
	flag.Parse()

	if *hashKey != "" {
		h, err := auth.HashServiceKey(*hashKey)
		if err != nil {
			log.Fatalf("hash service key: %v", err)
		}
		fmt.Println(h)
		return
	}

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	logger := logging.NewJSON(os.Stdout, cfg.LogLevel).With("service", "clientvault")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate, logger); err != nil {
		logger.Error(ctx, "server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, migrate bool, logger logging.Logger) error {
	db, err := repositories.ConnectDatabase(ctx, cfg.DB_URL)
	if err != nil {
		return err
	}
	if migrate {
		if err := repositories.RunMigrations(ctx, db); err != nil {
			return err
		}
	}

	store := repositories.NewR2(cfg.R2, cfg.Delivery)
	catalog := delivery.NewCatalogReader(repositories.NewBlobRepository(db))
	locker := delivery.NewLocker(cfg.Delivery, repositories.NewLeaseRepository(db), logger.With("component", "lease"))
	bundles := delivery.NewBundleCache(catalog, repositories.NewBundleRepository(db), store, locker, cfg.Delivery, logger.With("component", "bundles"))
	jobs := delivery.NewJobTracker(repositories.NewJobRepository(db), catalog, bundles, store, cfg.Delivery, logger.With("component", "jobs"))
	gateway := delivery.NewGateway(catalog, bundles, jobs, store, cfg.Delivery, logger.With("component", "gateway"))
	janitor := delivery.NewJanitor(store, cfg.Delivery, logger.With("component", "janitor"))

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.ServiceKeys)
	router := api.SetupRouter(handlers.NewHandler(gateway, logger), verifier, cfg, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
		// Timeouts prevent resource exhaustion from slow clients. Inline
		// archive builds and streamed files need a long write window.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return jobs.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error {
		logger.Info(gctx, "starting clientvault server", "port", cfg.Port, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()
		logger.Info(shutdownCtx, "shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
