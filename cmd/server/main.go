// Package main initializes and starts the firewatch server, setting up
// configuration, logging, the Firebase app, the optional lifecycle
// journal, the subscription registry, services, handlers, and TLS.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/firewatch/internal/backend"
	"github.com/atinyakov/firewatch/internal/config"
	"github.com/atinyakov/firewatch/internal/db"
	"github.com/atinyakov/firewatch/internal/firebase"
	"github.com/atinyakov/firewatch/internal/journal"
	"github.com/atinyakov/firewatch/internal/logger"
	"github.com/atinyakov/firewatch/internal/registry"
	"github.com/atinyakov/firewatch/internal/repository"
	"github.com/atinyakov/firewatch/internal/server/handler/http"
	"github.com/atinyakov/firewatch/internal/service"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	if err := run(options, zapLogger); err != nil {
		zapLogger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(options *config.Options, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the Firebase app and register it as the default backend.
	app, err := firebase.NewApp(ctx, firebase.Config{
		ProjectID:       options.ProjectID,
		DatabaseID:      options.DatabaseID,
		CredentialsFile: options.CredentialsFile,
	}, zapLogger)
	if err != nil {
		return fmt.Errorf("cannot init firebase: %w", err)
	}
	apps := backend.NewApps()
	if err := apps.Register(app.Backend(backend.DefaultAppName)); err != nil {
		return err
	}

	// Initialize the lifecycle journal when a database is configured.
	var (
		observers   []registry.Observer
		journalRepo service.JournalRepository
		writer      *journal.Writer
		closeDB     func() error
	)
	journalCtx, stopJournal := context.WithCancel(context.Background())
	defer stopJournal()
	if options.DatabaseDSN != "" {
		postgresDB, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			return multierr.Append(fmt.Errorf("cannot init database: %w", err), app.Close())
		}
		closeDB = postgresDB.Close

		db.StartJournalCleaner(journalCtx, postgresDB,
			time.Hour, // interval
			options.JournalRetention,
			zapLogger,
		)

		repo := repository.NewPostgresJournalRepository(postgresDB)
		writer = journal.NewWriter(repo, zapLogger, 1024)
		writer.Start(journalCtx)
		observers = append(observers, writer)
		journalRepo = repo
	} else {
		zapLogger.Info("no database configured, journal disabled")
	}

	// Build the registry and subscribe the configured collections.
	reg := registry.New(apps, zapLogger, observers...)
	collectionService := service.NewCollectionService(reg, journalRepo, registry.Options{})
	sessionService := service.NewSessionService(app.Session)
	if len(options.Collections) > 0 {
		if _, err := collectionService.Subscribe(options.Collections); err != nil {
			zapLogger.Error("failed to subscribe configured collections", zap.Error(err))
		}
	}

	// Create HTTP handlers and build the router.
	collectionHandler := &http.CollectionHandler{CollectionService: collectionService}
	sessionHandler := &http.SessionHandler{SessionService: sessionService}
	router := http.NewRouter(collectionHandler, sessionHandler, sessionService, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if options.TLSCert != "" && options.TLSKey != "" {
			zapLogger.Info("starting HTTPS server", zap.String("addr", options.Addr))
			serveErr <- server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
			return
		}
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Addr))
		serveErr <- server.ListenAndServe()
	}()

	var result error
	select {
	case err := <-serveErr:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			result = fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		zapLogger.Info("shutting down")
	}

	// Closing the registry ends open event streams and lets the journal
	// see the last transitions.
	result = multierr.Append(result, reg.Close())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result = multierr.Append(result, server.Shutdown(shutdownCtx))

	stopJournal()
	if writer != nil {
		<-writer.Done()
		if n := writer.Dropped(); n > 0 {
			zapLogger.Warn("journal dropped transitions", zap.Int64("dropped", n))
		}
	}
	if closeDB != nil {
		result = multierr.Append(result, closeDB())
	}
	result = multierr.Append(result, app.Close())
	return result
}
