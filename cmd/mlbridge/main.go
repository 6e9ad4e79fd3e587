package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	censusadapter "github.com/ericfisherdev/mlbridge/internal/adapter/driven/census"
	gitadapter "github.com/ericfisherdev/mlbridge/internal/adapter/driven/git"
	githubadapter "github.com/ericfisherdev/mlbridge/internal/adapter/driven/github"
	slackadapter "github.com/ericfisherdev/mlbridge/internal/adapter/driven/slack"
	smtpadapter "github.com/ericfisherdev/mlbridge/internal/adapter/driven/smtp"
	sqliteadapter "github.com/ericfisherdev/mlbridge/internal/adapter/driven/sqlite"
	webrevadapter "github.com/ericfisherdev/mlbridge/internal/adapter/driven/webrev"
	httphandler "github.com/ericfisherdev/mlbridge/internal/adapter/driving/http"
	"github.com/ericfisherdev/mlbridge/internal/application"
	"github.com/ericfisherdev/mlbridge/internal/config"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
	"github.com/ericfisherdev/mlbridge/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars or a bad bridge file).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	bridgeCfg, err := config.LoadBridge(cfg.BridgeFile)
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"workers", cfg.Workers,
		"repositories", len(bridgeCfg.Bridges),
		"archive", bridgeCfg.Archive.Backend,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database and run migrations.
	db, err := sqliteadapter.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath, "schema_version", db.SchemaVersion)

	// 4. Wire driven adapters.
	logger := slog.Default()
	gh := githubadapter.NewClient(cfg.GitHubToken)
	states := sqliteadapter.NewPollStateRepo(db)

	var archive driven.ArchiveStore
	switch bridgeCfg.Archive.Backend {
	case config.ArchiveGitHub:
		archive = githubadapter.NewArchiveStore(gh, bridgeCfg.Archive.Repository, bridgeCfg.Archive.Ref, bridgeCfg.Sender)
	default:
		archive = sqliteadapter.NewArchiveRepo(db)
	}

	smtpPassword := bridgeCfg.SMTP.Password
	if cfg.SMTPPassword != "" {
		smtpPassword = cfg.SMTPPassword
	}
	mail, err := smtpadapter.NewTransport(smtpadapter.Config{
		Addr:     bridgeCfg.SMTP.Addr,
		Username: bridgeCfg.SMTP.Username,
		Password: smtpPassword,
		Interval: time.Duration(bridgeCfg.SMTP.Interval),
	}, logger)
	if err != nil {
		return err
	}

	directory := censusadapter.Empty()
	if bridgeCfg.Census != "" {
		directory, err = censusadapter.Load(bridgeCfg.Census)
		if err != nil {
			return err
		}
		slog.Info("census loaded", "path", bridgeCfg.Census, "contributors", directory.Len())
	}

	webrevDir := bridgeCfg.Webrevs.Dir
	if webrevDir == "" {
		webrevDir = filepath.Join(cfg.ScratchDir, "webrevs")
	}
	webrevs := webrevadapter.NewStorage(webrevDir, bridgeCfg.Webrevs.URL, bridgeCfg.Webrevs.MaxSize, logger)

	var notifier driven.Notifier
	webhook := bridgeCfg.Slack.Webhook
	if cfg.SlackWebhook != "" {
		webhook = cfg.SlackWebhook
	}
	if webhook != "" {
		notifier = slackadapter.NewNotifier(webhook, bridgeCfg.Slack.Username, &http.Client{Timeout: 30 * time.Second})
	}

	m := metrics.New()

	// 5. Create one bridge per repository.
	deps := application.BridgeDeps{
		Forge:     gh,
		Writer:    gh,
		Archive:   archive,
		Mail:      mail,
		Repos:     gitadapter.NewPool(logger),
		Webrevs:   webrevs,
		Directory: directory,
		Notifier:  notifier,
		Metrics:   m,
	}
	bridges := make([]*application.Bridge, 0, len(bridgeCfg.Bridges))
	for _, bc := range bridgeCfg.Bridges {
		bc.ScratchDir = cfg.ScratchDir
		bridges = append(bridges, application.NewBridge(bc, deps, logger))
	}

	// 6. Create and start the work queue and poll service.
	quarantine := application.NewQuarantine()
	m.TrackQuarantine(quarantine.Len)
	queue := application.NewWorkQueue(cfg.Workers, logger, m)

	pollSvc := application.NewPollService(gh, states, quarantine, queue, bridges, cfg.PollInterval, logger)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		pollSvc.Start(ctx)
	}()

	healthSvc := application.NewHealthService(pollSvc, quarantine, queue)

	// 7. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(pollSvc, healthSvc, quarantine, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, m.Handler(), logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("mlbridge started",
		"listen_addr", cfg.ListenAddr,
		"poll_interval", cfg.PollInterval,
	)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// 9. Let running passes finish; nothing new is queued once the poller stopped.
	<-pollDone
	queue.Wait()

	slog.Info("shutdown complete")
	return nil
}
