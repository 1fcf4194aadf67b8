package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nhle/mailsweep/internal/api"
	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/logging"
	"github.com/nhle/mailsweep/internal/model"
	mailsync "github.com/nhle/mailsweep/internal/sync"
)

const usage = `usage: mailsweep [-config path] <command>

commands:
  serve                    run the HTTP API (and the poller when sync.poll_interval is set)
  sync                     sync every active account once and print the summary
  unsubscribe <message-id> unsubscribe from the sender of one stored message
`

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", model.DefaultConfigPath(), "Path to the YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := model.LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	switch cmd := flag.Arg(0); cmd {
	case "serve":
		err = serve(ctx, a, cfg)
	case "sync":
		err = syncOnce(ctx, a)
	case "unsubscribe":
		if flag.NArg() != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = unsubscribeOne(ctx, a, flag.Arg(1))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("command failed")
		os.Exit(1)
	}
}

func serve(ctx context.Context, a *app, cfg *model.AppConfig) error {
	if cfg.Server.CronSecret == "" {
		a.logger.Warn().Msg("server.cron_secret not set; the cron sync endpoint is disabled")
	}

	var poller *mailsync.Poller
	if cfg.Sync.PollInterval > 0 {
		poller = mailsync.NewPoller(a.coordinator, cfg.Sync.PollInterval, a.logger)
		poller.Start(ctx)
		defer poller.Stop()
	}

	deps := api.Deps{
		Syncer:       a.coordinator,
		Unsubscriber: a.unsubscriber,
		Connector:    a.clients,
		Messages:     a.store,
		Artifacts:    a.artifacts,
		DB:           a.store,
	}
	if poller != nil {
		deps.Poller = poller
	}
	srv := api.NewServer(a.logger, deps, cfg.Server.CronSecret)

	// Sync and browser runs take minutes, so there is no write timeout.
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("starting API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func syncOnce(ctx context.Context, a *app) error {
	summary, err := a.coordinator.SyncAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func unsubscribeOne(ctx context.Context, a *app, messageID string) error {
	outcome, err := a.unsubscriber.Unsubscribe(ctx, messageID)
	if err != nil {
		return err
	}
	return printJSON(outcome)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
