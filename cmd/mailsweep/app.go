package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsweep/internal/ai"
	"github.com/nhle/mailsweep/internal/credential"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/queue"
	"github.com/nhle/mailsweep/internal/source"
	"github.com/nhle/mailsweep/internal/source/email"
	"github.com/nhle/mailsweep/internal/source/gmail"
	"github.com/nhle/mailsweep/internal/store"
	mailsync "github.com/nhle/mailsweep/internal/sync"
	"github.com/nhle/mailsweep/internal/unsubscribe"
)

// app holds the wired services shared by every command.
type app struct {
	logger       zerolog.Logger
	store        *store.SQLiteStore
	clients      *source.Clients
	coordinator  *mailsync.Coordinator
	unsubscriber *unsubscribe.Service
	artifacts    unsubscribe.ArtifactStore
}

func newApp(cfg *model.AppConfig, logger zerolog.Logger) (*app, error) {
	var ring credential.Ring
	if cfg.Vault.MasterKey == "" && cfg.Vault.UseKeyring {
		kr, err := credential.OpenKeyring()
		if err != nil {
			return nil, err
		}
		ring = kr
	}
	masterKey, err := credential.LoadMasterKey(cfg.Vault, ring)
	if err != nil {
		return nil, err
	}
	vault := credential.NewVault(masterKey)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	q := queue.New(queue.Options{
		Concurrency: cfg.Queue.Concurrency,
		MinBackoff:  cfg.Queue.MinBackoff,
		MaxBackoff:  cfg.Queue.MaxBackoff,
	}, logger)

	providers := map[model.ProviderKind]source.Provider{}
	switch model.ProviderKind(cfg.Provider.Kind) {
	case model.ProviderIMAP:
		providers[model.ProviderIMAP] = email.NewProvider(cfg.Provider, nil)
	default:
		providers[model.ProviderGmail] = gmail.New(cfg.Provider, logger)
	}
	clients := source.NewClients(db, vault, providers, q, logger,
		source.WithCallTimeout(cfg.Provider.CallTimeout))

	// A nil classifier stores messages unclassified.
	var classifier mailsync.Classifier
	if cfg.AI.APIKey != "" {
		classifier = ai.NewClassifier(ai.NewClient(cfg.AI, nil), ai.ClassifierOptions{
			BodyPrefix: cfg.AI.BodyPrefix,
			MinBackoff: cfg.Queue.MinBackoff,
			MaxBackoff: cfg.Queue.MaxBackoff,
		}, logger)
	} else {
		logger.Warn().Msg("ai.api_key not set; messages are stored without classification")
	}

	coordinator := mailsync.NewCoordinator(db, clients, classifier, mailsync.Options{
		Lookback:    time.Duration(cfg.Sync.LookbackHours) * time.Hour,
		Parallelism: cfg.Sync.Parallelism,
		MaxAttempts: cfg.Sync.MaxMessageAttempts,
	}, logger)

	artifacts, err := unsubscribe.NewArtifactStore(cfg.Unsubscribe)
	if err != nil {
		db.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Unsubscribe.RequestTimeout}
	tier1 := unsubscribe.NewHTTPTier1(httpClient, q, cfg.Unsubscribe.RequestTimeout)
	browser := unsubscribe.NewChromeBrowser(unsubscribe.ChromeOptions{Headless: cfg.Unsubscribe.Headless})
	tier2 := unsubscribe.NewBrowserTier2(browser, artifacts, unsubscribe.Tier2Options{
		NavigationTimeout: cfg.Unsubscribe.NavigationTimeout,
		SettleInterval:    cfg.Unsubscribe.SettleInterval,
	}, logger)
	executor := unsubscribe.NewExecutor(tier1, tier2, logger)

	return &app{
		logger:       logger,
		store:        db,
		clients:      clients,
		coordinator:  coordinator,
		unsubscriber: unsubscribe.NewService(db, executor, cfg.Unsubscribe.BulkDelay, logger),
		artifacts:    artifacts,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("closing database")
	}
}
