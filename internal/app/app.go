// Package app wires configuration into the queue, pipeline and collaborators.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/ai"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/config"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/describe"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/marketplace"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/pipeline"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/pricing"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/queue"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/repository"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/service"
)

// App holds the wired components. Credentials, Maintainer, Marketplace, AI,
// Pipeline and Scanner are nil when their configuration is missing.
type App struct {
	Config config.Config
	Logger *slog.Logger

	DB   *sqlx.DB
	Jobs *repository.JobRepository

	APIAuth     *service.APIAuth
	Credentials *service.Credentials
	Maintainer  *service.TokenMaintainer
	Marketplace *marketplace.Client
	AI          *ai.Client

	Pricing  *pricing.Engine
	Pipeline *pipeline.Pipeline
	Queue    *queue.Manager
	Scanner  *queue.Scanner
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT values.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New opens the job store and wires every component the configuration allows.
// ctx bounds the queue worker and the authenticated HTTP clients.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	logger.Info("database connected", "driver", repository.DriverFor(cfg.DatabaseURL))

	a := &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Jobs:    repository.NewJobRepository(db),
		APIAuth: service.NewAPIAuth(cfg.JWTSecret),
	}
	if err := a.wire(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	if cfg.HasMarketplaceCredentials() {
		creds, err := service.NewCredentials(service.CredentialsConfig{
			ClientID:     cfg.Marketplace.ClientID,
			ClientSecret: cfg.Marketplace.ClientSecret,
			AuthURL:      cfg.Marketplace.AuthURL,
			TokenURL:     cfg.Marketplace.TokenURL,
			RedirectURL:  cfg.Marketplace.RedirectURL,
			RefreshToken: cfg.Marketplace.RefreshToken,
			TokenFile:    cfg.TokenFile,
		}, httpClient, a.Logger)
		if err != nil {
			return fmt.Errorf("load marketplace credentials: %w", err)
		}
		a.Credentials = creds
		a.Maintainer = service.NewTokenMaintainer(creds, cfg.TokenRefreshInterval, cfg.TokenRetryInterval, a.Logger)

		market, err := marketplace.New(marketplace.Options{
			BaseURL:        cfg.Marketplace.BaseURL,
			MediaURL:       cfg.Marketplace.MediaURL,
			UserClient:     creds.Client(ctx),
			AppClient:      service.AppClient(ctx, cfg.Marketplace.ClientID, cfg.Marketplace.ClientSecret, cfg.Marketplace.TokenURL, httpClient),
			MarketplaceID:  cfg.Marketplace.MarketplaceID,
			RequestsPerSec: cfg.Marketplace.RequestsPerSec,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("create marketplace client: %w", err)
		}
		a.Marketplace = market
	} else {
		a.Logger.Warn("marketplace credentials not configured; listing and comparables are disabled")
	}

	if cfg.AI.APIKey != "" {
		client, err := ai.New(ctx, ai.Options{
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			BaseURL: cfg.AI.BaseURL,
			Timeout: cfg.HTTPTimeout,
		}, nil, a.Logger)
		if err != nil {
			return fmt.Errorf("create ai client: %w", err)
		}
		a.AI = client
	} else {
		a.Logger.Warn("AI_API_KEY not set; image analysis and price research are disabled")
	}

	a.Pricing = a.newPricing()

	renderer, err := describe.New(cfg.DescriptionTemplate)
	if err != nil {
		return err
	}

	// Interfaces stay untyped nil when a component is missing.
	var runner queue.Runner
	if a.AI != nil && a.Marketplace != nil {
		p, err := pipeline.New(pipeline.Deps{
			Analyzer:   a.AI,
			Categories: a.Marketplace,
			Pricer:     a.Pricing,
			Media:      a.Marketplace,
			Renderer:   renderer,
			Catalog:    a.Marketplace,
		}, pipeline.Options{
			DefaultCategoryID:   cfg.DefaultCategoryID,
			PlaceholderImageURL: cfg.PlaceholderImageURL,
			MaxImages:           cfg.MaxImages,
			AutoPublish:         cfg.AutoPublish,
			AcquisitionCost:     cfg.AcquisitionCost,
			MarketplaceID:       cfg.Marketplace.MarketplaceID,
			Currency:            cfg.Marketplace.Currency,
			MerchantLocationKey: cfg.Marketplace.MerchantLocationKey,
			Policies: domain.ListingPolicies{
				FulfillmentPolicyID: cfg.Marketplace.FulfillmentPolicyID,
				PaymentPolicyID:     cfg.Marketplace.PaymentPolicyID,
				ReturnPolicyID:      cfg.Marketplace.ReturnPolicyID,
			},
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("create pipeline: %w", err)
		}
		a.Pipeline = p
		runner = p
	}

	q, err := queue.New(ctx, a.Jobs, runner, queue.Options{MaxAttempts: cfg.MaxAttempts, EventBuffer: 256}, a.Logger)
	if err != nil {
		return err
	}
	a.Queue = q

	if cfg.InboxDir != "" {
		sc, err := queue.NewScanner(cfg.InboxDir, q, a.Logger)
		if err != nil {
			return err
		}
		a.Scanner = sc
	}
	return nil
}

func (a *App) newPricing() *pricing.Engine {
	cfg := a.Config
	opts := pricing.DefaultOptions()
	maps.Copy(opts.Multipliers, cfg.ConditionMultipliers)
	opts.FeeRate = cfg.FeeRate
	opts.FixedFee = cfg.FixedFee
	opts.MinMargin = cfg.MinProfitMargin

	var comps pricing.ComparableSource
	if a.Marketplace != nil {
		comps = a.Marketplace
	}
	var est pricing.Estimator
	if a.AI != nil {
		est = a.AI
	}
	return pricing.New(comps, est, opts, a.Logger)
}

// Close releases the job store.
func (a *App) Close() error {
	return a.DB.Close()
}
