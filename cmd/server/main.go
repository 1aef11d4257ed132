package main

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/auth"
	"github.com/clubsync/clubsync/internal/authz"
	"github.com/clubsync/clubsync/internal/calendar"
	"github.com/clubsync/clubsync/internal/config"
	"github.com/clubsync/clubsync/internal/database"
	"github.com/clubsync/clubsync/internal/discord"
	"github.com/clubsync/clubsync/internal/handler"
	"github.com/clubsync/clubsync/internal/idp"
	"github.com/clubsync/clubsync/internal/jobs"
	"github.com/clubsync/clubsync/internal/middleware"
	"github.com/clubsync/clubsync/internal/queue"
	"github.com/clubsync/clubsync/internal/repository"
	"github.com/clubsync/clubsync/internal/router"
	"github.com/clubsync/clubsync/internal/session"
	"github.com/clubsync/clubsync/internal/webhook"
)

func main() {
	cfg := config.Load()
	rlCfg := config.LoadRateLimitConfig()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	sentryEnabled := cfg.SentryDSN != ""
	if sentryEnabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
		}); err != nil {
			logger.Fatal("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable, rate limiting and authz cache disabled")
	}

	key, err := auth.LoadOrGenerateKey(cfg.KeyDir)
	if err != nil {
		logger.Fatal("signing key setup failed", zap.Error(err))
	}

	users := repository.NewUserRepo(db)
	orgs := repository.NewOrgRepo(db)
	memberships := repository.NewMembershipRepo(db)
	points := repository.NewPointsRepo(db)
	products := repository.NewProductRepo(db)
	orders := repository.NewOrderRepo(db)
	tokens := repository.NewTokenRepo(db)
	sessions := repository.NewSessionRepo(db)

	manager := auth.NewManager(key, tokens,
		time.Duration(cfg.AccessTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTTLDays)*24*time.Hour,
		time.Duration(cfg.AppTokenTTLDays)*24*time.Hour)

	dc := discord.New(cfg.DiscordBotToken, logger)
	go func() {
		// Retry until the handshake succeeds; guarded routes answer 503
		// meanwhile.
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := dc.Start(ctx)
			cancel()
			if err == nil {
				return
			}
			logger.Warn("discord handshake failed, retrying", zap.Error(err))
			time.Sleep(10 * time.Second)
		}
	}()

	resolver := authz.NewResolver(dc, orgs, rdb, cfg.AuthzCacheTTL,
		[]string{cfg.SuperadminUserID}, logger)

	sessionStore := session.NewStore(sessions, []byte(cfg.SessionSecret),
		cfg.SessionTTL, cfg.Env == "prod")

	var verifier *idp.Verifier
	if cfg.IDPSecretKey != "" {
		verifier = idp.NewVerifier(cfg.IDPAPIURL, cfg.IDPSecretKey)
	}

	oauthCfg := discord.OAuthConfig(cfg.DiscordClientID, cfg.DiscordClientSecret, cfg.DiscordRedirectURI)
	publisher := queue.NewPublisher(cfg.AMQPURL, logger)
	notifier := webhook.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, logger)

	var syncer *calendar.Syncer
	if cfg.CalendarSyncEnabled {
		gcal, err := calendar.NewGCalClient(context.Background(), cfg.GoogleServiceJSON, cfg.GoogleCalendarID, logger)
		if err != nil {
			logger.Fatal("calendar client setup failed", zap.Error(err))
		}
		notion := calendar.NewNotionClient(cfg.NotionToken, cfg.NotionDatabaseID, logger)
		syncer = calendar.NewSyncer(notion, gcal, logger)
	} else {
		logger.Info("calendar sync disabled, credentials not configured")
	}

	authn := &middleware.Authenticator{
		Sessions: sessionStore,
		Tokens:   manager,
		Provider: verifier,
		Users:    users,
		Orgs:     orgs,
		Members:  dc,
		Resolver: resolver,
		Log:      logger,
	}

	h := router.Handlers{
		Auth:       handler.NewAuthHandler(cfg, oauthCfg, users, manager, sessionStore, resolver, logger),
		Points:     handler.NewPointsHandler(users, memberships, points, publisher, logger),
		Storefront: handler.NewStorefrontHandler(repository.NewStorefrontStore(db, products, orders, points), users, memberships, products, orders, points, notifier, publisher, logger),
		Orgs:       handler.NewOrgHandler(orgs, users, memberships, logger),
		Superadmin: handler.NewSuperadminHandler(orgs, dc, logger),
		Users:      handler.NewUserHandler(users, orgs, dc, logger),
		Public:     handler.NewPublicHandler(),
		Calendar:   handler.NewCalendarHandler(syncer, logger),
		Bot:        handler.NewBotHandler(resolver, logger),
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.NewHTTPErrorHandler(logger)
	router.Register(e, h, authn, cfg, rlCfg, rdb, sentryEnabled)

	jobCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	runner := &jobs.Runner{
		Tokens:   manager,
		Sessions: sessions,
		Syncer:   syncer,
		SyncEach: cfg.CalendarSyncEvery,
		Log:      logger,
	}
	runner.Start(jobCtx)

	addr := ":" + cfg.Port
	logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := e.Start(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// newLogger picks the zap preset for the environment.
func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
