// Command server runs the Telegram relay backend: phone and QR login flows,
// the deep-link bot, and the channel/message mirror API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-telegram-backend/internal/auth"
	"github.com/tbourn/go-telegram-backend/internal/config"
	httpapi "github.com/tbourn/go-telegram-backend/internal/http"
	"github.com/tbourn/go-telegram-backend/internal/observability"
	"github.com/tbourn/go-telegram-backend/internal/repo"
	"github.com/tbourn/go-telegram-backend/internal/services"
	"github.com/tbourn/go-telegram-backend/internal/sysutil"
	"github.com/tbourn/go-telegram-backend/internal/telegram"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting telegram relay backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless enabled)
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Fatal().Err(err).Msg("failed to enable db tracing")
		}
	}
	if err := repo.SeedUsers(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to seed users")
	}

	// Wire adapter
	factory, err := telegram.NewFactory(cfg.Telegram.APIID, cfg.Telegram.APIHash, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid telegram api credentials")
	}
	clients := func(sessionString string) (services.SessionClient, error) {
		return factory.Client(sessionString)
	}

	// Tokens
	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid token configuration")
	}

	// Deep-link bot + QR login state machine. The bot is optional: without
	// a token the QR flow reports the bot as unavailable but phone and
	// password login still work.
	var bot *telegram.LinkBot
	if cfg.Telegram.BotToken != "" {
		bot, err = telegram.NewLinkBot(cfg.Telegram.BotToken, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create login bot")
		}
	}

	var botIdentity services.BotIdentity = noBot{}
	if bot != nil {
		botIdentity = bot
	}
	qrSvc := services.NewQRLoginService(db, httpapi.UserRepo(), tokens, botIdentity, log.Logger)

	if bot != nil {
		bot.OnLogin(qrSvc.HandleCallback)
		go func() {
			if err := bot.Start(ctx); err != nil {
				log.Error().Err(err).Msg("login bot stopped with error")
			}
		}()
	}

	// HTTP transport
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, db, clients, qrSvc, tokens, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("stopped")
}

// noBot is the BotIdentity used when no bot token is configured; deep link
// creation fails cleanly.
type noBot struct{}

func (noBot) Username() string { return "" }
