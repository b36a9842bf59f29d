// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/auth"
	"github.com/tbourn/go-telegram-backend/internal/config"
	"github.com/tbourn/go-telegram-backend/internal/domain"
	"github.com/tbourn/go-telegram-backend/internal/http/handlers"
	"github.com/tbourn/go-telegram-backend/internal/http/middleware"
	"github.com/tbourn/go-telegram-backend/internal/repo"
	"github.com/tbourn/go-telegram-backend/internal/services"
)

// sessionRepoShim adapts the repository free functions to the
// services.SessionRepo interface expected by the login and sync services.
// This keeps services decoupled from the concrete repo package while reusing
// existing functions.
type sessionRepoShim struct{}

// GetSession proxies repo.GetSession.
func (sessionRepoShim) GetSession(ctx context.Context, db *gorm.DB, id uint) (*domain.Session, error) {
	return repo.GetSession(ctx, db, id)
}

// GetSessionByPhone proxies repo.GetSessionByPhone.
func (sessionRepoShim) GetSessionByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Session, error) {
	return repo.GetSessionByPhone(ctx, db, phone)
}

// CreateSession proxies repo.CreateSession.
func (sessionRepoShim) CreateSession(ctx context.Context, db *gorm.DB, phone string) (*domain.Session, error) {
	return repo.CreateSession(ctx, db, phone)
}

// SaveSession proxies repo.SaveSession.
func (sessionRepoShim) SaveSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	return repo.SaveSession(ctx, db, s)
}

// ActivateSession proxies repo.ActivateSession.
func (sessionRepoShim) ActivateSession(ctx context.Context, db *gorm.DB, id uint, sessionString, telegramID string, loginAt time.Time) error {
	return repo.ActivateSession(ctx, db, id, sessionString, telegramID, loginAt)
}

// DeactivateSession proxies repo.DeactivateSession.
func (sessionRepoShim) DeactivateSession(ctx context.Context, db *gorm.DB, id uint) error {
	return repo.DeactivateSession(ctx, db, id)
}

// userRepoShim adapts the repository free functions to services.UserRepo.
type userRepoShim struct{}

// GetUser proxies repo.GetUser.
func (userRepoShim) GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

// GetUserByEmailOrMsisdn proxies repo.GetUserByEmailOrMsisdn.
func (userRepoShim) GetUserByEmailOrMsisdn(ctx context.Context, db *gorm.DB, identifier string) (*domain.User, error) {
	return repo.GetUserByEmailOrMsisdn(ctx, db, identifier)
}

// GetUserByTelegramID proxies repo.GetUserByTelegramID.
func (userRepoShim) GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error) {
	return repo.GetUserByTelegramID(ctx, db, telegramID)
}

// CreateUser proxies repo.CreateUser.
func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}

// LinkUserTelegramID proxies repo.LinkUserTelegramID.
func (userRepoShim) LinkUserTelegramID(ctx context.Context, db *gorm.DB, id uint, telegramID string) error {
	return repo.LinkUserTelegramID(ctx, db, id, telegramID)
}

// UserRepo exposes the user repository shim for wiring done outside this
// package (the QR login service is constructed in main so the bot callback
// can be attached before the bot starts).
func UserRepo() services.UserRepo { return userRepoShim{} }

// channelRepoShim adapts the repository free functions to services.ChannelRepo.
type channelRepoShim struct{}

// GetChannel proxies repo.GetChannel.
func (channelRepoShim) GetChannel(ctx context.Context, db *gorm.DB, id, sessionID uint) (*domain.Channel, error) {
	return repo.GetChannel(ctx, db, id, sessionID)
}

// ListChannels proxies repo.ListChannels.
func (channelRepoShim) ListChannels(ctx context.Context, db *gorm.DB, sessionID uint) ([]domain.Channel, error) {
	return repo.ListChannels(ctx, db, sessionID)
}

// UpsertChannel proxies repo.UpsertChannel.
func (channelRepoShim) UpsertChannel(ctx context.Context, db *gorm.DB, sessionID uint, channelID, name string, accessHash int64) (*domain.Channel, error) {
	return repo.UpsertChannel(ctx, db, sessionID, channelID, name, accessHash)
}

// messageRepoShim adapts the repository free functions to services.MessageRepo.
type messageRepoShim struct{}

// UpsertMessage proxies repo.UpsertMessage.
func (messageRepoShim) UpsertMessage(ctx context.Context, db *gorm.DB, sessionID, channelID uint, messageID, content string, ts time.Time) (*domain.Message, error) {
	return repo.UpsertMessage(ctx, db, sessionID, channelID, messageID, content, ts)
}

// CountMessages proxies repo.CountMessages.
func (messageRepoShim) CountMessages(ctx context.Context, db *gorm.DB, channelID uint) (int64, error) {
	return repo.CountMessages(ctx, db, channelID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS and security headers, health and metrics endpoints, and then mounts
// the public API under /api.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per client IP)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, clients services.ClientFactory, qrSvc *services.QRLoginService, tokens *auth.TokenManager, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (phones and login tokens appear
	// in this API's payloads and query strings)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// Response compression; message pages and base64 QR payloads shrink well
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter (RATE_LIMIT requests per RATE_WINDOW).
	// Installed before auth, so buckets key on the client IP.
	rl := middleware.NewRateLimiter(cfg.RateRPS(), cfg.RateLimit, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/wire adapter
	phoneSvc := services.NewPhoneLoginService(db, sessionRepoShim{}, clients, log.Logger)
	syncSvc := services.NewSyncService(db, sessionRepoShim{}, channelRepoShim{}, messageRepoShim{}, clients, log.Logger)
	authSvc := services.NewAuthService(db, userRepoShim{}, tokens, qrSvc, log.Logger)

	ah := handlers.NewAuthHandlers(phoneSvc, authSvc, tokens)
	sh := handlers.NewSyncHandlers(syncSvc)

	// Bearer auth; session tokens are revoked the moment the session row
	// goes inactive.
	authRequired := middleware.Auth(tokens, func(ctx context.Context, sessionID uint) (bool, error) {
		s, err := repo.GetSession(ctx, db, sessionID)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return s.IsActive, nil
	})

	// Public API
	api := r.Group("/api")
	{
		api.POST("/auth/login-phone", ah.StartPhoneLogin)
		api.POST("/auth/verify-phone", ah.VerifyPhone)
		api.POST("/auth/login", ah.Login)
		api.POST("/auth/login-qr", ah.LoginWithQR)
		api.GET("/auth/login-qr/status", ah.CheckQRLogin)
	}

	// Authenticated API
	protected := r.Group("/api", authRequired)
	{
		protected.GET("/auth/session", ah.GetSession)
		protected.POST("/auth/logout", ah.Logout)
		protected.GET("/channels", sh.GetChannels)
		protected.GET("/messages/:channelId", sh.GetMessages)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
