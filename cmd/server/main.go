package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/proxyhifi-dev/Bot/internal/auth"
	"github.com/proxyhifi-dev/Bot/internal/broker"
	"github.com/proxyhifi-dev/Bot/internal/config"
	"github.com/proxyhifi-dev/Bot/internal/database"
	"github.com/proxyhifi-dev/Bot/internal/engine"
	"github.com/proxyhifi-dev/Bot/internal/execution"
	"github.com/proxyhifi-dev/Bot/internal/journal"
	"github.com/proxyhifi-dev/Bot/internal/ledger"
	"github.com/proxyhifi-dev/Bot/internal/mode"
	"github.com/proxyhifi-dev/Bot/internal/notify"
	"github.com/proxyhifi-dev/Bot/internal/risk"
	sig "github.com/proxyhifi-dev/Bot/internal/signal"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/proxyhifi-dev/Bot/pkg/middleware"
	"github.com/proxyhifi-dev/Bot/pkg/response"
)

// init configures the application logging based on environment settings.
// In development mode, it enables pretty printing with timestamps.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the broker gateway, risk and mode gates, ledger, journal and
// engine, then serves the operator API until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger := zlog.Logger

	location, err := time.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		zlog.Fatal().Err(err).Str("timezone", cfg.Risk.Timezone).Msg("Unknown market timezone")
	}

	initialMode, err := types.ParseMode(cfg.Engine.InitialMode)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid initial mode")
	}
	if initialMode == types.ModeLive {
		// LIVE is only ever entered through an explicit, confirmed switch
		zlog.Warn().Msg("ENGINE_INITIAL_MODE=LIVE ignored, starting in PAPER")
		initialMode = types.ModePaper
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.JournalPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	tradeJournal := journal.NewDatabase(db)

	gateway, err := broker.New(broker.Config{
		ClientID:            cfg.Broker.ClientID,
		SecretKey:           cfg.Broker.SecretKey,
		RedirectURI:         cfg.Broker.RedirectURI,
		BaseURL:             cfg.Broker.BaseURL,
		TokenFile:           cfg.Broker.TokenFile,
		MaxRetries:          cfg.Broker.MaxRetries,
		BackoffBase:         cfg.Broker.BackoffBase,
		BackoffCap:          cfg.Broker.BackoffCap,
		Timeout:             cfg.Broker.Timeout,
		BreakerThreshold:    cfg.Broker.BreakerThreshold,
		BreakerCooldown:     cfg.Broker.BreakerCooldown,
		TokenValidationTTL:  cfg.Broker.TokenValidationTTL,
		AuthFailureCooldown: cfg.Broker.AuthFailureCooldown,
		AutoAuth:            cfg.Broker.AutoAuth,
		UserID:              cfg.Broker.UserID,
		PIN:                 cfg.Broker.PIN,
		TOTPSecret:          cfg.Broker.TOTPSecret,
		LoginBaseURL:        cfg.Broker.LoginBaseURL,
		AuthCodeBaseURL:     cfg.Broker.AuthCodeBaseURL,
	}, logger)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize broker gateway")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if ok, err := gateway.EnsureAuthenticated(rootCtx); err != nil {
		zlog.Warn().Err(err).Msg("Broker authentication unavailable, market data will fail until login")
	} else if !ok {
		zlog.Warn().Msg("No valid broker token, log in via /auth/login-url or cmd/login")
	}

	gate, err := risk.New(risk.Config{
		Capital:          cfg.Risk.Capital,
		RiskFraction:     cfg.Risk.RiskFraction,
		MaxTradesPerDay:  cfg.Risk.MaxTradesPerDay,
		MaxLossesPerDay:  cfg.Risk.MaxLossesPerDay,
		NoNewTradesAfter: cfg.Risk.NoNewTradesAfter,
		SquareOffAt:      cfg.Risk.SquareOffAt,
		Location:         location,
		Exits:            risk.FixedOffsets{Stop: cfg.Risk.StopOffset, Target: cfg.Risk.TargetOffset},
	}, logger)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid risk configuration")
	}

	modes := mode.NewController(initialMode, logger)
	book := ledger.New()
	executor := execution.New(modes, book, gateway, tradeJournal, logger)

	var signals sig.Source = sig.None{}
	if cfg.SignalURL != "" {
		signals = sig.NewBridge(cfg.SignalURL, cfg.Engine.Symbol, cfg.SignalTimeout, logger)
	} else {
		zlog.Warn().Msg("SIGNAL_URL not set, the engine will never propose trades")
	}

	eng := engine.New(engine.Config{
		Symbol:          cfg.Engine.Symbol,
		Lookback:        cfg.Engine.Lookback,
		PollInterval:    cfg.Engine.PollInterval,
		SignalTTL:       cfg.Engine.SignalTTL,
		ExpiryInterval:  cfg.Engine.ExpiryInterval,
		StopTimeout:     cfg.Engine.StopJoinTimeout,
		ApprovalTimeout: cfg.Engine.ApprovalTimeout,
	}, engine.Deps{
		Market:   broker.NewFeed(gateway, cfg.Engine.Resolution),
		Signals:  signals,
		Risk:     gate,
		Mode:     modes,
		Ledger:   book,
		Executor: executor,
		Journal:  tradeJournal,
		Notifier: notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, logger),
		Auth:     gateway,
	}, logger)

	if err := eng.Restore(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to restore today's trades")
	}

	if cfg.Engine.AutoStart {
		if err := eng.Start(rootCtx); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to start engine")
		}
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(func(method, path string, status int, latency time.Duration, clientIP string) {
		zlog.Debug().Str("method", method).Str("path", path).Int("status", status).Dur("latency", latency).Str("ip", clientIP).Msg("request")
	}))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	// Setup middleware
	router.Use(middleware.RateLimit())

	authService := auth.NewService(cfg.Operator.JWTSecret, cfg.Operator.APIKey, cfg.Operator.APISecret)
	setupRoutes(router, authService,
		auth.NewGinHandlers(authService),
		broker.NewGinHandlers(gateway),
		engine.NewGinHandlers(rootCtx, eng),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Str("mode", string(modes.Current())).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	stopped := eng.EmergencyStop()
	if book.HasOpenPosition() {
		zlog.Warn().Msg("Shutting down with an open position, it is not flattened")
	}
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Bool("engine_stop_timed_out", stopped.TimedOut).Msg("Server exiting")
}

// setupRoutes configures the operator API. Read routes are public;
// anything that can commit capital or change the process state needs a
// bearer token from /api/v1/auth/token.
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	brokerHandlers *broker.GinHandlers,
	engineHandlers *engine.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}
	}

	protected := router.Group("")
	protected.Use(middleware.JWTAuth(authService))

	engineHandlers.RegisterRoutes(router, protected)

	brokerAuth := router.Group("/auth")
	{
		brokerAuth.GET("/status", brokerHandlers.StatusHandler())
		brokerAuth.GET("/login-url", brokerHandlers.LoginURLHandler())
		brokerAuth.GET("/login", func(c *gin.Context) {
			response.Fail(c, http.StatusGone, "GONE", "use /auth/login-url and /auth/exchange")
		})
	}
	protected.POST("/auth/exchange", brokerHandlers.ExchangeHandler())
}
