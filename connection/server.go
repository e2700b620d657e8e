package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"herbitect/config"
	controller "herbitect/controller/auth"
	"herbitect/logger"
	"herbitect/middleware"
	"herbitect/services"
)

// NewRouter wires middleware and routes around an OTP service. Forwarding
// headers are honoured only from cfg.TrustedProxies, so the per-IP limiter
// keys on the peer address unless a proxy is configured.
func NewRouter(cfg *config.Config, svc controller.OTPService, limiter *middleware.RateLimiter) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		slog.ErrorContext(c.Request.Context(), "panic recovered", "panic", rec)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "An internal server error occurred"})
	}))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Api is running!"})
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var limit gin.HandlerFunc
	if limiter != nil {
		limit = limiter.Limit()
	}
	controller.OTPController(router, svc, limit)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	})
}

// StartServer loads configuration, connects to Firebase and the OTP store,
// and serves until SIGINT or SIGTERM.
func StartServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fb, err := FBConnection(ctx, cfg.Firebase)
	if err != nil {
		return err
	}
	authClient, err := fb.Auth(ctx)
	if err != nil {
		return fmt.Errorf("get firebase auth client: %w", err)
	}

	store, closeStore, err := NewOTPStore(ctx, cfg, fb)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Error("failed to close otp store", "error", err)
		}
	}()

	mailer, err := services.NewSMTPMailer(cfg.Mail)
	if err != nil {
		return fmt.Errorf("configure mailer: %w", err)
	}

	svc, err := services.NewOTPService(services.OTPServiceDeps{
		Store:    store,
		Identity: services.NewFirebaseIdentity(authClient),
		Mailer:   mailer,
		TTL:      cfg.OTP.TTL,
		Subject:  cfg.Mail.Subject,
	})
	if err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	defer limiter.Close()

	router, err := NewRouter(cfg, svc, limiter)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "otp_store", cfg.OTP.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
