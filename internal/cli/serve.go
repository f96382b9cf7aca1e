package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/agents"
	"github.com/InvictusSEO/vibephp/internal/auth"
	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/handlers"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/metrics"
	"github.com/InvictusSEO/vibephp/internal/middleware"
	"github.com/InvictusSEO/vibephp/internal/preview"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort != "" {
			cfg.Port = servePort
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
}

func serve(cfg *config.Config) error {
	log := logging.Named("server")
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var hub *agents.WSHub
	a, err := newApp(cfg, appOptions{
		preview: true,
		onPreview: func(id string, st preview.State) {
			if hub != nil {
				hub.BroadcastPreview(id, st)
			}
		},
	})
	if err != nil {
		return err
	}
	defer a.close()
	hub = agents.NewWSHub(a.manager)

	var tokens *auth.TokenService
	if cfg.AuthSecret != "" {
		tokens = auth.NewTokenService(cfg.AuthSecret)
	} else if cfg.IsProduction() {
		log.Warn("AUTH_SECRET is not set, the API is open")
	}

	limiter := middleware.NewIPRateLimiter(cfg.HTTP.RatePerMinute, cfg.HTTP.Burst)
	defer limiter.Stop()

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log, "/health", "/metrics"),
		metrics.PrometheusMiddleware(),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
		middleware.SecurityHeaders(cfg.IsProduction()),
		middleware.RateLimit(limiter),
	)

	h := handlers.NewHandler(a.manager, hub, tokens)
	h.Version = Version
	h.RegisterRoutes(router)

	metrics.Get().SetBuildInfo(Version, Commit, BuildDate)
	sampler := metrics.NewSampler(15*time.Second, func(m *metrics.Metrics) {
		m.ActiveWorkspaces.Set(float64(len(a.manager.List())))
	})
	sampler.Start()
	defer sampler.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	log.Info("listening",
		zap.String("addr", server.Addr),
		zap.String("environment", cfg.Environment),
		zap.Bool("auth", tokens != nil))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	return nil
}
