package app

import (
	"context"
	"errors"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/controller"
	"exam_platform_backend/internal/service"
	"exam_platform_backend/pkg/configwatcher"
	"exam_platform_backend/pkg/logger"
	"exam_platform_backend/pkg/monitoring"
	"exam_platform_backend/pkg/security"
	"exam_platform_backend/pkg/tracing"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type App struct {
	Config    *config.Config
	ConfigDir string
	Router    *gin.Engine
	Core      *Core
	tracer    *sdktrace.TracerProvider
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	callbacks []func(*config.Config)
}

type controllers struct {
	auth    *controller.AuthController
	attempt *controller.AttemptController
	health  *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, callback)
}

// applyConfig 配置热更新，目前只有扫描间隔可在运行中调整
func (a *App) applyConfig(cfg *config.Config) {
	a.mu.Lock()
	callbacks := append([]func(*config.Config){}, a.callbacks...)
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (a *App) initControllers() *controllers {
	otp := service.NewOTPService(a.Core.NewOTPStore(), service.LogMailer{}, a.Config.OTP)
	auth := service.NewAuthService(a.Core.Users, otp, a.Config)

	return &controllers{
		auth:    controller.NewAuthController(auth),
		attempt: controller.NewAttemptController(a.Core.AttemptService),
		health:  controller.NewHealthController(a.Core.DB, a.Core.Redis),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(a.ctx, cfg.RateLimit))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks() {
	if !a.Config.Sweeper.Enabled {
		logger.Log.Info("deadline sweeper disabled")
		return
	}
	a.Core.Sweeper.Start(a.ctx)
	a.RegisterConfigCallback(func(cfg *config.Config) {
		if cfg.Sweeper.Interval != a.Core.Sweeper.Interval() {
			a.Core.Sweeper.SetInterval(cfg.Sweeper.Interval)
			logger.Log.Info("sweep interval updated", zap.Duration("interval", cfg.Sweeper.Interval))
		}
	})
}

func NewApp(cfg *config.Config, configDir string) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	gin.SetMode(cfg.Server.Mode)

	core, err := NewCore(cfg, true)
	if err != nil {
		logger.Log.Fatal("Failed to initialize core components", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		Core:      core,
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.MigrateOnly {
		return app
	}

	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, app.initControllers(), cfg)
	app.startBackgroundTasks()

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:              ":" + a.Config.Server.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	go func() {
		if err := configwatcher.Watch(a.ctx, a.ConfigDir, a.applyConfig); err != nil {
			logger.Log.Warn("config hot reload unavailable", zap.Error(err))
		}
	}()

	// 等待中断信号优雅关闭（5 秒超时）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.Close()
	logger.Log.Info("Server exiting")
}

// Close 停止扫描任务并释放连接
func (a *App) Close() {
	a.Core.Sweeper.Stop()
	a.cancel()

	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	a.Core.Close()
	_ = logger.Log.Sync()
}
