package app

import (
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/repository"
	"exam_platform_backend/internal/service"
	"exam_platform_backend/pkg/database"
	"exam_platform_backend/pkg/logger"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Core HTTP 服务与运维命令共用的作答生命周期组件
type Core struct {
	DB    *gorm.DB
	Redis *redis.Client

	Users    *repository.UserRepository
	Attempts repository.AttemptStore
	Papers   repository.PaperCatalog

	AttemptService *service.AttemptService
	Sweeper        *service.DeadlineSweeper
	Backfill       *service.DurationBackfill
}

// NewCore 连接数据库与 redis（可选）并组装服务；migrate 为 true 时先建表
func NewCore(cfg *config.Config, migrate bool) (*Core, error) {
	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if migrate {
		if err := database.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	c := &Core{
		DB:       db,
		Redis:    rdb,
		Users:    repository.NewUserRepository(db),
		Attempts: repository.NewAttemptRepository(db),
	}

	var papers repository.PaperCatalog = repository.NewPaperRepository(db)
	if rdb != nil {
		papers = repository.NewCachedPaperCatalog(papers, rdb, cfg.Paper.CacheTTL)
		logger.Log.Info("paper cache enabled", zap.Duration("ttl", cfg.Paper.CacheTTL))
	}
	c.Papers = papers

	c.AttemptService = service.NewAttemptService(c.Attempts, c.Papers)
	c.Sweeper = service.NewDeadlineSweeper(c.Attempts, c.AttemptService, cfg.Sweeper)
	c.Backfill = service.NewDurationBackfill(c.Attempts, c.Papers, cfg.Backfill)
	return c, nil
}

func (c *Core) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// NewOTPStore redis 可用时共享验证码状态，否则使用进程内存
func (c *Core) NewOTPStore() service.OTPStateStore {
	if c.Redis != nil {
		return service.NewRedisOTPStore(c.Redis)
	}
	return service.NewMemoryOTPStore()
}
