package database

import (
	"context"
	"exam_platform_backend/internal/config"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
)

// InitRedis 未配置 redis 时返回 nil, nil
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		log.Println("Redis not configured, using in-process fallbacks")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     50,
		MinIdleConns: 5,
	})

	ctx := context.Background()
	_, err := rdb.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}

	log.Println("Redis connection established")
	return rdb, nil
}
