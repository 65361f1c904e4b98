package repository

import (
	"context"
	"encoding/json"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/pkg/logger"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const paperCacheKeyPrefix = "paper:"

// CachedPaperCatalog 在 redis 中缓存试卷的时长与答案，缓存异常时直接回源
type CachedPaperCatalog struct {
	Source PaperCatalog
	Redis  *redis.Client
	TTL    time.Duration
}

var _ PaperCatalog = (*CachedPaperCatalog)(nil)

func NewCachedPaperCatalog(source PaperCatalog, rdb *redis.Client, ttl time.Duration) *CachedPaperCatalog {
	return &CachedPaperCatalog{Source: source, Redis: rdb, TTL: ttl}
}

// 缓存结构单独定义：model.PaperQuestion 的答案字段不参与 JSON 序列化
type cachedPaper struct {
	ID          uint             `json:"id"`
	Title       string           `json:"title"`
	DurationSec int              `json:"durationSec"`
	Questions   []cachedQuestion `json:"questions"`
}

type cachedQuestion struct {
	ID            uint   `json:"id"`
	Position      int    `json:"position"`
	CorrectAnswer string `json:"correctAnswer"`
	Points        int    `json:"points"`
}

func paperCacheKey(id uint) string {
	return fmt.Sprintf("%s%d", paperCacheKeyPrefix, id)
}

func (c *CachedPaperCatalog) Get(ctx context.Context, id uint) (*model.Paper, error) {
	key := paperCacheKey(id)
	raw, err := c.Redis.Get(ctx, key).Bytes()
	if err == nil {
		var cp cachedPaper
		if err := json.Unmarshal(raw, &cp); err == nil {
			return cp.toModel(), nil
		}
		logger.Log.Warn("paper cache entry corrupted", zap.Uint("paper_id", id))
	} else if err != redis.Nil {
		logger.Log.Warn("paper cache read failed", zap.Uint("paper_id", id), zap.Error(err))
	}

	paper, err := c.Source.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if buf, err := json.Marshal(fromModel(paper)); err == nil {
		if err := c.Redis.Set(ctx, key, buf, c.TTL).Err(); err != nil {
			logger.Log.Warn("paper cache write failed", zap.Uint("paper_id", id), zap.Error(err))
		}
	}
	return paper, nil
}

func fromModel(p *model.Paper) cachedPaper {
	cp := cachedPaper{ID: p.ID, Title: p.Title, DurationSec: p.DurationSec}
	for _, q := range p.Questions {
		cp.Questions = append(cp.Questions, cachedQuestion{
			ID:            q.ID,
			Position:      q.Position,
			CorrectAnswer: q.CorrectAnswer,
			Points:        q.Points,
		})
	}
	return cp
}

func (cp cachedPaper) toModel() *model.Paper {
	p := &model.Paper{Title: cp.Title, DurationSec: cp.DurationSec}
	p.ID = cp.ID
	for _, q := range cp.Questions {
		mq := model.PaperQuestion{
			PaperID:       cp.ID,
			Position:      q.Position,
			CorrectAnswer: q.CorrectAnswer,
			Points:        q.Points,
		}
		mq.ID = q.ID
		p.Questions = append(p.Questions, mq)
	}
	return p
}
