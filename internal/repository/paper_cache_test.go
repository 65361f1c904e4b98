package repository

import (
	"context"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/util"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCatalog 统计回源次数
type countingCatalog struct {
	next  PaperCatalog
	calls atomic.Int64
}

func (c *countingCatalog) Get(ctx context.Context, id uint) (*model.Paper, error) {
	c.calls.Add(1)
	return c.next.Get(ctx, id)
}

func seededCatalog() *MemoryPaperCatalog {
	p := &model.Paper{Title: "algebra", DurationSec: 1800}
	p.ID = 1
	q := model.PaperQuestion{PaperID: 1, Position: 1, CorrectAnswer: "c", Points: 2}
	q.ID = 11
	p.Questions = []model.PaperQuestion{q}
	return NewMemoryPaperCatalog(p)
}

func TestCachedPaperCatalogReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	source := &countingCatalog{next: seededCatalog()}
	cache := NewCachedPaperCatalog(source, rdb, time.Minute)
	ctx := context.Background()

	first, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	second, err := cache.Get(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), source.calls.Load())
	assert.True(t, mr.Exists(paperCacheKey(1)))
	assert.Equal(t, 1800, second.DurationSec)
	require.Len(t, second.Questions, 1)
	// 答案字段必须随缓存保留，否则计分全部为 0
	assert.Equal(t, "c", second.Questions[0].CorrectAnswer)
	assert.Equal(t, uint(11), second.Questions[0].ID)
	assert.Equal(t, 2, second.Questions[0].Points)
	assert.Equal(t, first.Questions[0].CorrectAnswer, second.Questions[0].CorrectAnswer)

	mr.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.calls.Load())
}

func TestCachedPaperCatalogNotFoundIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cache := NewCachedPaperCatalog(seededCatalog(), rdb, time.Minute)
	_, err := cache.Get(context.Background(), 404)
	assert.ErrorIs(t, err, util.ErrPaperNotFound)
	assert.False(t, mr.Exists(paperCacheKey(404)))
}

func TestCachedPaperCatalogFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	cache := NewCachedPaperCatalog(seededCatalog(), rdb, time.Minute)
	p, err := cache.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1800, p.DurationSec)
}

func TestCachedPaperCatalogIgnoresCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	require.NoError(t, mr.Set(paperCacheKey(1), "{not json"))

	cache := NewCachedPaperCatalog(seededCatalog(), rdb, time.Minute)
	p, err := cache.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "algebra", p.Title)
}

func TestMemoryPaperCatalogReturnsCopies(t *testing.T) {
	c := seededCatalog()
	p, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	p.Questions[0].CorrectAnswer = "mutated"
	p.DurationSec = 1

	again, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "c", again.Questions[0].CorrectAnswer)
	assert.Equal(t, 1800, again.DurationSec)
}
