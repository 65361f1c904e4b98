// Package testutil 测试用的数据库与数据构造工具
package testutil

import (
	"context"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/pkg/database"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewTestDB 每个测试独立的内存 sqlite 数据库
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// SeedPaper 创建一份试卷，answers 依次为每道题的正确答案，每题 1 分
func SeedPaper(t *testing.T, db *gorm.DB, durationSec int, answers ...string) *model.Paper {
	t.Helper()

	paper := &model.Paper{Title: "paper", DurationSec: durationSec}
	for i, a := range answers {
		paper.Questions = append(paper.Questions, model.PaperQuestion{
			Position:      i + 1,
			Content:       fmt.Sprintf("question %d", i+1),
			CorrectAnswer: a,
			Points:        1,
		})
	}
	if err := db.WithContext(context.Background()).Create(paper).Error; err != nil {
		t.Fatalf("seed paper: %v", err)
	}
	return paper
}

// SeedLegacyAttempt 构造没有时长快照的历史作答
func SeedLegacyAttempt(t *testing.T, db *gorm.DB, userID, paperID uint, status model.AttemptStatus, startedAt time.Time) *model.Attempt {
	t.Helper()

	a := &model.Attempt{
		UserID:    userID,
		PaperID:   paperID,
		Status:    status,
		StartedAt: startedAt,
		Answers:   model.Answers{},
	}
	if status == model.AttemptInProgress {
		key := model.ActiveKeyFor(userID, paperID)
		a.ActiveKey = &key
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("seed legacy attempt: %v", err)
	}
	return a
}

// Clock 可手动推进的时钟
type Clock struct {
	now atomic.Pointer[time.Time]
}

func NewClock(t time.Time) *Clock {
	c := &Clock{}
	c.Set(t)
	return c
}

func (c *Clock) Now() time.Time { return *c.now.Load() }

func (c *Clock) Set(t time.Time) { c.now.Store(&t) }

func (c *Clock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }
