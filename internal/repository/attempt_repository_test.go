package repository

import (
	"context"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/testutil"
	"exam_platform_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newActiveAttempt(userID, paperID uint, durationSec int) *model.Attempt {
	key := model.ActiveKeyFor(userID, paperID)
	deadline := model.DeadlineFor(t0, durationSec)
	return &model.Attempt{
		UserID:      userID,
		PaperID:     paperID,
		Status:      model.AttemptInProgress,
		StartedAt:   t0,
		DurationSec: durationSec,
		DeadlineAt:  &deadline,
		Answers:     model.Answers{},
		ActiveKey:   &key,
	}
}

// stores 同一组用例同时覆盖数据库实现与内存实现
func stores(t *testing.T) map[string]AttemptStore {
	return map[string]AttemptStore{
		"gorm":   NewAttemptRepository(testutil.NewTestDB(t)),
		"memory": NewMemoryAttemptStore(),
	}
}

func TestCreateEnforcesSingleActiveAttempt(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := newActiveAttempt(1, 1, 60)
			require.NoError(t, store.Create(ctx, first))
			assert.NotZero(t, first.ID)

			err := store.Create(ctx, newActiveAttempt(1, 1, 60))
			assert.ErrorIs(t, err, util.ErrActiveAttemptExists)

			active, err := store.FindActive(ctx, 1, 1)
			require.NoError(t, err)
			assert.Equal(t, first.ID, active.ID)

			_, err = store.FindActive(ctx, 1, 2)
			assert.ErrorIs(t, err, util.ErrAttemptNotFound)

			_, err = store.FindByID(ctx, 999)
			assert.ErrorIs(t, err, util.ErrAttemptNotFound)
		})
	}
}

func TestUpdateInProgressIsConditional(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := newActiveAttempt(1, 1, 60)
			require.NoError(t, store.Create(ctx, a))

			ok, err := store.UpdateInProgress(ctx, a.ID, a.Version, AttemptUpdate{Answers: model.Answers{1: "a"}})
			require.NoError(t, err)
			require.True(t, ok)

			// 过期版本号写入失败
			ok, err = store.UpdateInProgress(ctx, a.ID, a.Version, AttemptUpdate{Answers: model.Answers{1: "b"}})
			require.NoError(t, err)
			assert.False(t, ok)

			score := 3
			at := t0.Add(30 * time.Second)
			ok, err = store.UpdateInProgress(ctx, a.ID, a.Version+1, AttemptUpdate{
				Status:      model.AttemptSubmitted,
				Answers:     model.Answers{1: "a"},
				Score:       &score,
				SubmittedAt: &at,
			})
			require.NoError(t, err)
			require.True(t, ok)

			got, err := store.FindByID(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, model.AttemptSubmitted, got.Status)
			assert.Equal(t, 3, *got.Score)
			assert.True(t, got.SubmittedAt.Equal(at))
			assert.Equal(t, model.Answers{1: "a"}, got.Answers)
			assert.Equal(t, 2, got.Version)
			assert.Nil(t, got.ActiveKey)

			// 终态不可再写
			ok, err = store.UpdateInProgress(ctx, a.ID, got.Version, AttemptUpdate{Answers: model.Answers{1: "z"}})
			require.NoError(t, err)
			assert.False(t, ok)

			// 释放占位后可以再开始
			require.NoError(t, store.Create(ctx, newActiveAttempt(1, 1, 60)))
		})
	}
}

func TestUpdateInProgressRejectsWritesAfterDeadline(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := newActiveAttempt(1, 1, 60)
			require.NoError(t, store.Create(ctx, a))

			late := t0.Add(61 * time.Second)
			ok, err := store.UpdateInProgress(ctx, a.ID, a.Version, AttemptUpdate{
				Answers: model.Answers{1: "a"},
				WriteAt: &late,
			})
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := store.FindByID(ctx, a.ID)
			require.NoError(t, err)
			assert.Empty(t, got.Answers)
			assert.Equal(t, a.Version, got.Version)

			// 恰好在截止时刻写入有效
			onTime := t0.Add(60 * time.Second)
			score := 1
			ok, err = store.UpdateInProgress(ctx, a.ID, a.Version, AttemptUpdate{
				Status:      model.AttemptSubmitted,
				Answers:     model.Answers{1: "a"},
				Score:       &score,
				SubmittedAt: &onTime,
				WriteAt:     &onTime,
			})
			require.NoError(t, err)
			assert.True(t, ok)

			// 没有截止时间的历史记录不受限制
			legacy := &model.Attempt{UserID: 2, PaperID: 1, Status: model.AttemptInProgress, StartedAt: t0}
			require.NoError(t, store.Create(ctx, legacy))
			ok, err = store.UpdateInProgress(ctx, legacy.ID, legacy.Version, AttemptUpdate{
				Answers: model.Answers{1: "a"},
				WriteAt: &late,
			})
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestSetDurationIfMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			legacy := &model.Attempt{UserID: 1, PaperID: 1, Status: model.AttemptInProgress, StartedAt: t0}
			require.NoError(t, store.Create(ctx, legacy))
			timed := newActiveAttempt(2, 1, 60)
			require.NoError(t, store.Create(ctx, timed))

			deadline := t0.Add(time.Hour)
			ok, err := store.SetDurationIfMissing(ctx, legacy.ID, 3600, deadline)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.SetDurationIfMissing(ctx, legacy.ID, 10, t0)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = store.SetDurationIfMissing(ctx, timed.ID, 10, t0)
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := store.FindByID(ctx, legacy.ID)
			require.NoError(t, err)
			assert.Equal(t, 3600, got.DurationSec)
			assert.True(t, got.DeadlineAt.Equal(deadline))
			assert.Equal(t, 1, got.Version)

			got, err = store.FindByID(ctx, timed.ID)
			require.NoError(t, err)
			assert.Equal(t, 60, got.DurationSec)
		})
	}
}

func TestOverdueIteratesInBatches(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var want []uint
			for user := uint(1); user <= 5; user++ {
				a := newActiveAttempt(user, 1, 60)
				require.NoError(t, store.Create(ctx, a))
				want = append(want, a.ID)
			}
			require.NoError(t, store.Create(ctx, newActiveAttempt(9, 1, 7200)))
			require.NoError(t, store.Create(ctx, &model.Attempt{UserID: 10, PaperID: 1, Status: model.AttemptInProgress, StartedAt: t0}))

			var got []uint
			for a, err := range store.Overdue(ctx, t0.Add(60*time.Second), 2) {
				require.NoError(t, err)
				got = append(got, a.ID)
			}
			assert.Equal(t, want, got)

			// 提前退出
			n := 0
			for range store.Overdue(ctx, t0.Add(time.Hour), 2) {
				n++
				if n == 3 {
					break
				}
			}
			assert.Equal(t, 3, n)
		})
	}
}

func TestMissingDurationScope(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			open := &model.Attempt{UserID: 1, PaperID: 1, Status: model.AttemptInProgress, StartedAt: t0}
			closed := &model.Attempt{UserID: 2, PaperID: 1, Status: model.AttemptSubmitted, StartedAt: t0}
			require.NoError(t, store.Create(ctx, open))
			require.NoError(t, store.Create(ctx, closed))
			require.NoError(t, store.Create(ctx, newActiveAttempt(3, 1, 60)))

			collect := func(includeClosed bool) []uint {
				var ids []uint
				for a, err := range store.MissingDuration(ctx, includeClosed, 10) {
					require.NoError(t, err)
					ids = append(ids, a.ID)
				}
				return ids
			}
			assert.Equal(t, []uint{open.ID}, collect(false))
			assert.Equal(t, []uint{open.ID, closed.ID}, collect(true))
		})
	}
}

func TestScanStopsOnCancelledContext(t *testing.T) {
	store := NewAttemptRepository(testutil.NewTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range store.Overdue(ctx, t0, 10) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestPaperRepositoryOrdersQuestions(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	repo := NewPaperRepository(db)

	paper := &model.Paper{Title: "p", DurationSec: 60, Questions: []model.PaperQuestion{
		{Position: 2, CorrectAnswer: "b"},
		{Position: 1, CorrectAnswer: "a"},
	}}
	require.NoError(t, repo.Create(ctx, paper))

	got, err := repo.Get(ctx, paper.ID)
	require.NoError(t, err)
	require.Len(t, got.Questions, 2)
	assert.Equal(t, "a", got.Questions[0].CorrectAnswer)
	assert.Equal(t, "b", got.Questions[1].CorrectAnswer)

	require.NoError(t, repo.UpdateDuration(ctx, paper.ID, 120))
	got, err = repo.Get(ctx, paper.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, got.DurationSec)

	assert.ErrorIs(t, repo.UpdateDuration(ctx, 999, 1), util.ErrPaperNotFound)
	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, util.ErrPaperNotFound)
}

func TestUserFindOrCreate(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db)

	u1, err := repo.FindOrCreateByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	u2, err := repo.FindOrCreateByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
	assert.Equal(t, model.Student, u2.Role)

	require.NoError(t, repo.UpdateLastLogin(ctx, u1.ID, t0))
	var stored model.User
	require.NoError(t, db.First(&stored, u1.ID).Error)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, stored.LastLoginAt.Equal(t0))

	_, err = repo.FindByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, util.ErrUserNotFound)
}
