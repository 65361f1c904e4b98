package repository

import (
	"context"
	"exam_platform_backend/internal/model"
	"iter"
	"time"
)

// AttemptStore 作答记录的持久化接口。
// 除条件写入外不包含任何业务规则：所有修改都要求记录仍处于 in_progress 且版本号未变。
type AttemptStore interface {
	Create(ctx context.Context, attempt *model.Attempt) error
	FindByID(ctx context.Context, id uint) (*model.Attempt, error)
	FindActive(ctx context.Context, userID, paperID uint) (*model.Attempt, error)

	// UpdateInProgress 仅当 status = in_progress 且 version 等于期望值时写入，返回是否写入成功。
	// upd.WriteAt 非空时还要求截止时间为空或不早于 WriteAt
	UpdateInProgress(ctx context.Context, id uint, version int, upd AttemptUpdate) (bool, error)

	// SetDurationIfMissing 仅当 duration_sec 为 0 时写入时长快照与截止时间
	SetDurationIfMissing(ctx context.Context, id uint, durationSec int, deadlineAt time.Time) (bool, error)

	// Overdue 按批次惰性遍历 deadline_at <= now 的进行中作答
	Overdue(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*model.Attempt, error]

	// MissingDuration 按批次惰性遍历缺少时长快照的作答
	MissingDuration(ctx context.Context, includeClosed bool, batchSize int) iter.Seq2[*model.Attempt, error]
}

// AttemptUpdate 一次条件写入的内容。Status 为终态时同时写入分数与交卷时间。
type AttemptUpdate struct {
	Status      model.AttemptStatus
	Answers     model.Answers
	Score       *int
	SubmittedAt *time.Time

	// WriteAt 用户侧写入的时刻，超过截止时间的写入不生效；自动交卷不设置
	WriteAt *time.Time
}

func (u AttemptUpdate) finalizes() bool {
	return u.Status.IsTerminal()
}

// acceptsAt 内存实现与 SQL 条件 (deadline_at IS NULL OR deadline_at >= ?) 保持一致
func (u AttemptUpdate) acceptsAt(deadline *time.Time) bool {
	return u.WriteAt == nil || deadline == nil || !u.WriteAt.After(*deadline)
}
