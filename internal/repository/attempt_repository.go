package repository

import (
	"context"
	"errors"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/util"
	"fmt"
	"iter"
	"time"

	"gorm.io/gorm"
)

const defaultScanBatch = 200

type AttemptRepository struct {
	DB *gorm.DB
}

var _ AttemptStore = (*AttemptRepository)(nil)

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *model.Attempt) error {
	if err := r.DB.WithContext(ctx).Create(attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return util.ErrActiveAttemptExists
		}
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) FindByID(ctx context.Context, id uint) (*model.Attempt, error) {
	var a model.Attempt
	if err := r.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("find attempt %d: %w", id, err)
	}
	return &a, nil
}

func (r *AttemptRepository) FindActive(ctx context.Context, userID, paperID uint) (*model.Attempt, error) {
	var a model.Attempt
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND paper_id = ? AND status = ?", userID, paperID, model.AttemptInProgress).
		Order("id DESC").
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("find active attempt: %w", err)
	}
	return &a, nil
}

func (r *AttemptRepository) UpdateInProgress(ctx context.Context, id uint, version int, upd AttemptUpdate) (bool, error) {
	answers := upd.Answers
	if answers == nil {
		answers = model.Answers{}
	}
	updates := map[string]interface{}{
		"answers": answers,
		"version": gorm.Expr("version + 1"),
	}
	if upd.finalizes() {
		updates["status"] = upd.Status
		updates["score"] = upd.Score
		updates["submitted_at"] = upd.SubmittedAt
		// 释放唯一占位，允许再次开始
		updates["active_key"] = nil
	}

	q := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("id = ? AND status = ? AND version = ?", id, model.AttemptInProgress, version)
	if upd.WriteAt != nil {
		q = q.Where("(deadline_at IS NULL OR deadline_at >= ?)", *upd.WriteAt)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update attempt %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *AttemptRepository) SetDurationIfMissing(ctx context.Context, id uint, durationSec int, deadlineAt time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("id = ? AND (duration_sec = 0 OR duration_sec IS NULL)", id).
		Updates(map[string]interface{}{
			"duration_sec": durationSec,
			"deadline_at":  deadlineAt,
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("set duration for attempt %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *AttemptRepository) Overdue(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*model.Attempt, error] {
	return r.scan(ctx, batchSize, func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND deadline_at IS NOT NULL AND deadline_at <= ?", model.AttemptInProgress, now)
	})
}

func (r *AttemptRepository) MissingDuration(ctx context.Context, includeClosed bool, batchSize int) iter.Seq2[*model.Attempt, error] {
	return r.scan(ctx, batchSize, func(q *gorm.DB) *gorm.DB {
		q = q.Where("(duration_sec = 0 OR duration_sec IS NULL)")
		if !includeClosed {
			q = q.Where("status = ?", model.AttemptInProgress)
		}
		return q
	})
}

// scan 以 id 为游标分批读取，每批独立查询，不长时间占用连接；
// 遍历中被修改而不再满足条件的记录不会影响后续批次。
func (r *AttemptRepository) scan(ctx context.Context, batchSize int, filter func(*gorm.DB) *gorm.DB) iter.Seq2[*model.Attempt, error] {
	if batchSize <= 0 {
		batchSize = defaultScanBatch
	}
	return func(yield func(*model.Attempt, error) bool) {
		var lastID uint
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var batch []model.Attempt
			q := filter(r.DB.WithContext(ctx).Model(&model.Attempt{}))
			err := q.Where("id > ?", lastID).Order("id ASC").Limit(batchSize).Find(&batch).Error
			if err != nil {
				yield(nil, fmt.Errorf("scan attempts after %d: %w", lastID, err))
				return
			}

			for i := range batch {
				if !yield(&batch[i], nil) {
					return
				}
			}
			if len(batch) < batchSize {
				return
			}
			lastID = batch[len(batch)-1].ID
		}
	}
}
