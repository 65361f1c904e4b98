package repository

import (
	"context"
	"errors"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/util"
	"fmt"

	"gorm.io/gorm"
)

// PaperCatalog 试卷只读查询（时长与题目答案）
type PaperCatalog interface {
	Get(ctx context.Context, id uint) (*model.Paper, error)
}

type PaperRepository struct {
	DB *gorm.DB
}

var _ PaperCatalog = (*PaperRepository)(nil)

func NewPaperRepository(db *gorm.DB) *PaperRepository {
	return &PaperRepository{DB: db}
}

func (r *PaperRepository) Get(ctx context.Context, id uint) (*model.Paper, error) {
	var p model.Paper
	err := r.DB.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrPaperNotFound
		}
		return nil, fmt.Errorf("find paper %d: %w", id, err)
	}
	return &p, nil
}

func (r *PaperRepository) Create(ctx context.Context, paper *model.Paper) error {
	return r.DB.WithContext(ctx).Create(paper).Error
}

// UpdateDuration 管理端修改试卷时长；已开始的作答使用自己的快照，不受影响
func (r *PaperRepository) UpdateDuration(ctx context.Context, id uint, durationSec int) error {
	res := r.DB.WithContext(ctx).Model(&model.Paper{}).Where("id = ?", id).Update("duration_sec", durationSec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrPaperNotFound
	}
	return nil
}
