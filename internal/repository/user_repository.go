package repository

import (
	"context"
	"errors"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindOrCreateByEmail 首次登录时创建学生账号；并发创建冲突时回读
func (r *UserRepository) FindOrCreateByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.FindByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, util.ErrUserNotFound) {
		return nil, err
	}

	user = &model.User{Email: email, Role: model.Student}
	if err := r.DB.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.FindByEmail(ctx, email)
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id uint, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("last_login_at", at).Error
}
