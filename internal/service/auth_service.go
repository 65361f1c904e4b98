package service

import (
	"context"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/repository"
	"exam_platform_backend/internal/util"
	"exam_platform_backend/pkg/logger"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthService struct {
	UserRepo *repository.UserRepository
	OTP      *OTPService
	Cfg      *config.Config
}

func NewAuthService(userRepo *repository.UserRepository, otp *OTPService, cfg *config.Config) *AuthService {
	return &AuthService{
		UserRepo: userRepo,
		OTP:      otp,
		Cfg:      cfg,
	}
}

// RequestOTP 向邮箱发送验证码，返回后续校验使用的令牌
func (s *AuthService) RequestOTP(ctx context.Context, email string) (string, error) {
	return s.OTP.RequestChallenge(ctx, email)
}

// LoginWithOTP 校验验证码，首次登录自动创建账号，返回 JWT
func (s *AuthService) LoginWithOTP(ctx context.Context, token, code string) (string, *model.User, error) {
	email, err := s.OTP.Verify(ctx, token, code)
	if err != nil {
		return "", nil, err
	}

	user, err := s.UserRepo.FindOrCreateByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	if err := s.UserRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		logger.Log.Warn("update last login failed", zap.Uint("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	jwt, err := util.GenerateJWT(user, s.Cfg.JWT)
	if err != nil {
		return "", nil, err
	}
	return jwt, user, nil
}

func (s *AuthService) GetCurrentUser(c *gin.Context) *util.Claims {
	return util.GetUserFromContext(c)
}
