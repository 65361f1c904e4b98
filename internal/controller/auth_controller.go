package controller

import (
	"errors"
	"exam_platform_backend/internal/service"
	"exam_platform_backend/internal/util"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AuthController struct {
	AuthService *service.AuthService
}

func NewAuthController(authService *service.AuthService) *AuthController {
	return &AuthController{AuthService: authService}
}

// OTPRequest 申请邮箱验证码
type OTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// OTPVerifyRequest 校验邮箱验证码
type OTPVerifyRequest struct {
	Token string `json:"token" binding:"required"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

// RequestOTP godoc
// @Summary 发送邮箱验证码
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body OTPRequest true "邮箱"
// @Success 200 {object} util.Response{data=object} "token"
// @Failure 429 {object} util.Response "请求过于频繁"
// @Router /api/auth/otp/request [post]
func (c *AuthController) RequestOTP(ctx *gin.Context) {
	var req OTPRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	token, err := c.AuthService.RequestOTP(ctx.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, util.ErrOTPCooldown) {
			util.TooManyRequests(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"token": token})
}

// VerifyOTP godoc
// @Summary 验证码登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body OTPVerifyRequest true "令牌与验证码"
// @Success 200 {object} util.Response{data=object} "jwt"
// @Failure 401 {object} util.Response "验证码错误或已过期"
// @Router /api/auth/otp/verify [post]
func (c *AuthController) VerifyOTP(ctx *gin.Context) {
	var req OTPVerifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	token, user, err := c.AuthService.LoginWithOTP(ctx.Request.Context(), req.Token, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrOTPAttemptsExceeded):
			util.TooManyRequests(ctx, err.Error())
		case errors.Is(err, util.ErrOTPInvalidToken),
			errors.Is(err, util.ErrOTPExpired),
			errors.Is(err, util.ErrOTPMismatch),
			errors.Is(err, util.ErrOTPUsed):
			util.Error(ctx, http.StatusUnauthorized, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, gin.H{"token": token, "user": user})
}
