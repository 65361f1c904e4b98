package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/util"
	"exam_platform_backend/pkg/logger"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const otpDigits = 6

// Mailer 验证码投递
type Mailer interface {
	SendOTP(ctx context.Context, email, code string) error
}

// LogMailer 将验证码写入日志，开发环境使用
type LogMailer struct{}

func (LogMailer) SendOTP(_ context.Context, email, code string) error {
	logger.Log.Info("otp issued", zap.String("email", email), zap.String("code", code))
	return nil
}

// OTPService 无状态签名令牌 + 冷却期/次数限制的邮箱验证码
type OTPService struct {
	Store  OTPStateStore
	Mailer Mailer
	Cfg    config.OTPConfig
	Now    func() time.Time

	secret []byte
}

type otpPayload struct {
	Email  string `json:"e"`
	Digest string `json:"d"`
	Expiry int64  `json:"x"`
	Nonce  string `json:"n"`
}

func NewOTPService(store OTPStateStore, mailer Mailer, cfg config.OTPConfig) *OTPService {
	return &OTPService{
		Store:  store,
		Mailer: mailer,
		Cfg:    cfg,
		Now:    time.Now,
		secret: []byte(cfg.Secret),
	}
}

// RequestChallenge 生成验证码并返回签名令牌
func (s *OTPService) RequestChallenge(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)

	ok, err := s.Store.Reserve(ctx, email, s.Cfg.Cooldown, s.Cfg.TTL)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", util.ErrOTPCooldown
	}

	code, err := generateOTP()
	if err != nil {
		return "", err
	}

	payload := otpPayload{
		Email:  email,
		Nonce:  uuid.New().String(),
		Expiry: s.Now().Add(s.Cfg.TTL).Unix(),
	}
	payload.Digest = s.digest(payload.Email, payload.Nonce, code)

	token, err := s.sign(payload)
	if err != nil {
		return "", err
	}

	if err := s.Mailer.SendOTP(ctx, email, code); err != nil {
		_ = s.Store.Purge(ctx, email)
		return "", fmt.Errorf("send otp: %w", err)
	}
	return token, nil
}

// Verify 校验令牌与验证码，成功返回邮箱。成功、过期或次数用尽时清除状态。
func (s *OTPService) Verify(ctx context.Context, token, code string) (string, error) {
	payload, err := s.parse(token)
	if err != nil {
		return "", err
	}

	if s.Now().Unix() > payload.Expiry {
		_ = s.Store.Purge(ctx, payload.Email)
		return "", util.ErrOTPExpired
	}

	attempts, err := s.Store.IncrAttempts(ctx, payload.Email, s.Cfg.TTL)
	if err != nil {
		return "", err
	}
	if attempts > s.Cfg.MaxAttempts {
		_ = s.Store.Purge(ctx, payload.Email)
		return "", util.ErrOTPAttemptsExceeded
	}

	expected := s.digest(payload.Email, payload.Nonce, strings.TrimSpace(code))
	if !hmac.Equal([]byte(expected), []byte(payload.Digest)) {
		if attempts == s.Cfg.MaxAttempts {
			_ = s.Store.Purge(ctx, payload.Email)
			return "", util.ErrOTPAttemptsExceeded
		}
		return "", util.ErrOTPMismatch
	}

	// 令牌在过期前只能使用一次
	fresh, err := s.Store.Consume(ctx, payload.Nonce, s.remaining(payload))
	if err != nil {
		return "", err
	}
	if !fresh {
		return "", util.ErrOTPUsed
	}

	if err := s.Store.Purge(ctx, payload.Email); err != nil {
		logger.Log.Warn("otp purge failed", zap.String("email", payload.Email), zap.Error(err))
	}
	return payload.Email, nil
}

// remaining 令牌剩余有效期，过期判定按秒取整，多留一秒
func (s *OTPService) remaining(p *otpPayload) time.Duration {
	d := time.Unix(p.Expiry+1, 0).Sub(s.Now())
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (s *OTPService) digest(email, nonce, code string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(email + "|" + nonce + "|" + code))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *OTPService) sign(p otpPayload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding.EncodeToString(body)
	return enc + "." + s.signature(enc), nil
}

func (s *OTPService) signature(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *OTPService) parse(token string) (*otpPayload, error) {
	enc, sig, ok := strings.Cut(token, ".")
	if !ok || enc == "" || sig == "" {
		return nil, util.ErrOTPInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(enc))) {
		return nil, util.ErrOTPInvalidToken
	}
	body, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return nil, util.ErrOTPInvalidToken
	}
	var p otpPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Email == "" || p.Nonce == "" {
		return nil, util.ErrOTPInvalidToken
	}
	return &p, nil
}

func generateOTP() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
