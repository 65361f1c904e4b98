package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// OTPStateStore 验证码的冷却期与校验次数记录
type OTPStateStore interface {
	// Reserve 冷却期内再次申请返回 false；成功时重置校验次数
	Reserve(ctx context.Context, email string, cooldown, ttl time.Duration) (bool, error)
	// IncrAttempts 累加一次校验并返回累计次数
	IncrAttempts(ctx context.Context, email string, ttl time.Duration) (int, error)
	Purge(ctx context.Context, email string) error
	// Consume 标记令牌已使用，同一令牌第二次调用返回 false
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

type RedisOTPStore struct {
	Redis *redis.Client
}

func NewRedisOTPStore(rdb *redis.Client) *RedisOTPStore {
	return &RedisOTPStore{Redis: rdb}
}

func otpCooldownKey(email string) string { return "otp:cooldown:" + email }
func otpAttemptsKey(email string) string { return "otp:attempts:" + email }
func otpUsedKey(nonce string) string    { return "otp:used:" + nonce }

func (s *RedisOTPStore) Reserve(ctx context.Context, email string, cooldown, ttl time.Duration) (bool, error) {
	ok, err := s.Redis.SetNX(ctx, otpCooldownKey(email), "1", cooldown).Result()
	if err != nil || !ok {
		return false, err
	}
	if err := s.Redis.Set(ctx, otpAttemptsKey(email), 0, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisOTPStore) IncrAttempts(ctx context.Context, email string, ttl time.Duration) (int, error) {
	key := otpAttemptsKey(email)
	n, err := s.Redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// Reserve 未写入计数时（例如已过期）补上过期时间
	if n == 1 {
		if err := s.Redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

func (s *RedisOTPStore) Purge(ctx context.Context, email string) error {
	return s.Redis.Del(ctx, otpCooldownKey(email), otpAttemptsKey(email)).Err()
}

func (s *RedisOTPStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return s.Redis.SetNX(ctx, otpUsedKey(nonce), "1", ttl).Result()
}

// MemoryOTPStore 未配置 redis 时使用，仅适用于单实例
type MemoryOTPStore struct {
	Now func() time.Time

	mu      sync.Mutex
	records map[string]*otpRecord
	used    map[string]time.Time // nonce -> 过期时间
}

type otpRecord struct {
	cooldownUntil time.Time
	expiresAt     time.Time
	attempts      int
}

func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{
		Now:     time.Now,
		records: make(map[string]*otpRecord),
		used:    make(map[string]time.Time),
	}
}

func (s *MemoryOTPStore) Reserve(_ context.Context, email string, cooldown, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if r, ok := s.records[email]; ok && now.Before(r.cooldownUntil) {
		return false, nil
	}
	s.records[email] = &otpRecord{
		cooldownUntil: now.Add(cooldown),
		expiresAt:     now.Add(ttl),
	}
	s.gc(now)
	return true, nil
}

func (s *MemoryOTPStore) IncrAttempts(_ context.Context, email string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	r, ok := s.records[email]
	if !ok || !now.Before(r.expiresAt) {
		r = &otpRecord{expiresAt: now.Add(ttl)}
		s.records[email] = r
	}
	r.attempts++
	return r.attempts, nil
}

func (s *MemoryOTPStore) Purge(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
	return nil
}

func (s *MemoryOTPStore) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if until, ok := s.used[nonce]; ok && now.Before(until) {
		return false, nil
	}
	s.used[nonce] = now.Add(ttl)
	s.gc(now)
	return true, nil
}

// gc 清理过期且不在冷却期的记录，调用方持有锁
func (s *MemoryOTPStore) gc(now time.Time) {
	for email, r := range s.records {
		if !now.Before(r.expiresAt) && !now.Before(r.cooldownUntil) {
			delete(s.records, email)
		}
	}
	for nonce, until := range s.used {
		if !now.Before(until) {
			delete(s.used, nonce)
		}
	}
}
