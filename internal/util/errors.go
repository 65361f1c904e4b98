package util

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPaperNotFound        = errors.New("paper not found")
	ErrInvalidPaperDuration = errors.New("paper duration must be positive")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrActiveAttemptExists  = errors.New("an attempt for this paper is already in progress")
	ErrDeadlineExceeded     = errors.New("deadline exceeded")
	ErrAlreadyTerminal      = errors.New("attempt already submitted")
	ErrConcurrentUpdate     = errors.New("attempt was modified concurrently")
	ErrAttemptNotStarted    = errors.New("attempt not started")

	ErrOTPCooldown         = errors.New("verification code requested too frequently")
	ErrOTPInvalidToken     = errors.New("invalid verification token")
	ErrOTPExpired          = errors.New("verification code expired")
	ErrOTPMismatch         = errors.New("verification code mismatch")
	ErrOTPAttemptsExceeded = errors.New("too many verification attempts")
	ErrOTPUsed             = errors.New("verification code already used")
)
