package service

import (
	"context"
	"errors"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/repository"
	"exam_platform_backend/internal/util"
	"exam_platform_backend/pkg/logger"
	"exam_platform_backend/pkg/monitoring"
	"exam_platform_backend/pkg/tracing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// 条件写入失败后重新读取并判定的最大次数
const maxWriteRetries = 3

// AttemptService 管理作答的状态机：开始、保存答案、交卷、超时自动交卷。
// 所有写入都经由 AttemptStore 的条件更新，不加锁，并发冲突由版本号判定胜负。
type AttemptService struct {
	Attempts repository.AttemptStore
	Papers   repository.PaperCatalog
	Now      func() time.Time
}

func NewAttemptService(attempts repository.AttemptStore, papers repository.PaperCatalog) *AttemptService {
	return &AttemptService{
		Attempts: attempts,
		Papers:   papers,
		Now:      time.Now,
	}
}

func (s *AttemptService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Start 开始一次作答，复制试卷时长作为快照。
// 已有进行中的作答时返回该作答和 ErrActiveAttemptExists。
func (s *AttemptService) Start(ctx context.Context, userID, paperID uint) (*model.Attempt, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AttemptService.Start")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", int64(userID)), attribute.Int64("paper.id", int64(paperID)))

	paper, err := s.Papers.Get(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if paper.DurationSec <= 0 {
		return nil, util.ErrInvalidPaperDuration
	}

	existing, err := s.Attempts.FindActive(ctx, userID, paperID)
	if err == nil {
		return existing, util.ErrActiveAttemptExists
	}
	if !errors.Is(err, util.ErrAttemptNotFound) {
		return nil, err
	}

	now := s.now()
	deadline := model.DeadlineFor(now, paper.DurationSec)
	key := model.ActiveKeyFor(userID, paperID)
	attempt := &model.Attempt{
		UserID:      userID,
		PaperID:     paperID,
		Status:      model.AttemptInProgress,
		StartedAt:   now,
		DurationSec: paper.DurationSec,
		DeadlineAt:  &deadline,
		Answers:     model.Answers{},
		ActiveKey:   &key,
	}
	if err := s.Attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, util.ErrActiveAttemptExists) {
			// 并发开始时唯一索引兜底，返回胜出的那一条
			if winner, ferr := s.Attempts.FindActive(ctx, userID, paperID); ferr == nil {
				return winner, err
			}
		}
		return nil, err
	}

	monitoring.AttemptsStarted.Inc()
	logger.Log.Info("attempt started",
		zap.Uint("attempt_id", attempt.ID),
		zap.Uint("user_id", userID),
		zap.Uint("paper_id", paperID),
		zap.Time("deadline_at", deadline),
	)
	return attempt, nil
}

func (s *AttemptService) Get(ctx context.Context, attemptID uint) (*model.Attempt, error) {
	return s.Attempts.FindByID(ctx, attemptID)
}

// SaveAnswers 截止前暂存答案（与已有答案合并），超时自动交卷以暂存的答案计分
func (s *AttemptService) SaveAnswers(ctx context.Context, attemptID uint, answers model.Answers) (*model.Attempt, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AttemptService.SaveAnswers")
	defer span.End()
	span.SetAttributes(attribute.Int64("attempt.id", int64(attemptID)))

	for i := 0; ; i++ {
		attempt, err := s.Attempts.FindByID(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if err := checkWritable(attempt, now); err != nil {
			return attempt, err
		}
		if i == maxWriteRetries {
			return nil, util.ErrConcurrentUpdate
		}

		merged := attempt.Answers.Merge(answers)
		ok, err := s.Attempts.UpdateInProgress(ctx, attempt.ID, attempt.Version, repository.AttemptUpdate{
			Answers: merged,
			WriteAt: &now,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			attempt.Answers = merged
			attempt.Version++
			return attempt, nil
		}
		// 条件写入失败后重新读取：已结束、已超时或被并发写入抢先
	}
}

// Submit 用户交卷。仅当记录仍为 in_progress 且未超过截止时间时写入。
// 已结束时返回当前记录与 ErrAlreadyTerminal；超时返回 ErrDeadlineExceeded，由定时任务完成自动交卷。
func (s *AttemptService) Submit(ctx context.Context, attemptID uint, answers model.Answers) (*model.Attempt, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AttemptService.Submit")
	defer span.End()
	span.SetAttributes(attribute.Int64("attempt.id", int64(attemptID)))

	var paper *model.Paper
	for i := 0; ; i++ {
		attempt, err := s.Attempts.FindByID(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		if err := checkWritable(attempt, time.Time{}); err != nil {
			return attempt, err
		}
		if paper == nil {
			if paper, err = s.Papers.Get(ctx, attempt.PaperID); err != nil {
				return nil, err
			}
		}

		// 截止判定、交卷时间与条件写入使用同一时刻
		now := s.now()
		if err := checkWritable(attempt, now); err != nil {
			return attempt, err
		}
		if i == maxWriteRetries {
			return nil, util.ErrConcurrentUpdate
		}

		merged := attempt.Answers.Merge(answers)
		score := Score(paper, merged)
		ok, err := s.Attempts.UpdateInProgress(ctx, attempt.ID, attempt.Version, repository.AttemptUpdate{
			Status:      model.AttemptSubmitted,
			Answers:     merged,
			Score:       &score,
			SubmittedAt: &now,
			WriteAt:     &now,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			finalize(attempt, model.AttemptSubmitted, merged, score, now)
			monitoring.AttemptsFinalized.WithLabelValues(string(model.AttemptSubmitted)).Inc()
			logger.Log.Info("attempt submitted",
				zap.Uint("attempt_id", attempt.ID),
				zap.Int("score", score),
				zap.Int("max_score", paper.MaxScore()),
			)
			return attempt, nil
		}
		// 条件写入失败：被自动交卷、另一次提交或暂存抢先，或已超过截止时间，重新读取后判定
	}
}

// AutoSubmit 强制结束已到截止时间的作答，按当时已保存的答案计分。
// 已结束或尚未到期时不做任何修改，返回当前记录；closed 表示本次调用完成了结束操作。
func (s *AttemptService) AutoSubmit(ctx context.Context, attemptID uint) (*model.Attempt, bool, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AttemptService.AutoSubmit")
	defer span.End()
	span.SetAttributes(attribute.Int64("attempt.id", int64(attemptID)))

	for i := 0; i < maxWriteRetries; i++ {
		attempt, err := s.Attempts.FindByID(ctx, attemptID)
		if err != nil {
			return nil, false, err
		}
		if attempt.Status != model.AttemptInProgress {
			return attempt, false, nil
		}
		now := s.now()
		if !attempt.Overdue(now) {
			return attempt, false, nil
		}

		paper, err := s.Papers.Get(ctx, attempt.PaperID)
		if err != nil {
			return nil, false, err
		}

		answers := attempt.Answers.Clone()
		score := Score(paper, answers)
		ok, err := s.Attempts.UpdateInProgress(ctx, attempt.ID, attempt.Version, repository.AttemptUpdate{
			Status:      model.AttemptAutoSubmitted,
			Answers:     answers,
			Score:       &score,
			SubmittedAt: &now,
		})
		if err != nil {
			return nil, false, err
		}
		if ok {
			finalize(attempt, model.AttemptAutoSubmitted, answers, score, now)
			monitoring.AttemptsFinalized.WithLabelValues(string(model.AttemptAutoSubmitted)).Inc()
			logger.Log.Info("attempt auto-submitted",
				zap.Uint("attempt_id", attempt.ID),
				zap.Int("score", score),
				zap.Int("max_score", paper.MaxScore()),
				zap.Duration("overdue", now.Sub(*attempt.DeadlineAt)),
			)
			return attempt, true, nil
		}
	}
	return nil, false, util.ErrConcurrentUpdate
}

// checkWritable 用户侧写入（暂存/交卷）的前置判定；now 为零值时只判定状态
func checkWritable(attempt *model.Attempt, now time.Time) error {
	switch {
	case attempt.Status.IsTerminal():
		return util.ErrAlreadyTerminal
	case attempt.Status != model.AttemptInProgress:
		return util.ErrAttemptNotStarted
	case !now.IsZero() && attempt.HasDeadline() && now.After(*attempt.DeadlineAt):
		return util.ErrDeadlineExceeded
	}
	return nil
}

func finalize(a *model.Attempt, status model.AttemptStatus, answers model.Answers, score int, at time.Time) {
	a.Status = status
	a.Answers = answers
	a.Score = &score
	a.SubmittedAt = &at
	a.ActiveKey = nil
	a.Version++
}
