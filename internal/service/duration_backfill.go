package service

import (
	"context"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/repository"
	"exam_platform_backend/pkg/logger"
	"exam_platform_backend/pkg/monitoring"

	"go.uber.org/zap"
)

type BackfillResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// DurationBackfill 为缺少时长快照的历史作答补写时长和截止时间。
// 只写入 duration_sec 为 0 的记录，重复执行不会修改已修复的数据。
type DurationBackfill struct {
	Attempts      repository.AttemptStore
	Papers        repository.PaperCatalog
	BatchSize     int
	IncludeClosed bool
}

func NewDurationBackfill(attempts repository.AttemptStore, papers repository.PaperCatalog, cfg config.BackfillConfig) *DurationBackfill {
	return &DurationBackfill{
		Attempts:      attempts,
		Papers:        papers,
		BatchSize:     cfg.BatchSize,
		IncludeClosed: cfg.IncludeClosed,
	}
}

func (b *DurationBackfill) Run(ctx context.Context) (BackfillResult, error) {
	var res BackfillResult
	// 同一次执行内每份试卷只查询一次
	durations := make(map[uint]int)

	for attempt, err := range b.Attempts.MissingDuration(ctx, b.IncludeClosed, b.BatchSize) {
		if err != nil {
			logger.Log.Error("duration backfill aborted", zap.Error(err), zap.Int("updated", res.Updated))
			return res, err
		}
		res.Scanned++

		if attempt.DurationSec > 0 {
			res.Skipped++
			continue
		}

		duration, ok := durations[attempt.PaperID]
		if !ok {
			paper, err := b.Papers.Get(ctx, attempt.PaperID)
			if err != nil {
				res.Failed++
				logger.Log.Warn("backfill: load paper failed",
					zap.Uint("attempt_id", attempt.ID),
					zap.Uint("paper_id", attempt.PaperID),
					zap.Error(err),
				)
				continue
			}
			duration = paper.DurationSec
			durations[attempt.PaperID] = duration
		}

		if duration <= 0 {
			res.Skipped++
			logger.Log.Warn("backfill: paper has no usable duration",
				zap.Uint("attempt_id", attempt.ID),
				zap.Uint("paper_id", attempt.PaperID),
				zap.Int("duration_sec", duration),
			)
			continue
		}

		updated, err := b.Attempts.SetDurationIfMissing(ctx, attempt.ID, duration, model.DeadlineFor(attempt.StartedAt, duration))
		if err != nil {
			res.Failed++
			logger.Log.Warn("backfill: update attempt failed", zap.Uint("attempt_id", attempt.ID), zap.Error(err))
			continue
		}
		if !updated {
			res.Skipped++
			continue
		}
		res.Updated++
		monitoring.BackfillUpdated.Inc()
	}

	logger.Log.Info("duration backfill finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}
