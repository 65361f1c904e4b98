package service

import (
	"context"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/repository"
	"exam_platform_backend/pkg/logger"
	"exam_platform_backend/pkg/monitoring"
	"exam_platform_backend/pkg/tracing"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AutoSubmitter 由 AttemptService 实现
type AutoSubmitter interface {
	AutoSubmit(ctx context.Context, attemptID uint) (*model.Attempt, bool, error)
}

type SweepResult struct {
	Scanned int `json:"scanned"`
	Closed  int `json:"closed"`
	Failed  int `json:"failed"`
}

// DeadlineSweeper 定时扫描已超时但仍在进行中的作答并自动交卷。
// 单条失败只记录日志，不中断本轮扫描；多轮扫描重叠执行也是安全的。
type DeadlineSweeper struct {
	Attempts    repository.AttemptStore
	Submitter   AutoSubmitter
	Now         func() time.Time
	BatchSize   int
	Concurrency int
	ItemTimeout time.Duration

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	reset    chan struct{}
}

func NewDeadlineSweeper(attempts repository.AttemptStore, submitter AutoSubmitter, cfg config.SweeperConfig) *DeadlineSweeper {
	s := &DeadlineSweeper{
		Attempts:    attempts,
		Submitter:   submitter,
		Now:         time.Now,
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		ItemTimeout: cfg.ItemTimeout,
	}
	s.SetInterval(cfg.Interval)
	return s
}

// RunOnce 执行一轮扫描，返回本轮统计
func (s *DeadlineSweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "DeadlineSweeper.RunOnce")
	defer span.End()

	start := time.Now()
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	var scanned, closed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(s.Concurrency, 1))

	var scanErr error
	for attempt, err := range s.Attempts.Overdue(ctx, now, s.BatchSize) {
		if err != nil {
			scanErr = err
			break
		}
		scanned.Add(1)

		id := attempt.ID
		g.Go(func() error {
			itemCtx := ctx
			if s.ItemTimeout > 0 {
				var cancel context.CancelFunc
				itemCtx, cancel = context.WithTimeout(ctx, s.ItemTimeout)
				defer cancel()
			}

			_, ok, err := s.Submitter.AutoSubmit(itemCtx, id)
			if err != nil {
				failed.Add(1)
				monitoring.SweepItemFailures.Inc()
				logger.Log.Warn("auto-submit failed, skipping", zap.Uint("attempt_id", id), zap.Error(err))
				return nil
			}
			if ok {
				closed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := SweepResult{
		Scanned: int(scanned.Load()),
		Closed:  int(closed.Load()),
		Failed:  int(failed.Load()),
	}
	span.SetAttributes(
		attribute.Int("sweep.scanned", result.Scanned),
		attribute.Int("sweep.closed", result.Closed),
		attribute.Int("sweep.failed", result.Failed),
	)
	monitoring.SweepDuration.Observe(time.Since(start).Seconds())

	if scanErr != nil {
		monitoring.SweepRuns.WithLabelValues("error").Inc()
		logger.Log.Error("deadline sweep aborted", zap.Error(scanErr), zap.Int("closed", result.Closed))
		return result, scanErr
	}

	monitoring.SweepRuns.WithLabelValues("ok").Inc()
	if result.Scanned > 0 {
		logger.Log.Info("deadline sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("closed", result.Closed),
			zap.Int("failed", result.Failed),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return result, nil
}

// Start 启动后台定时扫描，启动时立即执行一轮。重复调用无效。
func (s *DeadlineSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.reset = make(chan struct{}, 1)

	go s.loop(ctx, s.interval, s.done, s.reset)
	logger.Log.Info("deadline sweeper started", zap.Duration("interval", s.interval))
}

// Stop 停止后台扫描并等待当前一轮结束
func (s *DeadlineSweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.reset = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Log.Info("deadline sweeper stopped")
}

// SetInterval 修改扫描间隔，运行中立即生效；非正值使用默认间隔
func (s *DeadlineSweeper) SetInterval(d time.Duration) {
	if d <= 0 {
		d = config.DefaultSweepInterval
	}

	s.mu.Lock()
	s.interval = d
	reset := s.reset
	s.mu.Unlock()

	if reset != nil {
		select {
		case reset <- struct{}{}:
		default:
		}
	}
}

func (s *DeadlineSweeper) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *DeadlineSweeper) loop(ctx context.Context, interval time.Duration, done chan<- struct{}, reset <-chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-reset:
			ticker.Reset(s.Interval())
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *DeadlineSweeper) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		logger.Log.Error("deadline sweep error", zap.Error(err))
	}
}
