package repository

import (
	"context"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/util"
	"iter"
	"slices"
	"sync"
	"time"
)

// MemoryAttemptStore 进程内实现，条件写入语义与 AttemptRepository 一致。
// 用于未接数据库的单机运行和服务层测试。
type MemoryAttemptStore struct {
	mu       sync.Mutex
	nextID   uint
	attempts map[uint]*model.Attempt
	active   map[string]uint
}

var _ AttemptStore = (*MemoryAttemptStore)(nil)

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts: make(map[uint]*model.Attempt),
		active:   make(map[string]uint),
	}
}

func (s *MemoryAttemptStore) Create(_ context.Context, attempt *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt.ActiveKey != nil {
		if _, ok := s.active[*attempt.ActiveKey]; ok {
			return util.ErrActiveAttemptExists
		}
	}

	s.nextID++
	attempt.ID = s.nextID
	now := time.Now()
	attempt.CreatedAt, attempt.UpdatedAt = now, now
	if attempt.Answers == nil {
		attempt.Answers = model.Answers{}
	}

	s.attempts[attempt.ID] = attempt.Clone()
	if attempt.ActiveKey != nil {
		s.active[*attempt.ActiveKey] = attempt.ID
	}
	return nil
}

func (s *MemoryAttemptStore) FindByID(_ context.Context, id uint) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, util.ErrAttemptNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryAttemptStore) FindActive(_ context.Context, userID, paperID uint) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[model.ActiveKeyFor(userID, paperID)]
	if !ok {
		return nil, util.ErrAttemptNotFound
	}
	return s.attempts[id].Clone(), nil
}

func (s *MemoryAttemptStore) UpdateInProgress(_ context.Context, id uint, version int, upd AttemptUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok || a.Status != model.AttemptInProgress || a.Version != version {
		return false, nil
	}
	if !upd.acceptsAt(a.DeadlineAt) {
		return false, nil
	}

	a.Answers = upd.Answers.Clone()
	a.Version++
	a.UpdatedAt = time.Now()
	if upd.finalizes() {
		a.Status = upd.Status
		if upd.Score != nil {
			score := *upd.Score
			a.Score = &score
		}
		if upd.SubmittedAt != nil {
			at := *upd.SubmittedAt
			a.SubmittedAt = &at
		}
		if a.ActiveKey != nil {
			delete(s.active, *a.ActiveKey)
			a.ActiveKey = nil
		}
	}
	return true, nil
}

func (s *MemoryAttemptStore) SetDurationIfMissing(_ context.Context, id uint, durationSec int, deadlineAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok || a.DurationSec != 0 {
		return false, nil
	}
	a.DurationSec = durationSec
	a.DeadlineAt = &deadlineAt
	a.Version++
	a.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryAttemptStore) Overdue(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*model.Attempt, error] {
	return s.scan(ctx, batchSize, func(a *model.Attempt) bool {
		return a.Status == model.AttemptInProgress && a.DeadlineAt != nil && !a.DeadlineAt.After(now)
	})
}

func (s *MemoryAttemptStore) MissingDuration(ctx context.Context, includeClosed bool, batchSize int) iter.Seq2[*model.Attempt, error] {
	return s.scan(ctx, batchSize, func(a *model.Attempt) bool {
		return a.DurationSec == 0 && (includeClosed || a.Status == model.AttemptInProgress)
	})
}

// scan 与数据库实现一样按 id 游标分批取快照，批次之间释放锁
func (s *MemoryAttemptStore) scan(ctx context.Context, batchSize int, match func(*model.Attempt) bool) iter.Seq2[*model.Attempt, error] {
	if batchSize <= 0 {
		batchSize = defaultScanBatch
	}
	return func(yield func(*model.Attempt, error) bool) {
		var lastID uint
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			batch := s.batchAfter(lastID, batchSize, match)
			for _, a := range batch {
				if !yield(a, nil) {
					return
				}
			}
			if len(batch) < batchSize {
				return
			}
			lastID = batch[len(batch)-1].ID
		}
	}
}

func (s *MemoryAttemptStore) batchAfter(lastID uint, limit int, match func(*model.Attempt) bool) []*model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint, 0, len(s.attempts))
	for id, a := range s.attempts {
		if id > lastID && match(a) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*model.Attempt, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.attempts[id].Clone())
	}
	return out
}

// MemoryPaperCatalog 进程内试卷目录
type MemoryPaperCatalog struct {
	mu     sync.RWMutex
	papers map[uint]*model.Paper
}

var _ PaperCatalog = (*MemoryPaperCatalog)(nil)

func NewMemoryPaperCatalog(papers ...*model.Paper) *MemoryPaperCatalog {
	c := &MemoryPaperCatalog{papers: make(map[uint]*model.Paper)}
	for _, p := range papers {
		c.Put(p)
	}
	return c
}

func (c *MemoryPaperCatalog) Get(_ context.Context, id uint) (*model.Paper, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.papers[id]
	if !ok {
		return nil, util.ErrPaperNotFound
	}
	cp := *p
	cp.Questions = slices.Clone(p.Questions)
	return &cp, nil
}

// Put 新增或替换试卷
func (c *MemoryPaperCatalog) Put(p *model.Paper) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *p
	cp.Questions = slices.Clone(p.Questions)
	c.papers[p.ID] = &cp
}
