package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type AttemptStatus string

const (
	AttemptNotStarted    AttemptStatus = "not_started"
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptSubmitted     AttemptStatus = "submitted"
	AttemptAutoSubmitted AttemptStatus = "auto_submitted"
)

// IsTerminal 已交卷（手动或自动）后记录不可再修改
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptSubmitted || s == AttemptAutoSubmitted
}

type Attempt struct {
	BaseModel

	UserID      uint          `gorm:"type:bigint unsigned;index:idx_attempts_owner,priority:1" json:"userId"`
	PaperID     uint          `gorm:"type:bigint unsigned;index:idx_attempts_owner,priority:2" json:"paperId"`
	Status      AttemptStatus `gorm:"size:20;not null;index:idx_attempts_sweep,priority:1;index:idx_attempts_owner,priority:3" json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	DurationSec int           `gorm:"default:0" json:"durationSec"` // 开始时从试卷复制的时长快照
	DeadlineAt  *time.Time    `gorm:"index:idx_attempts_sweep,priority:2" json:"deadlineAt,omitempty"`
	Answers     Answers       `gorm:"type:text" json:"answers"`
	SubmittedAt *time.Time    `json:"submittedAt,omitempty"`
	Score       *int          `json:"score,omitempty"`

	// Version 每次写入递增，条件更新以 status + version 作为期望值
	Version int `gorm:"not null;default:0" json:"version"`
	// ActiveKey 进行中时为 "userId:paperId"，结束后置空；唯一索引保证同一用户同一试卷只有一个进行中的作答
	ActiveKey *string `gorm:"size:64;uniqueIndex" json:"-"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// HasDeadline 历史数据可能没有时长快照，此时没有截止时间
func (a *Attempt) HasDeadline() bool {
	return a.DurationSec > 0 && a.DeadlineAt != nil
}

// Overdue now 是否已到截止时间（含等于）
func (a *Attempt) Overdue(now time.Time) bool {
	return a.HasDeadline() && !now.Before(*a.DeadlineAt)
}

// Clone 返回深拷贝，内存存储与调用方之间不共享可变字段
func (a *Attempt) Clone() *Attempt {
	c := *a
	c.Answers = a.Answers.Clone()
	if a.DeadlineAt != nil {
		t := *a.DeadlineAt
		c.DeadlineAt = &t
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		c.SubmittedAt = &t
	}
	if a.Score != nil {
		s := *a.Score
		c.Score = &s
	}
	if a.ActiveKey != nil {
		k := *a.ActiveKey
		c.ActiveKey = &k
	}
	return &c
}

func ActiveKeyFor(userID, paperID uint) string {
	return fmt.Sprintf("%d:%d", userID, paperID)
}

func DeadlineFor(startedAt time.Time, durationSec int) time.Time {
	return startedAt.Add(time.Duration(durationSec) * time.Second)
}

// Answers questionId -> 选项
type Answers map[uint]string

func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge 返回合并后的新答案，next 覆盖已有答案
func (a Answers) Merge(next Answers) Answers {
	out := a.Clone()
	for k, v := range next {
		out[k] = v
	}
	return out
}

func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Answers) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = Answers{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported answers column type")
	}
	if len(raw) == 0 {
		*a = Answers{}
		return nil
	}
	out := Answers{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*a = out
	return nil
}
