package model

// Paper 试卷，时长可被管理端修改，已开始的作答不受影响
type Paper struct {
	BaseModel

	Title       string          `gorm:"size:255;not null" json:"title"`
	DurationSec int             `gorm:"default:0" json:"durationSec"` // 考试时长（秒），管理端可随时修改
	Questions   []PaperQuestion `gorm:"foreignKey:PaperID" json:"questions,omitempty"`
}

func (Paper) TableName() string {
	return "papers"
}

// PaperQuestion 试卷题目，按 Position 排序
type PaperQuestion struct {
	BaseModel

	PaperID       uint   `gorm:"index;type:bigint unsigned" json:"paperId"`
	Position      int    `gorm:"default:0" json:"position"`
	Content       string `gorm:"type:text" json:"content"`
	CorrectAnswer string `gorm:"size:255" json:"-"`
	Points        int    `gorm:"default:1" json:"points"`
}

func (PaperQuestion) TableName() string {
	return "paper_questions"
}

// MaxScore 满分
func (p *Paper) MaxScore() int {
	total := 0
	for _, q := range p.Questions {
		total += q.EffectivePoints()
	}
	return total
}

func (q PaperQuestion) EffectivePoints() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}
