package service

import (
	"exam_platform_backend/internal/model"
	"strings"
)

// Score 按试卷答案计分：逐题比对，未作答、答案为空或题目不在试卷中的均计 0 分
func Score(paper *model.Paper, answers model.Answers) int {
	if paper == nil {
		return 0
	}
	total := 0
	for _, q := range paper.Questions {
		given, ok := answers[q.ID]
		if !ok {
			continue
		}
		key := normalizeAnswer(q.CorrectAnswer)
		if key == "" {
			continue
		}
		if normalizeAnswer(given) == key {
			total += q.EffectivePoints()
		}
	}
	return total
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
