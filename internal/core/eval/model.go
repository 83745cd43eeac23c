package eval

import (
	"github.com/google/uuid"
)

// Case はラベル付きの評価ケース
type Case struct {
	ID                string      `json:"id"`
	Question          string      `json:"question"`
	ExpectedAnswer    string      `json:"expectedAnswer"`
	ExpectedSourceIDs []uuid.UUID `json:"expectedSourceIds"`
}

// CaseResult は1ケースの評価結果
type CaseResult struct {
	CaseID            string      `json:"caseId"`
	Question          string      `json:"question"`
	ExpectedAnswer    string      `json:"expectedAnswer"`
	GeneratedAnswer   string      `json:"generatedAnswer"`
	RecallHit         bool        `json:"recallHit"`
	JudgeScore        float64     `json:"judgeScore"`
	RetrievedChunkIDs []uuid.UUID `json:"retrievedChunkIds"`
	Error             string      `json:"error,omitempty"` // ケース単位の失敗理由
}

// Summary は評価セット全体の集計
type Summary struct {
	RecallAtK      float64      `json:"recallAtK"`
	AnswerAccuracy float64      `json:"answerAccuracy"`
	KValue         int          `json:"kValue"`
	Total          int          `json:"total"`
	Details        []CaseResult `json:"perCaseDetails"`
}

// Summarize はケース結果から recall@k と平均スコアを計算する
func Summarize(results []CaseResult, k int) Summary {
	s := Summary{
		KValue:  k,
		Total:   len(results),
		Details: results,
	}
	if len(results) == 0 {
		return s
	}

	hits := 0
	scoreSum := 0.0
	for _, r := range results {
		if r.RecallHit {
			hits++
		}
		scoreSum += r.JudgeScore
	}
	s.RecallAtK = float64(hits) / float64(len(results))
	s.AnswerAccuracy = scoreSum / float64(len(results))
	return s
}

// RecallHit は期待ソースのいずれかが検索結果に含まれるかを返す
// 期待ソースが空のケースは照合対象がないため常に false とする
func RecallHit(expected, retrieved []uuid.UUID) bool {
	if len(expected) == 0 {
		return false
	}
	want := make(map[uuid.UUID]struct{}, len(expected))
	for _, id := range expected {
		want[id] = struct{}{}
	}
	for _, id := range retrieved {
		if _, ok := want[id]; ok {
			return true
		}
	}
	return false
}
