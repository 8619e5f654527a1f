package services

import (
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
)

// scoreObjective evaluates one objective question all-or-nothing: full marks
// when the submitted keys are exactly the correct set, zero otherwise. Order
// and duplicate keys do not matter.
func scoreObjective(question models.SnapshotQuestion, selected []string) (marks float64, correct bool) {
	if question.Objective == nil {
		return 0, false
	}
	if sameKeySet(selected, question.Objective.CorrectKeys) {
		return question.Marks, true
	}
	return 0, false
}

func sameKeySet(a, b []string) bool {
	setA := make(map[string]bool, len(a))
	for _, k := range a {
		setA[k] = true
	}
	setB := make(map[string]bool, len(b))
	for _, k := range b {
		setB[k] = true
	}
	if len(setA) != len(setB) {
		return false
	}
	for k := range setA {
		if !setB[k] {
			return false
		}
	}
	return true
}

// buildScoreSummary derives the caller-facing score view from an instance.
// Composite and percentage are surfaced only once finalized; before that the
// summary reports how many subjective grades are still outstanding, so graded
// is the number of subjective ordinals already holding a grade.
func buildScoreSummary(exam *models.ExamInstance, questions []models.SnapshotQuestion, graded int) *ScoreSummary {
	summary := &ScoreSummary{
		ExamID:         exam.ID,
		State:          exam.State,
		ObjectiveScore: exam.ObjectiveScore,
		TotalPossible:  models.TotalMarks(questions),
		Final:          exam.ScoreFinal,
	}
	for _, q := range questions {
		if q.Type == models.QuestionSubjective {
			summary.SubjectiveOpen++
		}
	}
	summary.SubjectiveOpen -= graded
	if summary.SubjectiveOpen < 0 {
		summary.SubjectiveOpen = 0
	}
	if exam.ScoreFinal {
		summary.SubjectiveOpen = 0
		composite := exam.CompositeScore
		percentage := exam.Percentage
		summary.CompositeScore = &composite
		summary.Percentage = &percentage
	}
	return summary
}

// percentageOf guards against zero-mark templates.
func percentageOf(composite, totalPossible float64) float64 {
	if totalPossible <= 0 {
		return 0
	}
	return composite / totalPossible * 100
}
