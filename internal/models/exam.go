package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// ExamInstance is the central aggregate: one student's concrete attempt
// generated from a template. The snapshot is written once at creation and
// never rewritten; only score fields and state change afterwards. Rows are
// never deleted.
type ExamInstance struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	SubjectID  string `json:"subject_id" gorm:"not null;index;size:255" validate:"required"`
	TemplateID uint   `json:"template_id" gorm:"not null;index"`

	// Snapshot holds the full []SnapshotQuestion materialized at creation,
	// including correct keys, so later pool edits never change a taken exam.
	// The key must marshal: cached reads rehydrate instances through JSON,
	// and API responses go through ExamView which strips correct keys.
	Snapshot datatypes.JSON `json:"snapshot" gorm:"type:jsonb;not null"`

	State ExamState `json:"state" gorm:"not null;default:created;index"`

	// Score fields. Composite and Percentage carry no meaning until
	// ScoreFinal is true; callers must check the flag, not the values.
	ObjectiveScore  float64 `json:"objective_score"`
	SubjectiveScore float64 `json:"subjective_score"`
	CompositeScore  float64 `json:"composite_score"`
	Percentage      float64 `json:"percentage"`
	ScoreFinal      bool    `json:"score_final" gorm:"default:false"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	GradedAt    *time.Time `json:"graded_at"`

	// Relations
	Template *ExamTemplate `json:"template,omitempty" gorm:"foreignKey:TemplateID"`
	Answers  []Answer      `json:"answers,omitempty" gorm:"foreignKey:ExamID"`
}

func (ExamInstance) TableName() string {
	return "exam_instances"
}

// DecodeSnapshot unmarshals the frozen question list.
func (e *ExamInstance) DecodeSnapshot() ([]SnapshotQuestion, error) {
	var questions []SnapshotQuestion
	if err := json.Unmarshal(e.Snapshot, &questions); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for exam %d: %w", e.ID, err)
	}
	return questions, nil
}

// EncodeSnapshot serializes the question list for storage.
func EncodeSnapshot(questions []SnapshotQuestion) (datatypes.JSON, error) {
	data, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// HasSubjective reports whether any snapshot question requires human grading.
func HasSubjective(questions []SnapshotQuestion) bool {
	for _, q := range questions {
		if q.Type == QuestionSubjective {
			return true
		}
	}
	return false
}

// SubjectiveOrdinals returns the ordinals a grader must grade, in order.
func SubjectiveOrdinals(questions []SnapshotQuestion) []int {
	var ordinals []int
	for _, q := range questions {
		if q.Type == QuestionSubjective {
			ordinals = append(ordinals, q.Ordinal)
		}
	}
	return ordinals
}

// TotalMarks sums the marks possible across the snapshot.
func TotalMarks(questions []SnapshotQuestion) float64 {
	total := 0.0
	for _, q := range questions {
		total += q.Marks
	}
	return total
}

// Answer is one response to one snapshot ordinal. Objective answers carry the
// derived correctness and marks; both are immutable after submission. What a
// human decided about a subjective answer lives in Grade, never here.
type Answer struct {
	ID      uint `json:"id" gorm:"primaryKey"`
	ExamID  uint `json:"exam_id" gorm:"not null;uniqueIndex:idx_exam_ordinal"`
	Ordinal int  `json:"ordinal" gorm:"not null;uniqueIndex:idx_exam_ordinal"`

	// Submitted holds the raw response: []string of option keys for
	// objective ordinals, a JSON string for subjective text.
	Submitted datatypes.JSON `json:"submitted" gorm:"type:jsonb"`

	IsCorrect    *bool   `json:"is_correct"`
	MarksAwarded float64 `json:"marks_awarded"`

	CreatedAt time.Time `json:"created_at"`
}

func (Answer) TableName() string {
	return "answers"
}

// SubmittedKeys decodes an objective answer's selected option keys.
func (a *Answer) SubmittedKeys() ([]string, error) {
	var keys []string
	if err := json.Unmarshal(a.Submitted, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode submitted keys for answer %d: %w", a.ID, err)
	}
	return keys, nil
}
