package models

import (
	"time"

	"gorm.io/datatypes"
)

// EvaluationTask is one grading assignment for one exam instance. While a
// task is active (not completed) the (exam_id, active) pair is unique, so a
// racing duplicate creation fails at the constraint instead of producing two
// concurrent assignments.
type EvaluationTask struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	ExamID uint `json:"exam_id" gorm:"not null;uniqueIndex:idx_task_exam_active,where:active"`

	// Active mirrors "state != completed" for the partial unique index.
	Active bool `json:"active" gorm:"not null;default:true;uniqueIndex:idx_task_exam_active,where:active"`

	GraderID *string   `json:"grader_id" gorm:"index;size:255"`
	State    TaskState `json:"state" gorm:"not null;default:queued;index"`

	// RequiredOrdinals lists the subjective snapshot ordinals this task must
	// grade, stored as a JSON []int.
	RequiredOrdinals datatypes.JSON `json:"required_ordinals" gorm:"type:jsonb"`

	Deadline time.Time `json:"deadline" gorm:"not null;index"`
	Breached bool      `json:"breached" gorm:"not null;default:false;index"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AssignedAt *time.Time `json:"assigned_at"`

	// Relations
	Exam   *ExamInstance `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
	Grades []Grade       `json:"grades,omitempty" gorm:"foreignKey:TaskID"`
}

func (EvaluationTask) TableName() string {
	return "evaluation_tasks"
}

// Grade is a human grading decision for one subjective ordinal, kept distinct
// from the student's Answer so the raw submission and the decision are both
// preserved. Grades key on (task id, ordinal) and survive task re-queues.
type Grade struct {
	ID      uint `json:"id" gorm:"primaryKey"`
	TaskID  uint `json:"task_id" gorm:"not null;uniqueIndex:idx_grade_task_ordinal"`
	Ordinal int  `json:"ordinal" gorm:"not null;uniqueIndex:idx_grade_task_ordinal"`

	MarksAwarded float64 `json:"marks_awarded" gorm:"not null"`
	GraderID     string  `json:"grader_id" gorm:"not null;size:255"`
	Note         *string `json:"note" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Grade) TableName() string {
	return "grades"
}

// Grader is the local registry row for a person allowed to grade. Identity
// and role truth live in Casdoor; this row carries scheduling-relevant state.
// RegistrationSeq breaks assignment ties deterministically, earliest first.
type Grader struct {
	ID              string `json:"id" gorm:"primaryKey;size:255"`
	DisplayName     string `json:"display_name" gorm:"size:255"`
	Available       bool   `json:"available" gorm:"not null;default:true;index"`
	RegistrationSeq int64  `json:"registration_seq" gorm:"not null;autoIncrement;uniqueIndex"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Grader) TableName() string {
	return "graders"
}

// UsageCounter tracks how many exams a subject started in one billing period
// (period formatted as YYYY-MM). Incremented only through the conditional
// single-statement update in the repository, never read-modify-write.
type UsageCounter struct {
	SubjectID string `json:"subject_id" gorm:"primaryKey;size:255"`
	Period    string `json:"period" gorm:"primaryKey;size:7"`
	Count     int    `json:"count" gorm:"not null;default:0"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}

// UsagePeriod formats the billing period key for an instant.
func UsagePeriod(t time.Time) string {
	return t.Format("2006-01")
}
