package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
)

// ===== REQUEST/RESPONSE DTOs =====

// AnswerInput is one answer as submitted by the examinee. SelectedKeys is
// used for objective questions, Text for subjective ones.
type AnswerInput struct {
	Ordinal      int      `json:"ordinal" validate:"required,min=1"`
	SelectedKeys []string `json:"selected_keys" validate:"omitempty,option_keys"`
	Text         *string  `json:"text" validate:"omitempty,max=20000"`
}

// ScoreSummary reports scoring progress for one exam instance. Composite and
// Percentage stay nil until every subjective question has a grade; Final is
// the explicit signal, a nil score is never a zero score.
type ScoreSummary struct {
	ExamID         uint             `json:"exam_id"`
	State          models.ExamState `json:"state"`
	ObjectiveScore float64          `json:"objective_score"`
	SubjectiveOpen int              `json:"subjective_open"`
	TotalPossible  float64          `json:"total_possible"`
	Final          bool             `json:"final"`
	CompositeScore *float64         `json:"composite_score,omitempty"`
	Percentage     *float64         `json:"percentage,omitempty"`
}

// SnapshotQuestionView is a snapshot question with its correct keys stripped.
type SnapshotQuestionView struct {
	Ordinal  int                 `json:"ordinal"`
	Section  string              `json:"section"`
	Type     models.QuestionType `json:"type"`
	Topic    string              `json:"topic"`
	Marks    float64             `json:"marks"`
	Text     string              `json:"text,omitempty"`
	Options  map[string]string   `json:"options,omitempty"`
	Prompt   string              `json:"prompt,omitempty"`
	MaxWords int                 `json:"max_words,omitempty"`
}

// ExamView is the examinee-facing projection of an instance.
type ExamView struct {
	ID          uint                   `json:"id"`
	SubjectID   string                 `json:"subject_id"`
	TemplateID  uint                   `json:"template_id"`
	State       models.ExamState       `json:"state"`
	Questions   []SnapshotQuestionView `json:"questions"`
	Score       *ScoreSummary          `json:"score,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	SubmittedAt *time.Time             `json:"submitted_at,omitempty"`
	GradedAt    *time.Time             `json:"graded_at,omitempty"`
}

// GraderQueueEntry is one pending task in a grader's queue.
type GraderQueueEntry struct {
	TaskID    uint             `json:"task_id"`
	ExamID    uint             `json:"exam_id"`
	State     models.TaskState `json:"state"`
	Deadline  time.Time        `json:"deadline"`
	Breached  bool             `json:"breached"`
	Ordinals  []int            `json:"ordinals"`
	CreatedAt time.Time        `json:"created_at"`
}

// ===== SERVICE INTERFACES =====

// ExamService owns the examinee-facing half of the lifecycle: instance
// creation from a template, answer submission and objective scoring.
type ExamService interface {
	StartExam(ctx context.Context, subjectID string, templateID uint) (*ExamView, error)
	BeginExam(ctx context.Context, examID uint, subjectID string) (*ExamView, error)
	SubmitObjectiveAnswers(ctx context.Context, examID uint, subjectID string, answers []AnswerInput) (*ScoreSummary, error)
	GetExam(ctx context.Context, examID uint, callerID string) (*ExamView, error)
}

// SchedulerService owns evaluation tasks: creation with a business-time
// deadline, deterministic assignment, SLA sweeps and grader queues.
type SchedulerService interface {
	Start(ctx context.Context) error
	Stop() error

	// Tick runs one sweep synchronously: flag deadline breaches, then
	// assign queued tasks to available graders.
	Tick(ctx context.Context) error

	RequestGradingAssignment(ctx context.Context, examID uint) (*models.EvaluationTask, error)
	StartTask(ctx context.Context, taskID uint, graderID string) (*models.EvaluationTask, error)
	GetGraderQueue(ctx context.Context, graderID string) ([]GraderQueueEntry, error)
	SetGraderAvailability(ctx context.Context, graderID string, available bool) error
}

// GradingService owns per-question grade capture and task completion.
type GradingService interface {
	SubmitGrade(ctx context.Context, taskID uint, graderID string, ordinal int, marks float64, note *string) (*models.Grade, error)
	CompleteGrading(ctx context.Context, taskID uint, graderID string) (*ScoreSummary, error)
}

// ServiceManager wires the services over one repository and controls their
// shared lifecycle.
type ServiceManager interface {
	Exam() ExamService
	Scheduler() SchedulerService
	Grading() GradingService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
