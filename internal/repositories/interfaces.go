package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	State      *models.ExamState `json:"state"`
	SubjectID  *string           `json:"subject_id"`
	TemplateID *uint             `json:"template_id"`
	DateFrom   *time.Time        `json:"date_from"`
	DateTo     *time.Time        `json:"date_to"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	SortBy     string            `json:"sort_by"`    // "created_at", "submitted_at", "state"
	SortOrder  string            `json:"sort_order"` // "asc", "desc"
}

type TaskFilters struct {
	State    *models.TaskState `json:"state"`
	GraderID *string           `json:"grader_id"`
	Breached *bool             `json:"breached"`
	DateFrom *time.Time        `json:"date_from"`
	DateTo   *time.Time        `json:"date_to"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type PoolFilters struct {
	Type       *models.QuestionType    `json:"type"`
	Topic      *string                 `json:"topic"`
	Difficulty *models.DifficultyLevel `json:"difficulty"`
	ExcludeIDs []uint                  `json:"exclude_ids"`
}

// GraderLoad pairs a grader with the live count of tasks currently assigned
// to or in progress with them.
type GraderLoad struct {
	Grader      models.Grader `json:"grader"`
	ActiveTasks int           `json:"active_tasks"`
}

// ===== EXAM DOMAIN =====

type ExamRepository interface {
	Create(ctx context.Context, exam *models.ExamInstance) error
	GetByID(ctx context.Context, id uint) (*models.ExamInstance, error)
	List(ctx context.Context, filters ExamFilters) ([]*models.ExamInstance, int64, error)

	// UpdateState moves the lifecycle state and stamps the matching
	// timestamp. The snapshot is never touched.
	UpdateState(ctx context.Context, id uint, state models.ExamState, at time.Time) error

	// UpdateObjectiveScore records the auto-graded portion at submission.
	UpdateObjectiveScore(ctx context.Context, id uint, score float64) error

	// FinalizeScores writes the composite once grading completes and marks
	// the score final.
	FinalizeScores(ctx context.Context, id uint, subjective, composite, percentage float64, at time.Time) error
}

type AnswerRepository interface {
	CreateBatch(ctx context.Context, answers []*models.Answer) error
	GetByExam(ctx context.Context, examID uint) ([]*models.Answer, error)
	GetByExamAndOrdinal(ctx context.Context, examID uint, ordinal int) (*models.Answer, error)
}

// ===== EVALUATION DOMAIN =====

type TaskRepository interface {
	Create(ctx context.Context, task *models.EvaluationTask) error
	GetByID(ctx context.Context, id uint) (*models.EvaluationTask, error)
	GetActiveByExam(ctx context.Context, examID uint) (*models.EvaluationTask, error)
	List(ctx context.Context, filters TaskFilters) ([]*models.EvaluationTask, int64, error)

	UpdateState(ctx context.Context, id uint, state models.TaskState) error

	// Assign sets the grader and moves queued -> assigned.
	Assign(ctx context.Context, id uint, graderID string, at time.Time) error

	// Requeue returns a task to queued with no grader; grades are untouched.
	Requeue(ctx context.Context, id uint) error

	// Complete marks the task completed, clears the active and breached
	// flags, and releases the per-exam uniqueness slot.
	Complete(ctx context.Context, id uint) error

	// ListQueued returns queued tasks ordered earliest deadline first.
	ListQueued(ctx context.Context) ([]*models.EvaluationTask, error)

	// ListByGrader returns a grader's open tasks ordered earliest deadline
	// first.
	ListByGrader(ctx context.Context, graderID string) ([]*models.EvaluationTask, error)

	// ListActiveByGrader returns ids of tasks assigned to or in progress
	// with a grader.
	ListActiveByGrader(ctx context.Context, graderID string) ([]*models.EvaluationTask, error)

	// MarkBreaches flags every non-completed task whose deadline precedes
	// now and is not yet flagged, returning the newly flagged tasks. Safe to
	// run redundantly.
	MarkBreaches(ctx context.Context, now time.Time) ([]*models.EvaluationTask, error)
}

type GradeRepository interface {
	// Upsert creates or replaces the grade for (task, ordinal).
	Upsert(ctx context.Context, grade *models.Grade) error
	GetByTask(ctx context.Context, taskID uint) ([]*models.Grade, error)
	CountByTask(ctx context.Context, taskID uint) (int64, error)
}

type GraderRepository interface {
	GetByID(ctx context.Context, id string) (*models.Grader, error)
	Register(ctx context.Context, grader *models.Grader) error
	SetAvailability(ctx context.Context, id string, available bool) error

	// ListAvailableWithLoad returns available graders with their live active
	// task counts, ordered by registration sequence so ties break
	// deterministically.
	ListAvailableWithLoad(ctx context.Context) ([]GraderLoad, error)
}

// ===== QUESTION POOL (read-only) =====

type PoolRepository interface {
	GetTemplate(ctx context.Context, id uint) (*models.ExamTemplate, error)
	ListActiveQuestions(ctx context.Context, filters PoolFilters) ([]*models.PoolQuestion, error)
}

// ===== USAGE ACCOUNTING =====

type UsageRepository interface {
	// IncrementIfBelow atomically increments the subject's counter for the
	// period only while it is below limit, as one conditional statement.
	// Returns false when the ceiling is reached.
	IncrementIfBelow(ctx context.Context, subjectID, period string, limit int) (bool, error)

	GetCount(ctx context.Context, subjectID, period string) (int, error)
}
