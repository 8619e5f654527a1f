package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/cache"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
)

type TaskPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewTaskPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.TaskRepository {
	return &TaskPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// Create inserts a new task. The partial unique index over (exam_id, active)
// makes concurrent creations for the same exam race safely: the loser gets a
// duplicate key error.
func (t *TaskPostgreSQL) Create(ctx context.Context, task *models.EvaluationTask) error {
	if err := t.db.WithContext(ctx).Create(task).Error; err != nil {
		return err
	}
	return nil
}

func (t *TaskPostgreSQL) GetByID(ctx context.Context, id uint) (*models.EvaluationTask, error) {
	cacheKey := fmt.Sprintf("id:%d", id)
	var task models.EvaluationTask

	err := t.cacheManager.Task.CacheOrExecute(ctx, cacheKey, &task, cache.TaskCacheConfig.TTL, func() (interface{}, error) {
		var dbTask models.EvaluationTask
		if err := t.db.WithContext(ctx).First(&dbTask, id).Error; err != nil {
			return nil, err
		}
		return &dbTask, nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (t *TaskPostgreSQL) GetActiveByExam(ctx context.Context, examID uint) (*models.EvaluationTask, error) {
	var task models.EvaluationTask
	if err := t.db.WithContext(ctx).
		Where("exam_id = ? AND active = ?", examID, true).
		First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (t *TaskPostgreSQL) List(ctx context.Context, filters repositories.TaskFilters) ([]*models.EvaluationTask, int64, error) {
	var tasks []*models.EvaluationTask
	var total int64

	query := t.db.WithContext(ctx).Model(&models.EvaluationTask{})
	query = t.helpers.ApplyTaskFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("deadline ASC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (t *TaskPostgreSQL) UpdateState(ctx context.Context, id uint, state models.TaskState) error {
	result := t.db.WithContext(ctx).
		Model(&models.EvaluationTask{}).
		Where("id = ?", id).
		Update("state", state)
	if result.Error != nil {
		return fmt.Errorf("failed to update task state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	t.invalidate(ctx, id)
	return nil
}

// Assign only succeeds while the task is still queued, so a racing double
// assignment loses on the state predicate instead of overwriting.
func (t *TaskPostgreSQL) Assign(ctx context.Context, id uint, graderID string, at time.Time) error {
	result := t.db.WithContext(ctx).
		Model(&models.EvaluationTask{}).
		Where("id = ? AND state = ?", id, models.TaskQueued).
		Updates(map[string]interface{}{
			"grader_id":   graderID,
			"state":       models.TaskAssigned,
			"assigned_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to assign task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	t.invalidate(ctx, id)
	cache.InvalidateQueueCache(ctx, t.cacheManager, graderID)
	return nil
}

// Requeue returns a task to the queue with no grader. Grade rows key on the
// task id and are untouched, so partial grading survives reassignment.
func (t *TaskPostgreSQL) Requeue(ctx context.Context, id uint) error {
	result := t.db.WithContext(ctx).
		Model(&models.EvaluationTask{}).
		Where("id = ? AND state IN ?", id, []models.TaskState{models.TaskAssigned, models.TaskInProgress}).
		Updates(map[string]interface{}{
			"grader_id":   nil,
			"state":       models.TaskQueued,
			"assigned_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to requeue task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	t.invalidate(ctx, id)
	return nil
}

// Complete ends the task: terminal state, breach flag cleared, and the
// active flag dropped so the exam's uniqueness slot frees up.
func (t *TaskPostgreSQL) Complete(ctx context.Context, id uint) error {
	result := t.db.WithContext(ctx).
		Model(&models.EvaluationTask{}).
		Where("id = ? AND state = ?", id, models.TaskInProgress).
		Updates(map[string]interface{}{
			"state":    models.TaskCompleted,
			"active":   false,
			"breached": false,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	t.invalidate(ctx, id)
	return nil
}

func (t *TaskPostgreSQL) ListQueued(ctx context.Context) ([]*models.EvaluationTask, error) {
	var tasks []*models.EvaluationTask
	if err := t.db.WithContext(ctx).
		Where("state = ?", models.TaskQueued).
		Order("deadline ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list queued tasks: %w", err)
	}
	return tasks, nil
}

func (t *TaskPostgreSQL) ListByGrader(ctx context.Context, graderID string) ([]*models.EvaluationTask, error) {
	cacheKey := fmt.Sprintf("grader:%s", graderID)
	var tasks []*models.EvaluationTask

	err := t.cacheManager.Queue.CacheOrExecute(ctx, cacheKey, &tasks, cache.QueueCacheConfig.TTL, func() (interface{}, error) {
		var dbTasks []*models.EvaluationTask
		if err := t.db.WithContext(ctx).
			Where("grader_id = ? AND state IN ?", graderID, []models.TaskState{models.TaskAssigned, models.TaskInProgress}).
			Order("deadline ASC, id ASC").
			Find(&dbTasks).Error; err != nil {
			return nil, err
		}
		return dbTasks, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for grader %s: %w", graderID, err)
	}
	return tasks, nil
}

func (t *TaskPostgreSQL) ListActiveByGrader(ctx context.Context, graderID string) ([]*models.EvaluationTask, error) {
	var tasks []*models.EvaluationTask
	if err := t.db.WithContext(ctx).
		Where("grader_id = ? AND state IN ?", graderID, []models.TaskState{models.TaskAssigned, models.TaskInProgress}).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list active tasks for grader %s: %w", graderID, err)
	}
	return tasks, nil
}

// MarkBreaches flags every overdue, not yet flagged task in one conditional
// UPDATE and returns the flagged rows via RETURNING. The slice must be the
// statement's model so the returned rows scan into it; a chained Find would
// re-run the WHERE clause, which the updated rows no longer match. Running
// the sweep twice flags nothing new.
func (t *TaskPostgreSQL) MarkBreaches(ctx context.Context, now time.Time) ([]*models.EvaluationTask, error) {
	var flagged []*models.EvaluationTask
	err := t.db.WithContext(ctx).
		Model(&flagged).
		Clauses(clause.Returning{}).
		Where("state <> ? AND breached = ? AND deadline < ?", models.TaskCompleted, false, now).
		Update("breached", true).Error
	if err != nil {
		return nil, fmt.Errorf("failed to mark breaches: %w", err)
	}

	for _, task := range flagged {
		t.invalidate(ctx, task.ID)
	}
	return flagged, nil
}

func (t *TaskPostgreSQL) invalidate(ctx context.Context, id uint) {
	cache.InvalidateTaskCache(ctx, t.cacheManager, id, nil)
}

type GradePostgreSQL struct {
	db *gorm.DB
}

func NewGradePostgreSQL(db *gorm.DB, _ *redis.Client) repositories.GradeRepository {
	return &GradePostgreSQL{db: db}
}

// Upsert writes the grade for (task, ordinal), replacing marks, grader, and
// note when the grader revises a decision.
func (g *GradePostgreSQL) Upsert(ctx context.Context, grade *models.Grade) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "ordinal"}},
			DoUpdates: clause.AssignmentColumns([]string{"marks_awarded", "grader_id", "note", "updated_at"}),
		}).
		Create(grade).Error
	if err != nil {
		return fmt.Errorf("failed to upsert grade: %w", err)
	}
	return nil
}

func (g *GradePostgreSQL) GetByTask(ctx context.Context, taskID uint) ([]*models.Grade, error) {
	var grades []*models.Grade
	if err := g.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("ordinal ASC").
		Find(&grades).Error; err != nil {
		return nil, fmt.Errorf("failed to get grades for task %d: %w", taskID, err)
	}
	return grades, nil
}

func (g *GradePostgreSQL) CountByTask(ctx context.Context, taskID uint) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.Grade{}).
		Where("task_id = ?", taskID).
		Count(&count).Error
	return count, err
}
