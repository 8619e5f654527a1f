package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/cache"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
)

type ExamPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewExamPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ExamRepository {
	return &ExamPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (e *ExamPostgreSQL) Create(ctx context.Context, exam *models.ExamInstance) error {
	if err := e.db.WithContext(ctx).Create(exam).Error; err != nil {
		return fmt.Errorf("failed to create exam instance: %w", err)
	}
	return nil
}

func (e *ExamPostgreSQL) GetByID(ctx context.Context, id uint) (*models.ExamInstance, error) {
	cacheKey := fmt.Sprintf("id:%d", id)
	var exam models.ExamInstance

	err := e.cacheManager.Exam.CacheOrExecute(ctx, cacheKey, &exam, cache.ExamCacheConfig.TTL, func() (interface{}, error) {
		var dbExam models.ExamInstance
		if err := e.db.WithContext(ctx).First(&dbExam, id).Error; err != nil {
			return nil, err
		}
		return &dbExam, nil
	})
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (e *ExamPostgreSQL) List(ctx context.Context, filters repositories.ExamFilters) ([]*models.ExamInstance, int64, error) {
	var exams []*models.ExamInstance
	var total int64

	query := e.db.WithContext(ctx).Model(&models.ExamInstance{})
	query = e.helpers.ApplyExamFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = e.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&exams).Error; err != nil {
		return nil, 0, err
	}

	return exams, total, nil
}

// UpdateState writes the new state and stamps the matching timestamp. Score
// and snapshot columns are deliberately outside the update set.
func (e *ExamPostgreSQL) UpdateState(ctx context.Context, id uint, state models.ExamState, at time.Time) error {
	updates := map[string]interface{}{"state": state}
	switch state {
	case models.ExamInProgress:
		updates["started_at"] = at
	case models.ExamObjectiveSubmitted:
		updates["submitted_at"] = at
	case models.ExamGraded:
		updates["graded_at"] = at
	}

	result := e.db.WithContext(ctx).
		Model(&models.ExamInstance{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update exam state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	cache.InvalidateExamCache(ctx, e.cacheManager, id)
	return nil
}

func (e *ExamPostgreSQL) UpdateObjectiveScore(ctx context.Context, id uint, score float64) error {
	result := e.db.WithContext(ctx).
		Model(&models.ExamInstance{}).
		Where("id = ?", id).
		Update("objective_score", score)
	if result.Error != nil {
		return fmt.Errorf("failed to update objective score: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	cache.InvalidateExamCache(ctx, e.cacheManager, id)
	return nil
}

// FinalizeScores is guarded on score_final so a finalized exam can never be
// rescored through this path.
func (e *ExamPostgreSQL) FinalizeScores(ctx context.Context, id uint, subjective, composite, percentage float64, at time.Time) error {
	result := e.db.WithContext(ctx).
		Model(&models.ExamInstance{}).
		Where("id = ? AND score_final = ?", id, false).
		Updates(map[string]interface{}{
			"subjective_score": subjective,
			"composite_score":  composite,
			"percentage":       percentage,
			"score_final":      true,
			"graded_at":        at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finalize scores: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	cache.InvalidateExamCache(ctx, e.cacheManager, id)
	return nil
}

type AnswerPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AnswerPostgreSQL) CreateBatch(ctx context.Context, answers []*models.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	if err := a.db.WithContext(ctx).Create(answers).Error; err != nil {
		return fmt.Errorf("failed to create answers: %w", err)
	}
	if len(answers) > 0 {
		cache.InvalidateExamCache(ctx, a.cacheManager, answers[0].ExamID)
	}
	return nil
}

func (a *AnswerPostgreSQL) GetByExam(ctx context.Context, examID uint) ([]*models.Answer, error) {
	var answers []*models.Answer
	if err := a.db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("ordinal ASC").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to get answers for exam %d: %w", examID, err)
	}
	return answers, nil
}

func (a *AnswerPostgreSQL) GetByExamAndOrdinal(ctx context.Context, examID uint, ordinal int) (*models.Answer, error) {
	var answer models.Answer
	if err := a.db.WithContext(ctx).
		Where("exam_id = ? AND ordinal = ?", examID, ordinal).
		First(&answer).Error; err != nil {
		return nil, err
	}
	return &answer, nil
}
