package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/cache"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
)

// PoolPostgreSQL reads templates and questions owned by the question-bank
// system. Everything here is read-only.
type PoolPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewPoolPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.PoolRepository {
	return &PoolPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (p *PoolPostgreSQL) GetTemplate(ctx context.Context, id uint) (*models.ExamTemplate, error) {
	cacheKey := fmt.Sprintf("template:%d", id)
	var template models.ExamTemplate

	err := p.cacheManager.Pool.CacheOrExecute(ctx, cacheKey, &template, cache.PoolCacheConfig.TTL, func() (interface{}, error) {
		var dbTemplate models.ExamTemplate
		if err := p.db.WithContext(ctx).
			Preload("Sections", func(db *gorm.DB) *gorm.DB {
				return db.Order("section_specs.position ASC, section_specs.id ASC")
			}).
			First(&dbTemplate, id).Error; err != nil {
			return nil, err
		}
		return &dbTemplate, nil
	})
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (p *PoolPostgreSQL) ListActiveQuestions(ctx context.Context, filters repositories.PoolFilters) ([]*models.PoolQuestion, error) {
	query := p.db.WithContext(ctx).
		Model(&models.PoolQuestion{}).
		Where("active = ?", true)

	if filters.Type != nil {
		query = query.Where("type = ?", *filters.Type)
	}
	if filters.Topic != nil {
		query = query.Where("topic = ?", *filters.Topic)
	}
	if filters.Difficulty != nil {
		query = query.Where("difficulty = ?", *filters.Difficulty)
	}
	if len(filters.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", filters.ExcludeIDs)
	}

	var questions []*models.PoolQuestion
	if err := query.Order("id ASC").Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to list pool questions: %w", err)
	}
	return questions, nil
}
