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

type GraderPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewGraderPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.GraderRepository {
	return &GraderPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (g *GraderPostgreSQL) GetByID(ctx context.Context, id string) (*models.Grader, error) {
	var grader models.Grader
	if err := g.db.WithContext(ctx).First(&grader, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &grader, nil
}

func (g *GraderPostgreSQL) Register(ctx context.Context, grader *models.Grader) error {
	if err := g.db.WithContext(ctx).Create(grader).Error; err != nil {
		return fmt.Errorf("failed to register grader: %w", err)
	}
	return nil
}

func (g *GraderPostgreSQL) SetAvailability(ctx context.Context, id string, available bool) error {
	result := g.db.WithContext(ctx).
		Model(&models.Grader{}).
		Where("id = ?", id).
		Update("available", available)
	if result.Error != nil {
		return fmt.Errorf("failed to set grader availability: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	cache.InvalidateQueueCache(ctx, g.cacheManager, id)
	return nil
}

// ListAvailableWithLoad joins the live count of assigned and in-progress
// tasks per available grader. The registration_seq ordering makes the
// least-loaded tiebreak deterministic.
func (g *GraderPostgreSQL) ListAvailableWithLoad(ctx context.Context) ([]repositories.GraderLoad, error) {
	var graders []models.Grader
	if err := g.db.WithContext(ctx).
		Where("available = ?", true).
		Order("registration_seq ASC").
		Find(&graders).Error; err != nil {
		return nil, fmt.Errorf("failed to list available graders: %w", err)
	}

	type loadRow struct {
		GraderID string
		Count    int
	}
	var rows []loadRow
	if err := g.db.WithContext(ctx).
		Model(&models.EvaluationTask{}).
		Select("grader_id, COUNT(*) as count").
		Where("grader_id IS NOT NULL AND state IN ?", []models.TaskState{models.TaskAssigned, models.TaskInProgress}).
		Group("grader_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count grader load: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.GraderID] = row.Count
	}

	loads := make([]repositories.GraderLoad, 0, len(graders))
	for _, grader := range graders {
		loads = append(loads, repositories.GraderLoad{
			Grader:      grader,
			ActiveTasks: counts[grader.ID],
		})
	}
	return loads, nil
}
