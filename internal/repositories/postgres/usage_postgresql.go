package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
)

type UsagePostgreSQL struct {
	db *gorm.DB
}

func NewUsagePostgreSQL(db *gorm.DB) repositories.UsageRepository {
	return &UsagePostgreSQL{db: db}
}

// IncrementIfBelow performs the increment-with-ceiling as one guarded UPDATE
// after ensuring the row exists. The counter is never read, modified, and
// written back from Go; contention resolves inside the statement.
func (u *UsagePostgreSQL) IncrementIfBelow(ctx context.Context, subjectID, period string, limit int) (bool, error) {
	if err := u.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UsageCounter{SubjectID: subjectID, Period: period, Count: 0}).Error; err != nil {
		return false, fmt.Errorf("failed to ensure usage row: %w", err)
	}

	result := u.db.WithContext(ctx).
		Model(&models.UsageCounter{}).
		Where("subject_id = ? AND period = ? AND count < ?", subjectID, period, limit).
		Update("count", gorm.Expr("count + 1"))
	if result.Error != nil {
		return false, fmt.Errorf("failed to increment usage counter: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (u *UsagePostgreSQL) GetCount(ctx context.Context, subjectID, period string) (int, error) {
	var counter models.UsageCounter
	err := u.db.WithContext(ctx).
		Where("subject_id = ? AND period = ?", subjectID, period).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage count: %w", err)
	}
	return counter.Count, nil
}
