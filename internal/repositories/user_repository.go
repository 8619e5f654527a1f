package repositories

import (
	"context"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
)

// UserFilters defines filters for identity queries.
type UserFilters struct {
	Query  string
	Limit  int
	Offset int
}

// UserRepository reads identity data from Casdoor. This service never owns
// or writes user records.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)

	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)

	ExistsByID(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
}
