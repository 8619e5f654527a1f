package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository aggregates all persistence interfaces used by the services.
type Repository interface {
	// Exam domain
	Exam() ExamRepository
	Answer() AnswerRepository

	// Evaluation domain
	Task() TaskRepository
	Grade() GradeRepository
	Grader() GraderRepository

	// Question pool and templates (read-only for this service)
	Pool() PoolRepository

	// Monthly usage accounting
	Usage() UsageRepository

	// User domain (read-only, backed by Casdoor)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager manages repository lifecycle.
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// IsNotFoundError reports whether an error means the row does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateKeyError reports whether an error came from a uniqueness
// constraint, such as the one-active-task-per-exam index.
func IsDuplicateKeyError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
