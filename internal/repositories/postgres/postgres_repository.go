package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/cache"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories/casdoor"
)

// PostgreSQLRepository implements the main Repository interface.
type PostgreSQLRepository struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cacheManager *cache.CacheManager

	exam   repositories.ExamRepository
	answer repositories.AnswerRepository
	task   repositories.TaskRepository
	grade  repositories.GradeRepository
	grader repositories.GraderRepository
	pool   repositories.PoolRepository
	usage  repositories.UsageRepository
	user   repositories.UserRepository
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	DB            *gorm.DB
	RedisClient   *redis.Client
	CasdoorConfig casdoor.CasdoorConfig
}

// NewPostgreSQLRepository creates the aggregate with all sub-repositories.
func NewPostgreSQLRepository(config RepositoryConfig) repositories.Repository {
	repo := &PostgreSQLRepository{
		db:           config.DB,
		redisClient:  config.RedisClient,
		cacheManager: cache.NewCacheManager(config.RedisClient),
	}

	repo.exam = NewExamPostgreSQL(config.DB, config.RedisClient)
	repo.answer = NewAnswerPostgreSQL(config.DB, config.RedisClient)
	repo.task = NewTaskPostgreSQL(config.DB, config.RedisClient)
	repo.grade = NewGradePostgreSQL(config.DB, config.RedisClient)
	repo.grader = NewGraderPostgreSQL(config.DB, config.RedisClient)
	repo.pool = NewPoolPostgreSQL(config.DB, config.RedisClient)
	repo.usage = NewUsagePostgreSQL(config.DB)

	// User identity lives in Casdoor, not in this database.
	repo.user = casdoor.NewUserCasdoor(config.CasdoorConfig, config.RedisClient)

	return repo
}

func (r *PostgreSQLRepository) Exam() repositories.ExamRepository {
	return r.exam
}

func (r *PostgreSQLRepository) Answer() repositories.AnswerRepository {
	return r.answer
}

func (r *PostgreSQLRepository) Task() repositories.TaskRepository {
	return r.task
}

func (r *PostgreSQLRepository) Grade() repositories.GradeRepository {
	return r.grade
}

func (r *PostgreSQLRepository) Grader() repositories.GraderRepository {
	return r.grader
}

func (r *PostgreSQLRepository) Pool() repositories.PoolRepository {
	return r.pool
}

func (r *PostgreSQLRepository) Usage() repositories.UsageRepository {
	return r.usage
}

func (r *PostgreSQLRepository) User() repositories.UserRepository {
	return r.user
}

// WithTransaction executes a function within a database transaction. The
// sub-repositories are re-instantiated against the transaction handle.
func (r *PostgreSQLRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &PostgreSQLRepository{
			db:           tx,
			redisClient:  r.redisClient,
			cacheManager: r.cacheManager,
		}

		txRepo.exam = NewExamPostgreSQL(tx, r.redisClient)
		txRepo.answer = NewAnswerPostgreSQL(tx, r.redisClient)
		txRepo.task = NewTaskPostgreSQL(tx, r.redisClient)
		txRepo.grade = NewGradePostgreSQL(tx, r.redisClient)
		txRepo.grader = NewGraderPostgreSQL(tx, r.redisClient)
		txRepo.pool = NewPoolPostgreSQL(tx, r.redisClient)
		txRepo.usage = NewUsagePostgreSQL(tx)

		// External identity needs no transaction.
		txRepo.user = r.user

		return fn(txRepo)
	})
}

// Ping checks the health of database and cache connections.
func (r *PostgreSQLRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if r.redisClient != nil {
		if err := r.cacheManager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache ping failed: %w", err)
		}
	}

	return nil
}

// Close closes all connections.
func (r *PostgreSQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close Redis: %w", err)
		}
	}

	return nil
}

// RepositoryManager implements the RepositoryManager interface.
type RepositoryManager struct {
	config RepositoryConfig
	repo   repositories.Repository
}

func NewRepositoryManager(config RepositoryConfig) repositories.RepositoryManager {
	return &RepositoryManager{
		config: config,
	}
}

// Initialize validates connections and builds the repository.
func (rm *RepositoryManager) Initialize() error {
	if rm.config.DB == nil {
		return fmt.Errorf("database connection is required")
	}

	sqlDB, err := rm.config.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	if rm.config.RedisClient != nil {
		if _, err := rm.config.RedisClient.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
	}

	rm.repo = NewPostgreSQLRepository(rm.config)
	return nil
}

func (rm *RepositoryManager) GetRepository() repositories.Repository {
	return rm.repo
}

func (rm *RepositoryManager) HealthCheck(ctx context.Context) error {
	if rm.repo == nil {
		return fmt.Errorf("repository not initialized")
	}
	return rm.repo.Ping(ctx)
}

func (rm *RepositoryManager) Shutdown(ctx context.Context) error {
	if rm.repo == nil {
		return nil
	}
	return rm.repo.Close()
}
