package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/events"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/validator"
)

// ServiceManagerConfig holds configuration shared across the services.
type ServiceManagerConfig struct {
	MonthlyExamLimit int
	SLAHours         float64
	SweepInterval    time.Duration
	WorkerCount      int
	Calendar         models.WorkCalendar

	DefaultTimeout time.Duration
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.Publisher
	config    ServiceManagerConfig

	examService      ExamService
	schedulerService SchedulerService
	gradingService   GradingService

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.Publisher, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		repo:      repo,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		config:    config,
	}
}

// Initialize sets up all services and starts the scheduler loop.
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	sm.examService = NewExamService(sm.repo, sm.logger, sm.validator, sm.publisher, sm.config.MonthlyExamLimit)
	sm.logger.Info("Exam service initialized")

	sm.schedulerService = NewSchedulerService(sm.repo, sm.logger, sm.publisher, SchedulerConfig{
		Calendar:      sm.config.Calendar,
		SLAHours:      sm.config.SLAHours,
		SweepInterval: sm.config.SweepInterval,
		WorkerCount:   sm.config.WorkerCount,
	})
	if err := sm.schedulerService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	sm.logger.Info("Scheduler service initialized")

	sm.gradingService = NewGradingService(sm.repo, sm.logger, sm.publisher)
	sm.logger.Info("Grading service initialized")

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

// Service getters
func (sm *serviceManager) Exam() ExamService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.examService == nil {
		panic("exam service not initialized")
	}
	return sm.examService
}

func (sm *serviceManager) Scheduler() SchedulerService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.schedulerService == nil {
		panic("scheduler service not initialized")
	}
	return sm.schedulerService
}

func (sm *serviceManager) Grading() GradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.gradingService == nil {
		panic("grading service not initialized")
	}
	return sm.gradingService
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}
	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.schedulerService != nil {
		if err := sm.schedulerService.Stop(); err != nil {
			sm.logger.Error("Failed to stop scheduler", "error", err)
		}
	}
	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// WithTimeout creates a context with the default timeout
func (sm *serviceManager) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := sm.config.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

// ValidateConfig validates the service manager configuration
func (config *ServiceManagerConfig) Validate() error {
	var errors []string

	if config.MonthlyExamLimit <= 0 {
		errors = append(errors, "monthly exam limit must be positive")
	}
	if config.SLAHours <= 0 {
		errors = append(errors, "SLA hours must be positive")
	}
	if config.SweepInterval < 0 {
		errors = append(errors, "sweep interval cannot be negative")
	}
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}
	return nil
}
