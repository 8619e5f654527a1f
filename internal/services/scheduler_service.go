package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/events"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/utils"
)

const assignRetryAttempts = 3

// schedulerCommand is one unit of work for the scheduler loop. All mutations
// of assignment state flow through the single loop goroutine, so assignment
// decisions are serialized without row-level locking games.
type schedulerCommand struct {
	run   func(ctx context.Context) error
	reply chan error
}

type schedulerService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	publisher events.Publisher
	calendar  models.WorkCalendar
	slaHours  float64

	sweepInterval time.Duration
	workerCount   int

	mu       sync.Mutex
	running  bool
	commands chan schedulerCommand
	stopCh   chan struct{}
	doneCh   chan struct{}

	eventCh chan events.Event
	eventWg sync.WaitGroup

	now func() time.Time
}

// SchedulerConfig carries the tunables for the evaluation scheduler.
type SchedulerConfig struct {
	Calendar      models.WorkCalendar
	SLAHours      float64
	SweepInterval time.Duration
	WorkerCount   int
}

func NewSchedulerService(repo repositories.Repository, logger *slog.Logger, publisher events.Publisher, cfg SchedulerConfig) SchedulerService {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	return &schedulerService{
		repo:          repo,
		logger:        logger,
		publisher:     publisher,
		calendar:      cfg.Calendar,
		slaHours:      cfg.SLAHours,
		sweepInterval: cfg.SweepInterval,
		workerCount:   cfg.WorkerCount,
		now:           time.Now,
	}
}

// ===== LIFECYCLE =====

func (s *schedulerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.commands = make(chan schedulerCommand, 64)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.eventCh = make(chan events.Event, 256)
	s.running = true

	for i := 0; i < s.workerCount; i++ {
		s.eventWg.Add(1)
		go s.eventWorker()
	}
	go s.loop()

	s.logger.Info("Scheduler started",
		"sweep_interval", s.sweepInterval,
		"sla_hours", s.slaHours,
		"workers", s.workerCount)
	return nil
}

func (s *schedulerService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	// Closing under the lock pairs with the locked send in publish: a sender
	// either sees running=true and sends before this close, or sees false and
	// publishes synchronously.
	s.mu.Lock()
	close(s.eventCh)
	s.mu.Unlock()
	s.eventWg.Wait()

	s.logger.Info("Scheduler stopped")
	return nil
}

// loop is the single writer for assignment state. It interleaves explicit
// commands with periodic sweeps.
func (s *schedulerService) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-s.stopCh:
			return
		case cmd := <-s.commands:
			cmd.reply <- cmd.run(ctx)
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("Sweep failed", "error", err)
			}
		}
	}
}

// dispatch routes a command through the loop when it is running, otherwise
// runs it inline. Inline execution keeps the service usable before Start and
// in tests that drive it synchronously.
func (s *schedulerService) dispatch(ctx context.Context, run func(ctx context.Context) error) error {
	s.mu.Lock()
	running := s.running
	commands := s.commands
	s.mu.Unlock()

	if !running {
		return run(ctx)
	}

	cmd := schedulerCommand{run: run, reply: make(chan error, 1)}
	select {
	case commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ===== TASK CREATION =====

func (s *schedulerService) RequestGradingAssignment(ctx context.Context, examID uint) (*models.EvaluationTask, error) {
	s.logger.Info("Requesting grading assignment", "exam_id", examID)

	exam, err := s.repo.Exam().GetByID(ctx, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.State != models.ExamAwaitingGrading {
		return nil, NewStateError("exam", exam.ID, string(exam.State), "grading_requested")
	}
	if exam.SubmittedAt == nil {
		return nil, fmt.Errorf("exam %d is awaiting grading but has no submission time", exam.ID)
	}

	questions, err := exam.DecodeSnapshot()
	if err != nil {
		return nil, err
	}
	ordinals := models.SubjectiveOrdinals(questions)
	if len(ordinals) == 0 {
		return nil, NewValidationError("exam_id", "exam has no subjective questions to grade", examID)
	}
	encodedOrdinals, err := json.Marshal(ordinals)
	if err != nil {
		return nil, fmt.Errorf("failed to encode required ordinals: %w", err)
	}

	task := &models.EvaluationTask{
		ExamID:           exam.ID,
		Active:           true,
		State:            models.TaskQueued,
		RequiredOrdinals: encodedOrdinals,
		Deadline:         utils.Deadline(*exam.SubmittedAt, s.slaHours, s.calendar),
	}
	if err := s.repo.Task().Create(ctx, task); err != nil {
		// The partial unique index decides the race: the loser learns the
		// surviving task's id, no second task ever exists.
		if repositories.IsDuplicateKeyError(err) {
			existing, getErr := s.repo.Task().GetActiveByExam(ctx, exam.ID)
			if getErr != nil {
				return nil, fmt.Errorf("task exists for exam %d but lookup failed: %w", exam.ID, getErr)
			}
			return nil, &DuplicateTaskError{ExamID: exam.ID, ExistingTaskID: existing.ID}
		}
		return nil, fmt.Errorf("failed to create evaluation task: %w", err)
	}

	s.publish(ctx, events.TypeTaskCreated, map[string]interface{}{
		"task_id":  task.ID,
		"exam_id":  exam.ID,
		"deadline": task.Deadline,
	})

	if err := s.assignWithRetry(ctx); err != nil {
		// The task stays queued; the next sweep retries assignment.
		s.logger.Warn("Assignment deferred to next sweep", "task_id", task.ID, "error", err)
	}

	refreshed, err := s.repo.Task().GetByID(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload task: %w", err)
	}
	return refreshed, nil
}

func (s *schedulerService) assignWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= assignRetryAttempts; attempt++ {
		lastErr = s.dispatch(ctx, s.assignQueuedTasks)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("Assignment attempt failed", "attempt", attempt, "error", lastErr)
	}
	return &TransientError{Op: "assign_queued_tasks", Attempts: assignRetryAttempts, Err: lastErr}
}

// ===== ASSIGNMENT =====

// assignQueuedTasks hands queued tasks to available graders, earliest
// deadline first. Each task goes to the least-loaded grader; load ties break
// by registration order, so the outcome is a pure function of queue and
// grader state.
func (s *schedulerService) assignQueuedTasks(ctx context.Context) error {
	queued, err := s.repo.Task().ListQueued(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queued tasks: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}

	loads, err := s.repo.Grader().ListAvailableWithLoad(ctx)
	if err != nil {
		return fmt.Errorf("failed to list graders: %w", err)
	}
	if len(loads) == 0 {
		s.logger.Debug("No available graders, tasks stay queued", "queued", len(queued))
		return nil
	}

	for _, task := range queued {
		best := 0
		for i := 1; i < len(loads); i++ {
			if loads[i].ActiveTasks < loads[best].ActiveTasks {
				best = i
			}
		}

		graderID := loads[best].Grader.ID
		if err := s.repo.Task().Assign(ctx, task.ID, graderID, s.now()); err != nil {
			if repositories.IsNotFoundError(err) {
				// Task left the queued state since listing; skip it.
				continue
			}
			return fmt.Errorf("failed to assign task %d: %w", task.ID, err)
		}
		loads[best].ActiveTasks++

		s.logger.Info("Task assigned",
			"task_id", task.ID,
			"grader_id", graderID,
			"deadline", task.Deadline)
		s.publish(ctx, events.TypeTaskAssigned, map[string]interface{}{
			"task_id":   task.ID,
			"exam_id":   task.ExamID,
			"grader_id": graderID,
		})
	}
	return nil
}

// ===== SWEEP =====

func (s *schedulerService) Tick(ctx context.Context) error {
	breached, err := s.repo.Task().MarkBreaches(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to mark breaches: %w", err)
	}
	for _, task := range breached {
		s.logger.Warn("SLA breached",
			"task_id", task.ID,
			"exam_id", task.ExamID,
			"deadline", task.Deadline)
		s.publish(ctx, events.TypeSLABreached, map[string]interface{}{
			"task_id":  task.ID,
			"exam_id":  task.ExamID,
			"deadline": task.Deadline,
		})
	}
	return s.assignQueuedTasks(ctx)
}

// ===== GRADER OPERATIONS =====

func (s *schedulerService) StartTask(ctx context.Context, taskID uint, graderID string) (*models.EvaluationTask, error) {
	task, err := s.getAssignedTask(ctx, taskID, graderID, "start")
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionTask(task.State, models.TaskInProgress) {
		return nil, NewStateError("task", task.ID, string(task.State), string(models.TaskInProgress))
	}
	if err := s.repo.Task().UpdateState(ctx, task.ID, models.TaskInProgress); err != nil {
		return nil, fmt.Errorf("failed to update task state: %w", err)
	}
	task.State = models.TaskInProgress
	return task, nil
}

func (s *schedulerService) GetGraderQueue(ctx context.Context, graderID string) ([]GraderQueueEntry, error) {
	if _, err := s.repo.Grader().GetByID(ctx, graderID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGraderNotFound
		}
		return nil, fmt.Errorf("failed to get grader: %w", err)
	}

	tasks, err := s.repo.Task().ListByGrader(ctx, graderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grader queue: %w", err)
	}

	queue := make([]GraderQueueEntry, 0, len(tasks))
	for _, task := range tasks {
		var ordinals []int
		if len(task.RequiredOrdinals) > 0 {
			if err := json.Unmarshal(task.RequiredOrdinals, &ordinals); err != nil {
				return nil, fmt.Errorf("failed to decode ordinals for task %d: %w", task.ID, err)
			}
		}
		queue = append(queue, GraderQueueEntry{
			TaskID:    task.ID,
			ExamID:    task.ExamID,
			State:     task.State,
			Deadline:  task.Deadline,
			Breached:  task.Breached,
			Ordinals:  ordinals,
			CreatedAt: task.CreatedAt,
		})
	}
	return queue, nil
}

func (s *schedulerService) SetGraderAvailability(ctx context.Context, graderID string, available bool) error {
	if err := s.repo.Grader().SetAvailability(ctx, graderID, available); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrGraderNotFound
		}
		return fmt.Errorf("failed to update grader availability: %w", err)
	}

	if available {
		// A returning grader may immediately pick up queued work.
		return s.assignWithRetry(ctx)
	}

	// Unavailable grader: push their open tasks back to the queue. Captured
	// grades key on the task and survive for whoever picks it up next.
	return s.dispatch(ctx, func(ctx context.Context) error {
		tasks, err := s.repo.Task().ListActiveByGrader(ctx, graderID)
		if err != nil {
			return fmt.Errorf("failed to list tasks for grader %s: %w", graderID, err)
		}
		for _, task := range tasks {
			if err := s.repo.Task().Requeue(ctx, task.ID); err != nil {
				if repositories.IsNotFoundError(err) {
					continue
				}
				return fmt.Errorf("failed to requeue task %d: %w", task.ID, err)
			}
			s.logger.Info("Task requeued", "task_id", task.ID, "grader_id", graderID)
			s.publish(ctx, events.TypeTaskRequeued, map[string]interface{}{
				"task_id":   task.ID,
				"exam_id":   task.ExamID,
				"grader_id": graderID,
			})
		}
		return s.assignQueuedTasks(ctx)
	})
}

// ===== HELPERS =====

func (s *schedulerService) getAssignedTask(ctx context.Context, taskID uint, graderID, action string) (*models.EvaluationTask, error) {
	task, err := s.repo.Task().GetByID(ctx, taskID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if task.GraderID == nil || *task.GraderID != graderID {
		return nil, NewPermissionError(graderID, taskID, "task", action, "task is not assigned to this grader")
	}
	return task, nil
}

func (s *schedulerService) eventWorker() {
	defer s.eventWg.Done()
	for event := range s.eventCh {
		if err := s.publisher.Publish(context.Background(), event); err != nil {
			s.logger.Warn("Failed to publish event", "type", event.Type, "error", err)
		}
	}
}

// publish fans events out through the bounded worker pool while the loop is
// running, falling back to synchronous delivery otherwise. Events drop with a
// log line when the buffer is full; they are advisory, not state.
func (s *schedulerService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	event := events.NewEvent(eventType, data)

	// The send stays under the lock so Stop cannot close eventCh between the
	// running check and the send. It is non-blocking, so the lock is never
	// held across a stall.
	s.mu.Lock()
	if s.running {
		select {
		case s.eventCh <- event:
		default:
			s.logger.Warn("Event buffer full, dropping", "type", eventType)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "type", eventType, "error", err)
	}
}
