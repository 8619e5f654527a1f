package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/events"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
)

type gradingService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	publisher events.Publisher

	now func() time.Time
}

func NewGradingService(repo repositories.Repository, logger *slog.Logger, publisher events.Publisher) GradingService {
	return &gradingService{
		repo:      repo,
		logger:    logger,
		publisher: publisher,
		now:       time.Now,
	}
}

// ===== GRADE CAPTURE =====

func (s *gradingService) SubmitGrade(ctx context.Context, taskID uint, graderID string, ordinal int, marks float64, note *string) (*models.Grade, error) {
	s.logger.Info("Submitting grade",
		"task_id", taskID,
		"grader_id", graderID,
		"ordinal", ordinal)

	task, err := s.getOwnedTask(ctx, taskID, graderID, "grade")
	if err != nil {
		return nil, err
	}

	switch task.State {
	case models.TaskAssigned:
		// First grade implicitly starts the work.
		if err := s.repo.Task().UpdateState(ctx, task.ID, models.TaskInProgress); err != nil {
			return nil, fmt.Errorf("failed to start task: %w", err)
		}
		task.State = models.TaskInProgress
	case models.TaskInProgress:
	default:
		return nil, NewStateError("task", task.ID, string(task.State), "grade_submitted")
	}

	question, err := s.subjectiveQuestion(ctx, task, ordinal)
	if err != nil {
		return nil, err
	}
	if marks < 0 || marks > question.Marks {
		return nil, &MarksOutOfRangeError{Ordinal: ordinal, Marks: marks, Max: question.Marks}
	}

	grade := &models.Grade{
		TaskID:       task.ID,
		Ordinal:      ordinal,
		MarksAwarded: marks,
		GraderID:     graderID,
		Note:         note,
	}
	if err := s.repo.Grade().Upsert(ctx, grade); err != nil {
		return nil, fmt.Errorf("failed to store grade: %w", err)
	}
	return grade, nil
}

// ===== COMPLETION =====

func (s *gradingService) CompleteGrading(ctx context.Context, taskID uint, graderID string) (*ScoreSummary, error) {
	s.logger.Info("Completing grading", "task_id", taskID, "grader_id", graderID)

	task, err := s.getOwnedTask(ctx, taskID, graderID, "complete")
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionTask(task.State, models.TaskCompleted) {
		return nil, NewStateError("task", task.ID, string(task.State), string(models.TaskCompleted))
	}

	var required []int
	if err := json.Unmarshal(task.RequiredOrdinals, &required); err != nil {
		return nil, fmt.Errorf("failed to decode required ordinals for task %d: %w", task.ID, err)
	}

	grades, err := s.repo.Grade().GetByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load grades: %w", err)
	}
	graded := make(map[int]float64, len(grades))
	for _, g := range grades {
		graded[g.Ordinal] = g.MarksAwarded
	}

	subjectiveScore := 0.0
	for _, ordinal := range required {
		marks, ok := graded[ordinal]
		if !ok {
			return nil, NewValidationError("ordinal", "subjective question not yet graded", ordinal)
		}
		subjectiveScore += marks
	}

	exam, err := s.repo.Exam().GetByID(ctx, task.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if !models.CanTransitionExam(exam.State, models.ExamGraded, true) {
		return nil, NewStateError("exam", exam.ID, string(exam.State), string(models.ExamGraded))
	}

	questions, err := exam.DecodeSnapshot()
	if err != nil {
		return nil, err
	}

	composite := exam.ObjectiveScore + subjectiveScore
	percentage := percentageOf(composite, models.TotalMarks(questions))
	completedAt := s.now()

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		// Completion releases the uniqueness slot and clears any breach flag;
		// a breached task that finishes is done, not permanently stained.
		if err := txRepo.Task().Complete(ctx, task.ID); err != nil {
			return fmt.Errorf("failed to complete task: %w", err)
		}
		if err := txRepo.Exam().FinalizeScores(ctx, exam.ID, subjectiveScore, composite, percentage, completedAt); err != nil {
			return fmt.Errorf("failed to finalize scores: %w", err)
		}
		return txRepo.Exam().UpdateState(ctx, exam.ID, models.ExamGraded, completedAt)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeTaskCompleted, map[string]interface{}{
		"task_id":   task.ID,
		"exam_id":   exam.ID,
		"grader_id": graderID,
	})
	s.publish(ctx, events.TypeExamGraded, map[string]interface{}{
		"exam_id":    exam.ID,
		"subject_id": exam.SubjectID,
		"composite":  composite,
		"percentage": percentage,
	})

	s.logger.Info("Grading completed",
		"task_id", task.ID,
		"exam_id", exam.ID,
		"composite", composite)

	updated, err := s.repo.Exam().GetByID(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload exam: %w", err)
	}
	return buildScoreSummary(updated, questions, len(required)), nil
}

// ===== HELPERS =====

func (s *gradingService) getOwnedTask(ctx context.Context, taskID uint, graderID, action string) (*models.EvaluationTask, error) {
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

// subjectiveQuestion resolves an ordinal against the exam snapshot and
// rejects anything a grader has no business grading.
func (s *gradingService) subjectiveQuestion(ctx context.Context, task *models.EvaluationTask, ordinal int) (*models.SnapshotQuestion, error) {
	exam, err := s.repo.Exam().GetByID(ctx, task.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	questions, err := exam.DecodeSnapshot()
	if err != nil {
		return nil, err
	}
	for i := range questions {
		if questions[i].Ordinal == ordinal {
			if questions[i].Type != models.QuestionSubjective {
				return nil, NewValidationError("ordinal", "question is not subjective", ordinal)
			}
			return &questions[i], nil
		}
	}
	return nil, NewValidationError("ordinal", "no such question in this exam", ordinal)
}

func (s *gradingService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		s.logger.Warn("Failed to publish event", "type", eventType, "error", err)
	}
}
