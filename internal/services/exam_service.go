package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/events"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/validator"
)

type examService struct {
	repo         repositories.Repository
	logger       *slog.Logger
	validator    *validator.Validator
	publisher    events.Publisher
	monthlyLimit int

	now  func() time.Time
	seed func() int64
}

func NewExamService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.Publisher, monthlyLimit int) ExamService {
	return &examService{
		repo:         repo,
		logger:       logger,
		validator:    validator,
		publisher:    publisher,
		monthlyLimit: monthlyLimit,
		now:          time.Now,
		seed:         func() int64 { return time.Now().UnixNano() },
	}
}

// ===== EXAM LIFECYCLE OPERATIONS =====

func (s *examService) StartExam(ctx context.Context, subjectID string, templateID uint) (*ExamView, error) {
	s.logger.Info("Starting exam",
		"template_id", templateID,
		"subject_id", subjectID)

	if subjectID == "" {
		return nil, NewValidationError("subject_id", "subject id is required", nil)
	}

	period := models.UsagePeriod(s.now())
	selector := NewQuestionSelector(rand.New(rand.NewSource(s.seed())))

	// The usage increment, the selection and the instance insert share one
	// transaction: a selection failure must roll the counter back, and a
	// created instance must never exist without its counted slot.
	var exam *models.ExamInstance
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		allowed, err := txRepo.Usage().IncrementIfBelow(ctx, subjectID, period, s.monthlyLimit)
		if err != nil {
			return fmt.Errorf("failed to increment usage counter: %w", err)
		}
		if !allowed {
			return &LimitExceededError{SubjectID: subjectID, Limit: s.monthlyLimit}
		}

		template, err := txRepo.Pool().GetTemplate(ctx, templateID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrTemplateNotFound
			}
			return fmt.Errorf("failed to load template: %w", err)
		}
		if !template.Active {
			return NewValidationError("template_id", "template is not active", templateID)
		}

		snapshot, err := s.assembleSnapshot(ctx, txRepo, template, selector)
		if err != nil {
			return err
		}

		encoded, err := models.EncodeSnapshot(snapshot)
		if err != nil {
			return err
		}
		exam = &models.ExamInstance{
			SubjectID:  subjectID,
			TemplateID: template.ID,
			Snapshot:   encoded,
			State:      models.ExamCreated,
		}
		if err := txRepo.Exam().Create(ctx, exam); err != nil {
			return fmt.Errorf("failed to create exam instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeExamStarted, map[string]interface{}{
		"exam_id":     exam.ID,
		"subject_id":  subjectID,
		"template_id": templateID,
	})

	s.logger.Info("Exam started successfully",
		"exam_id", exam.ID,
		"subject_id", subjectID)

	return s.toExamView(ctx, exam)
}

// assembleSnapshot draws every section of the template and freezes the picks
// with stable ordinals, section order first, then draw order within it.
func (s *examService) assembleSnapshot(ctx context.Context, repo repositories.Repository, template *models.ExamTemplate, selector *QuestionSelector) ([]models.SnapshotQuestion, error) {
	sections := make([]models.SectionSpec, len(template.Sections))
	copy(sections, template.Sections)
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Position < sections[j].Position
	})

	snapshot := make([]models.SnapshotQuestion, 0, template.TotalQuestions())
	used := make([]uint, 0, template.TotalQuestions())
	ordinal := 1

	for _, section := range sections {
		qType := section.QuestionType
		pool, err := repo.Pool().ListActiveQuestions(ctx, repositories.PoolFilters{
			Type:       &qType,
			ExcludeIDs: used,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list pool questions for section %q: %w", section.Section, err)
		}

		selected, err := selector.SelectSection(section, pool)
		if err != nil {
			return nil, err
		}

		for _, q := range selected {
			objective, subjective, err := q.DecodeContent()
			if err != nil {
				return nil, err
			}
			snapshot = append(snapshot, models.SnapshotQuestion{
				QuestionID: q.ID,
				Version:    q.Version,
				Ordinal:    ordinal,
				Section:    section.Section,
				Type:       q.Type,
				Topic:      q.Topic,
				Marks:      section.MarksPerQuestion,
				Objective:  objective,
				Subjective: subjective,
			})
			used = append(used, q.ID)
			ordinal++
		}
	}
	return snapshot, nil
}

func (s *examService) BeginExam(ctx context.Context, examID uint, subjectID string) (*ExamView, error) {
	exam, err := s.getOwnedExam(ctx, examID, subjectID, "begin")
	if err != nil {
		return nil, err
	}

	if !models.CanTransitionExam(exam.State, models.ExamInProgress, false) {
		return nil, NewStateError("exam", exam.ID, string(exam.State), string(models.ExamInProgress))
	}
	if err := s.repo.Exam().UpdateState(ctx, exam.ID, models.ExamInProgress, s.now()); err != nil {
		return nil, fmt.Errorf("failed to update exam state: %w", err)
	}
	exam.State = models.ExamInProgress

	return s.toExamView(ctx, exam)
}

func (s *examService) SubmitObjectiveAnswers(ctx context.Context, examID uint, subjectID string, answers []AnswerInput) (*ScoreSummary, error) {
	s.logger.Info("Submitting objective answers",
		"exam_id", examID,
		"subject_id", subjectID,
		"answer_count", len(answers))

	if len(answers) == 0 {
		return nil, NewValidationError("answers", "at least one answer is required", nil)
	}

	exam, err := s.getOwnedExam(ctx, examID, subjectID, "submit answers for")
	if err != nil {
		return nil, err
	}

	// Submission is accepted exactly once; any later call sees the
	// authoritative state in the rejection.
	if !models.CanTransitionExam(exam.State, models.ExamObjectiveSubmitted, false) {
		return nil, NewStateError("exam", exam.ID, string(exam.State), string(models.ExamObjectiveSubmitted))
	}

	questions, err := exam.DecodeSnapshot()
	if err != nil {
		return nil, err
	}
	byOrdinal := make(map[int]models.SnapshotQuestion, len(questions))
	for _, q := range questions {
		byOrdinal[q.Ordinal] = q
	}

	rows, objectiveScore, err := s.scoreSubmission(exam.ID, byOrdinal, answers)
	if err != nil {
		return nil, err
	}

	hasSubjective := models.HasSubjective(questions)
	submittedAt := s.now()

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Answer().CreateBatch(ctx, rows); err != nil {
			return fmt.Errorf("failed to store answers: %w", err)
		}
		if err := txRepo.Exam().UpdateObjectiveScore(ctx, exam.ID, objectiveScore); err != nil {
			return fmt.Errorf("failed to record objective score: %w", err)
		}
		if err := txRepo.Exam().UpdateState(ctx, exam.ID, models.ExamObjectiveSubmitted, submittedAt); err != nil {
			return fmt.Errorf("failed to update exam state: %w", err)
		}
		if hasSubjective {
			return txRepo.Exam().UpdateState(ctx, exam.ID, models.ExamAwaitingGrading, submittedAt)
		}
		// No human grading needed: the composite is the objective score and
		// the instance goes terminal immediately.
		composite := objectiveScore
		if err := txRepo.Exam().FinalizeScores(ctx, exam.ID, 0, composite, percentageOf(composite, models.TotalMarks(questions)), submittedAt); err != nil {
			return fmt.Errorf("failed to finalize scores: %w", err)
		}
		return txRepo.Exam().UpdateState(ctx, exam.ID, models.ExamGraded, submittedAt)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeExamSubmitted, map[string]interface{}{
		"exam_id":         exam.ID,
		"subject_id":      subjectID,
		"objective_score": objectiveScore,
		"has_subjective":  hasSubjective,
	})

	updated, err := s.repo.Exam().GetByID(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload exam: %w", err)
	}
	// Nothing is graded yet at submission time.
	return buildScoreSummary(updated, questions, 0), nil
}

// scoreSubmission turns the raw submissions into answer rows, scoring the
// objective ones on the way.
func (s *examService) scoreSubmission(examID uint, byOrdinal map[int]models.SnapshotQuestion, answers []AnswerInput) ([]*models.Answer, float64, error) {
	rows := make([]*models.Answer, 0, len(answers))
	seen := make(map[int]bool, len(answers))
	objectiveScore := 0.0

	for _, answer := range answers {
		if seen[answer.Ordinal] {
			return nil, 0, NewValidationError("ordinal", "duplicate answer for ordinal", answer.Ordinal)
		}
		seen[answer.Ordinal] = true

		question, ok := byOrdinal[answer.Ordinal]
		if !ok {
			return nil, 0, NewValidationError("ordinal", "no such question in this exam", answer.Ordinal)
		}

		row := &models.Answer{ExamID: examID, Ordinal: answer.Ordinal}
		switch question.Type {
		case models.QuestionObjective:
			marks, correct := scoreObjective(question, answer.SelectedKeys)
			submitted, err := json.Marshal(answer.SelectedKeys)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to encode answer for ordinal %d: %w", answer.Ordinal, err)
			}
			row.Submitted = submitted
			row.IsCorrect = &correct
			row.MarksAwarded = marks
			objectiveScore += marks
		case models.QuestionSubjective:
			text := ""
			if answer.Text != nil {
				text = *answer.Text
			}
			submitted, err := json.Marshal(text)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to encode answer for ordinal %d: %w", answer.Ordinal, err)
			}
			row.Submitted = submitted
		}
		rows = append(rows, row)
	}
	return rows, objectiveScore, nil
}

func (s *examService) GetExam(ctx context.Context, examID uint, callerID string) (*ExamView, error) {
	exam, err := s.getOwnedExam(ctx, examID, callerID, "view")
	if err != nil {
		return nil, err
	}
	return s.toExamView(ctx, exam)
}

// ===== HELPERS =====

func (s *examService) getOwnedExam(ctx context.Context, examID uint, subjectID, action string) (*models.ExamInstance, error) {
	exam, err := s.repo.Exam().GetByID(ctx, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.SubjectID != subjectID {
		return nil, NewPermissionError(subjectID, examID, "exam", action, "exam belongs to another subject")
	}
	return exam, nil
}

// countGradedOrdinals reports how many subjective ordinals of an exam already
// hold a grade. Only exams awaiting grading can have partial grades; every
// other state resolves to zero without a lookup.
func (s *examService) countGradedOrdinals(ctx context.Context, exam *models.ExamInstance) (int, error) {
	if exam.State != models.ExamAwaitingGrading {
		return 0, nil
	}
	task, err := s.repo.Task().GetActiveByExam(ctx, exam.ID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get active task for exam %d: %w", exam.ID, err)
	}
	count, err := s.repo.Grade().CountByTask(ctx, task.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to count grades for task %d: %w", task.ID, err)
	}
	return int(count), nil
}

func (s *examService) toExamView(ctx context.Context, exam *models.ExamInstance) (*ExamView, error) {
	questions, err := exam.DecodeSnapshot()
	if err != nil {
		return nil, err
	}

	view := &ExamView{
		ID:          exam.ID,
		SubjectID:   exam.SubjectID,
		TemplateID:  exam.TemplateID,
		State:       exam.State,
		Questions:   make([]SnapshotQuestionView, 0, len(questions)),
		CreatedAt:   exam.CreatedAt,
		StartedAt:   exam.StartedAt,
		SubmittedAt: exam.SubmittedAt,
		GradedAt:    exam.GradedAt,
	}
	for _, q := range questions {
		qv := SnapshotQuestionView{
			Ordinal: q.Ordinal,
			Section: q.Section,
			Type:    q.Type,
			Topic:   q.Topic,
			Marks:   q.Marks,
		}
		if q.Objective != nil {
			qv.Text = q.Objective.Text
			qv.Options = make(map[string]string, len(q.Objective.Options))
			for _, opt := range q.Objective.Options {
				qv.Options[opt.Key] = opt.Text
			}
		}
		if q.Subjective != nil {
			qv.Prompt = q.Subjective.Prompt
			if q.Subjective.MaxWords != nil {
				qv.MaxWords = *q.Subjective.MaxWords
			}
		}
		view.Questions = append(view.Questions, qv)
	}
	if exam.State != models.ExamCreated && exam.State != models.ExamInProgress {
		graded, err := s.countGradedOrdinals(ctx, exam)
		if err != nil {
			return nil, err
		}
		view.Score = buildScoreSummary(exam, questions, graded)
	}
	return view, nil
}

func (s *examService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		s.logger.Warn("Failed to publish event", "type", eventType, "error", err)
	}
}
