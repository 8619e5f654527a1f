package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/events"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
	"gorm.io/gorm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ===== MOCK PUBLISHER =====

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{}
}

func (p *mockPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *mockPublisher) Close() error { return nil }

func (p *mockPublisher) GetPublishedEvents(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

func (p *mockPublisher) ClearEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// ===== MOCK REPOSITORY =====

// mockRepository is an in-memory stand-in that mirrors the guarded-update
// semantics of the real persistence layer, including the one-active-task
// constraint and the conditional usage increment.
type mockRepository struct {
	mu sync.Mutex

	exams     map[uint]*models.ExamInstance
	answers   map[uint][]*models.Answer
	tasks     map[uint]*models.EvaluationTask
	grades    map[uint]map[int]*models.Grade
	graders   map[string]*models.Grader
	usage     map[string]int
	templates map[uint]*models.ExamTemplate
	pool      []*models.PoolQuestion

	nextExamID uint
	nextTaskID uint
	nextSeq    int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		exams:     make(map[uint]*models.ExamInstance),
		answers:   make(map[uint][]*models.Answer),
		tasks:     make(map[uint]*models.EvaluationTask),
		grades:    make(map[uint]map[int]*models.Grade),
		graders:   make(map[string]*models.Grader),
		usage:     make(map[string]int),
		templates: make(map[uint]*models.ExamTemplate),
	}
}

func (m *mockRepository) Exam() repositories.ExamRepository     { return &mockExamRepo{m} }
func (m *mockRepository) Answer() repositories.AnswerRepository { return &mockAnswerRepo{m} }
func (m *mockRepository) Task() repositories.TaskRepository     { return &mockTaskRepo{m} }
func (m *mockRepository) Grade() repositories.GradeRepository   { return &mockGradeRepo{m} }
func (m *mockRepository) Grader() repositories.GraderRepository { return &mockGraderRepo{m} }
func (m *mockRepository) Pool() repositories.PoolRepository     { return &mockPoolRepo{m} }
func (m *mockRepository) Usage() repositories.UsageRepository   { return &mockUsageRepo{m} }
func (m *mockRepository) User() repositories.UserRepository     { return &mockUserRepo{} }

// WithTransaction snapshots the mutable stores and restores them when fn
// fails, approximating rollback closely enough for the service flows.
func (m *mockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	m.mu.Lock()
	savedUsage := make(map[string]int, len(m.usage))
	for k, v := range m.usage {
		savedUsage[k] = v
	}
	savedExamID := m.nextExamID
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.usage = savedUsage
		m.nextExamID = savedExamID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *mockRepository) Ping(ctx context.Context) error { return nil }
func (m *mockRepository) Close() error                   { return nil }

// ===== EXAMS =====

type mockExamRepo struct{ m *mockRepository }

func (r *mockExamRepo) Create(ctx context.Context, exam *models.ExamInstance) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextExamID++
	exam.ID = r.m.nextExamID
	exam.CreatedAt = time.Now()
	copied := *exam
	r.m.exams[exam.ID] = &copied
	return nil
}

func (r *mockExamRepo) GetByID(ctx context.Context, id uint) (*models.ExamInstance, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	exam, ok := r.m.exams[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *exam
	return &copied, nil
}

func (r *mockExamRepo) List(ctx context.Context, filters repositories.ExamFilters) ([]*models.ExamInstance, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*models.ExamInstance
	for _, exam := range r.m.exams {
		copied := *exam
		result = append(result, &copied)
	}
	return result, int64(len(result)), nil
}

func (r *mockExamRepo) UpdateState(ctx context.Context, id uint, state models.ExamState, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	exam, ok := r.m.exams[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	exam.State = state
	switch state {
	case models.ExamInProgress:
		exam.StartedAt = &at
	case models.ExamObjectiveSubmitted:
		exam.SubmittedAt = &at
	case models.ExamGraded:
		exam.GradedAt = &at
	}
	return nil
}

func (r *mockExamRepo) UpdateObjectiveScore(ctx context.Context, id uint, score float64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	exam, ok := r.m.exams[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	exam.ObjectiveScore = score
	return nil
}

func (r *mockExamRepo) FinalizeScores(ctx context.Context, id uint, subjective, composite, percentage float64, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	exam, ok := r.m.exams[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if exam.ScoreFinal {
		return gorm.ErrRecordNotFound
	}
	exam.SubjectiveScore = subjective
	exam.CompositeScore = composite
	exam.Percentage = percentage
	exam.ScoreFinal = true
	exam.GradedAt = &at
	return nil
}

// ===== ANSWERS =====

type mockAnswerRepo struct{ m *mockRepository }

func (r *mockAnswerRepo) CreateBatch(ctx context.Context, answers []*models.Answer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, answer := range answers {
		for _, existing := range r.m.answers[answer.ExamID] {
			if existing.Ordinal == answer.Ordinal {
				return gorm.ErrDuplicatedKey
			}
		}
		copied := *answer
		r.m.answers[answer.ExamID] = append(r.m.answers[answer.ExamID], &copied)
	}
	return nil
}

func (r *mockAnswerRepo) GetByExam(ctx context.Context, examID uint) ([]*models.Answer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	result := make([]*models.Answer, len(r.m.answers[examID]))
	copy(result, r.m.answers[examID])
	sort.Slice(result, func(i, j int) bool { return result[i].Ordinal < result[j].Ordinal })
	return result, nil
}

func (r *mockAnswerRepo) GetByExamAndOrdinal(ctx context.Context, examID uint, ordinal int) (*models.Answer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, answer := range r.m.answers[examID] {
		if answer.Ordinal == ordinal {
			copied := *answer
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ===== TASKS =====

type mockTaskRepo struct{ m *mockRepository }

func (r *mockTaskRepo) Create(ctx context.Context, task *models.EvaluationTask) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.tasks {
		if existing.ExamID == task.ExamID && existing.Active {
			return gorm.ErrDuplicatedKey
		}
	}
	r.m.nextTaskID++
	task.ID = r.m.nextTaskID
	task.CreatedAt = time.Now()
	copied := *task
	r.m.tasks[task.ID] = &copied
	return nil
}

func (r *mockTaskRepo) GetByID(ctx context.Context, id uint) (*models.EvaluationTask, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	task, ok := r.m.tasks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *task
	return &copied, nil
}

func (r *mockTaskRepo) GetActiveByExam(ctx context.Context, examID uint) (*models.EvaluationTask, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, task := range r.m.tasks {
		if task.ExamID == examID && task.Active {
			copied := *task
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockTaskRepo) List(ctx context.Context, filters repositories.TaskFilters) ([]*models.EvaluationTask, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*models.EvaluationTask
	for _, task := range r.m.tasks {
		copied := *task
		result = append(result, &copied)
	}
	return result, int64(len(result)), nil
}

func (r *mockTaskRepo) UpdateState(ctx context.Context, id uint, state models.TaskState) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	task, ok := r.m.tasks[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	task.State = state
	return nil
}

func (r *mockTaskRepo) Assign(ctx context.Context, id uint, graderID string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	task, ok := r.m.tasks[id]
	if !ok || task.State != models.TaskQueued {
		return gorm.ErrRecordNotFound
	}
	task.State = models.TaskAssigned
	task.GraderID = &graderID
	task.AssignedAt = &at
	return nil
}

func (r *mockTaskRepo) Requeue(ctx context.Context, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	task, ok := r.m.tasks[id]
	if !ok || (task.State != models.TaskAssigned && task.State != models.TaskInProgress) {
		return gorm.ErrRecordNotFound
	}
	task.State = models.TaskQueued
	task.GraderID = nil
	task.AssignedAt = nil
	return nil
}

func (r *mockTaskRepo) Complete(ctx context.Context, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	task, ok := r.m.tasks[id]
	if !ok || task.State != models.TaskInProgress {
		return gorm.ErrRecordNotFound
	}
	task.State = models.TaskCompleted
	task.Active = false
	task.Breached = false
	return nil
}

func (r *mockTaskRepo) ListQueued(ctx context.Context) ([]*models.EvaluationTask, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*models.EvaluationTask
	for _, task := range r.m.tasks {
		if task.State == models.TaskQueued {
			copied := *task
			result = append(result, &copied)
		}
	}
	sortTasksByDeadline(result)
	return result, nil
}

func (r *mockTaskRepo) ListByGrader(ctx context.Context, graderID string) ([]*models.EvaluationTask, error) {
	return r.listForGrader(graderID)
}

func (r *mockTaskRepo) ListActiveByGrader(ctx context.Context, graderID string) ([]*models.EvaluationTask, error) {
	return r.listForGrader(graderID)
}

func (r *mockTaskRepo) listForGrader(graderID string) ([]*models.EvaluationTask, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*models.EvaluationTask
	for _, task := range r.m.tasks {
		if task.GraderID != nil && *task.GraderID == graderID &&
			(task.State == models.TaskAssigned || task.State == models.TaskInProgress) {
			copied := *task
			result = append(result, &copied)
		}
	}
	sortTasksByDeadline(result)
	return result, nil
}

func (r *mockTaskRepo) MarkBreaches(ctx context.Context, now time.Time) ([]*models.EvaluationTask, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var flagged []*models.EvaluationTask
	for _, task := range r.m.tasks {
		if task.State != models.TaskCompleted && !task.Breached && task.Deadline.Before(now) {
			task.Breached = true
			copied := *task
			flagged = append(flagged, &copied)
		}
	}
	sortTasksByDeadline(flagged)
	return flagged, nil
}

func sortTasksByDeadline(tasks []*models.EvaluationTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Deadline.Equal(tasks[j].Deadline) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].Deadline.Before(tasks[j].Deadline)
	})
}

// ===== GRADES =====

type mockGradeRepo struct{ m *mockRepository }

func (r *mockGradeRepo) Upsert(ctx context.Context, grade *models.Grade) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.grades[grade.TaskID] == nil {
		r.m.grades[grade.TaskID] = make(map[int]*models.Grade)
	}
	copied := *grade
	r.m.grades[grade.TaskID][grade.Ordinal] = &copied
	return nil
}

func (r *mockGradeRepo) GetByTask(ctx context.Context, taskID uint) ([]*models.Grade, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*models.Grade
	for _, grade := range r.m.grades[taskID] {
		copied := *grade
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ordinal < result[j].Ordinal })
	return result, nil
}

func (r *mockGradeRepo) CountByTask(ctx context.Context, taskID uint) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return int64(len(r.m.grades[taskID])), nil
}

// ===== GRADERS =====

type mockGraderRepo struct{ m *mockRepository }

func (r *mockGraderRepo) GetByID(ctx context.Context, id string) (*models.Grader, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	grader, ok := r.m.graders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *grader
	return &copied, nil
}

func (r *mockGraderRepo) Register(ctx context.Context, grader *models.Grader) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextSeq++
	grader.RegistrationSeq = r.m.nextSeq
	copied := *grader
	r.m.graders[grader.ID] = &copied
	return nil
}

func (r *mockGraderRepo) SetAvailability(ctx context.Context, id string, available bool) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	grader, ok := r.m.graders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	grader.Available = available
	return nil
}

func (r *mockGraderRepo) ListAvailableWithLoad(ctx context.Context) ([]repositories.GraderLoad, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var loads []repositories.GraderLoad
	for _, grader := range r.m.graders {
		if !grader.Available {
			continue
		}
		count := 0
		for _, task := range r.m.tasks {
			if task.GraderID != nil && *task.GraderID == grader.ID &&
				(task.State == models.TaskAssigned || task.State == models.TaskInProgress) {
				count++
			}
		}
		loads = append(loads, repositories.GraderLoad{Grader: *grader, ActiveTasks: count})
	}
	sort.Slice(loads, func(i, j int) bool {
		return loads[i].Grader.RegistrationSeq < loads[j].Grader.RegistrationSeq
	})
	return loads, nil
}

// ===== POOL =====

type mockPoolRepo struct{ m *mockRepository }

func (r *mockPoolRepo) GetTemplate(ctx context.Context, id uint) (*models.ExamTemplate, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	template, ok := r.m.templates[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *template
	return &copied, nil
}

func (r *mockPoolRepo) ListActiveQuestions(ctx context.Context, filters repositories.PoolFilters) ([]*models.PoolQuestion, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	excluded := make(map[uint]bool, len(filters.ExcludeIDs))
	for _, id := range filters.ExcludeIDs {
		excluded[id] = true
	}
	var result []*models.PoolQuestion
	for _, q := range r.m.pool {
		if !q.Active || excluded[q.ID] {
			continue
		}
		if filters.Type != nil && q.Type != *filters.Type {
			continue
		}
		if filters.Topic != nil && q.Topic != *filters.Topic {
			continue
		}
		copied := *q
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ===== USAGE =====

type mockUsageRepo struct{ m *mockRepository }

func usageKey(subjectID, period string) string {
	return subjectID + "|" + period
}

func (r *mockUsageRepo) IncrementIfBelow(ctx context.Context, subjectID, period string, limit int) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := usageKey(subjectID, period)
	if r.m.usage[key] >= limit {
		return false, nil
	}
	r.m.usage[key]++
	return true, nil
}

func (r *mockUsageRepo) GetCount(ctx context.Context, subjectID, period string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.usage[usageKey(subjectID, period)], nil
}

// ===== USERS =====

type mockUserRepo struct{}

func (mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (mockUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	return nil, nil
}

func (mockUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	return nil, 0, nil
}

func (mockUserRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (mockUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	return false, nil
}

// ===== FIXTURE HELPERS =====

func objectiveContent(t *testing.T, correct []string, optionKeys ...string) []byte {
	t.Helper()
	options := make([]models.QuestionOption, 0, len(optionKeys))
	for _, key := range optionKeys {
		options = append(options, models.QuestionOption{Key: key, Text: "option " + key})
	}
	content, err := json.Marshal(models.ObjectiveContent{
		Text:        "pick the right options",
		Options:     options,
		CorrectKeys: correct,
	})
	if err != nil {
		t.Fatalf("failed to marshal objective content: %v", err)
	}
	return content
}

func subjectiveContent(t *testing.T) []byte {
	t.Helper()
	content, err := json.Marshal(models.SubjectiveContent{Prompt: "explain your reasoning"})
	if err != nil {
		t.Fatalf("failed to marshal subjective content: %v", err)
	}
	return content
}

func seedPoolQuestion(repo *mockRepository, id uint, qType models.QuestionType, topic string, content []byte) {
	repo.pool = append(repo.pool, &models.PoolQuestion{
		ID:      id,
		Version: 1,
		Type:    qType,
		Topic:   topic,
		Marks:   1,
		Active:  true,
		Content: content,
	})
}

func seedGrader(repo *mockRepository, id string, available bool) {
	repo.nextSeq++
	repo.graders[id] = &models.Grader{
		ID:              id,
		DisplayName:     id,
		Available:       available,
		RegistrationSeq: repo.nextSeq,
	}
}

// seedExam inserts an instance directly with the given snapshot and state.
func seedExam(t *testing.T, repo *mockRepository, subjectID string, state models.ExamState, questions []models.SnapshotQuestion) *models.ExamInstance {
	t.Helper()
	encoded, err := models.EncodeSnapshot(questions)
	if err != nil {
		t.Fatalf("failed to encode snapshot: %v", err)
	}
	repo.nextExamID++
	now := time.Now()
	exam := &models.ExamInstance{
		ID:         repo.nextExamID,
		SubjectID:  subjectID,
		TemplateID: 1,
		Snapshot:   encoded,
		State:      state,
		CreatedAt:  now,
	}
	if state != models.ExamCreated {
		exam.StartedAt = &now
	}
	if state == models.ExamObjectiveSubmitted || state == models.ExamAwaitingGrading || state == models.ExamGraded {
		exam.SubmittedAt = &now
	}
	repo.exams[exam.ID] = exam
	return exam
}

// mixedSnapshot builds a snapshot with two objective questions worth 1 each
// and one subjective question worth the given marks.
func mixedSnapshot(subjectiveMarks float64) []models.SnapshotQuestion {
	return []models.SnapshotQuestion{
		{
			QuestionID: 1, Version: 1, Ordinal: 1, Section: "A",
			Type: models.QuestionObjective, Topic: "algebra", Marks: 1,
			Objective: &models.ObjectiveContent{
				Text:        "q1",
				Options:     []models.QuestionOption{{Key: "a", Text: "a"}, {Key: "b", Text: "b"}},
				CorrectKeys: []string{"a"},
			},
		},
		{
			QuestionID: 2, Version: 1, Ordinal: 2, Section: "A",
			Type: models.QuestionObjective, Topic: "algebra", Marks: 1,
			Objective: &models.ObjectiveContent{
				Text:        "q2",
				Options:     []models.QuestionOption{{Key: "a", Text: "a"}, {Key: "b", Text: "b"}, {Key: "c", Text: "c"}},
				CorrectKeys: []string{"b", "c"},
			},
		},
		{
			QuestionID: 3, Version: 1, Ordinal: 3, Section: "B",
			Type: models.QuestionSubjective, Topic: "essays", Marks: subjectiveMarks,
			Subjective: &models.SubjectiveContent{Prompt: "explain"},
		},
	}
}

func requiredOrdinalsJSON(t *testing.T, ordinals []int) []byte {
	t.Helper()
	encoded, err := json.Marshal(ordinals)
	if err != nil {
		t.Fatalf("failed to marshal ordinals: %v", err)
	}
	return encoded
}

func strPtr(s string) *string { return &s }
