package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/events"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
)

// testCalendar works 09:00 to 18:00, Monday through Friday, no exclusions.
func testCalendar() models.WorkCalendar {
	cal, err := models.NewWorkCalendar("09:00", "18:00", []time.Weekday{time.Saturday, time.Sunday}, nil)
	if err != nil {
		panic(err)
	}
	return cal
}

func newSchedulerForTest(repo *mockRepository, publisher *mockPublisher) *schedulerService {
	svc := NewSchedulerService(repo, testLogger(), publisher, SchedulerConfig{
		Calendar: testCalendar(),
		SLAHours: 3,
	}).(*schedulerService)
	return svc
}

// seedAwaitingExam creates a submitted exam whose submission time is the
// given instant.
func seedAwaitingExam(t *testing.T, repo *mockRepository, subjectID string, submittedAt time.Time) *models.ExamInstance {
	t.Helper()
	exam := seedExam(t, repo, subjectID, models.ExamAwaitingGrading, mixedSnapshot(3))
	exam.SubmittedAt = &submittedAt
	return exam
}

func TestRequestGradingAssignment_CreatesTaskWithBusinessDeadline(t *testing.T) {
	repo := newMockRepository()
	publisher := newMockPublisher()
	// Wednesday 2025-03-05 10:00, three working hours ahead is 13:00.
	submitted := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	exam := seedAwaitingExam(t, repo, "student-1", submitted)
	seedGrader(repo, "grader-1", true)
	svc := newSchedulerForTest(repo, publisher)

	task, err := svc.RequestGradingAssignment(context.Background(), exam.ID)
	if err != nil {
		t.Fatalf("RequestGradingAssignment() error = %v", err)
	}

	want := time.Date(2025, 3, 5, 13, 0, 0, 0, time.UTC)
	if !task.Deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", task.Deadline, want)
	}
	if task.State != models.TaskAssigned {
		t.Errorf("state = %s, want assigned with a grader available", task.State)
	}
	if task.GraderID == nil || *task.GraderID != "grader-1" {
		t.Errorf("grader = %v, want grader-1", task.GraderID)
	}
	if got := len(publisher.GetPublishedEvents("task.created")); got != 1 {
		t.Errorf("task.created events = %d, want 1", got)
	}
	if got := len(publisher.GetPublishedEvents("task.assigned")); got != 1 {
		t.Errorf("task.assigned events = %d, want 1", got)
	}
}

func TestRequestGradingAssignment_DeadlineRollsOverWeekend(t *testing.T) {
	repo := newMockRepository()
	// Friday 17:30 plus three working hours: 30 minutes on Friday, the
	// remaining 2.5 hours resume Monday 09:00.
	submitted := time.Date(2025, 3, 7, 17, 30, 0, 0, time.UTC)
	exam := seedAwaitingExam(t, repo, "student-1", submitted)
	svc := newSchedulerForTest(repo, newMockPublisher())

	task, err := svc.RequestGradingAssignment(context.Background(), exam.ID)
	if err != nil {
		t.Fatalf("RequestGradingAssignment() error = %v", err)
	}
	want := time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC)
	if !task.Deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", task.Deadline, want)
	}
	if task.State != models.TaskQueued {
		t.Errorf("state = %s, want queued with no graders registered", task.State)
	}
}

func TestRequestGradingAssignment_DuplicateSurfacesExistingTask(t *testing.T) {
	repo := newMockRepository()
	submitted := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	exam := seedAwaitingExam(t, repo, "student-1", submitted)
	svc := newSchedulerForTest(repo, newMockPublisher())
	ctx := context.Background()

	first, err := svc.RequestGradingAssignment(ctx, exam.ID)
	if err != nil {
		t.Fatalf("first request error = %v", err)
	}

	_, err = svc.RequestGradingAssignment(ctx, exam.ID)
	var dupErr *DuplicateTaskError
	if !errors.As(err, &dupErr) {
		t.Fatalf("second request error = %v, want DuplicateTaskError", err)
	}
	if dupErr.ExistingTaskID != first.ID {
		t.Errorf("ExistingTaskID = %d, want %d", dupErr.ExistingTaskID, first.ID)
	}
	if len(repo.tasks) != 1 {
		t.Errorf("task count = %d, want exactly 1", len(repo.tasks))
	}
}

func TestRequestGradingAssignment_StateChecks(t *testing.T) {
	repo := newMockRepository()
	inProgress := seedExam(t, repo, "student-1", models.ExamInProgress, mixedSnapshot(3))
	svc := newSchedulerForTest(repo, newMockPublisher())
	ctx := context.Background()

	_, err := svc.RequestGradingAssignment(ctx, inProgress.ID)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("error = %v, want StateError", err)
	}
	if stateErr.Current != string(models.ExamInProgress) {
		t.Errorf("StateError.Current = %s, want in_progress", stateErr.Current)
	}

	_, err = svc.RequestGradingAssignment(ctx, 999)
	if !errors.Is(err, ErrExamNotFound) {
		t.Errorf("error = %v, want ErrExamNotFound", err)
	}
}

func TestAssignment_LeastLoadedWithRegistrationTiebreak(t *testing.T) {
	repo := newMockRepository()
	publisher := newMockPublisher()
	svc := newSchedulerForTest(repo, publisher)
	ctx := context.Background()

	// grader-1 registered first, both start idle.
	seedGrader(repo, "grader-1", true)
	seedGrader(repo, "grader-2", true)

	base := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		exam := seedAwaitingExam(t, repo, "student", base.Add(time.Duration(i)*time.Minute))
		if _, err := svc.RequestGradingAssignment(ctx, exam.ID); err != nil {
			t.Fatalf("request %d error = %v", i, err)
		}
	}

	counts := make(map[string]int)
	firstGrader := ""
	for _, task := range repo.tasks {
		if task.GraderID == nil {
			t.Fatalf("task %d unassigned", task.ID)
		}
		counts[*task.GraderID]++
		if task.ID == 1 {
			firstGrader = *task.GraderID
		}
	}
	if counts["grader-1"] != 2 || counts["grader-2"] != 2 {
		t.Errorf("load split = %v, want 2/2", counts)
	}
	// Idle tie on the first task breaks toward the earliest registration.
	if firstGrader != "grader-1" {
		t.Errorf("first task went to %s, want grader-1", firstGrader)
	}
}

func TestTick_MarksBreachesIdempotently(t *testing.T) {
	repo := newMockRepository()
	publisher := newMockPublisher()
	submitted := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	exam := seedAwaitingExam(t, repo, "student-1", submitted)
	seedGrader(repo, "grader-1", true)
	svc := newSchedulerForTest(repo, publisher)
	ctx := context.Background()

	task, err := svc.RequestGradingAssignment(ctx, exam.ID)
	if err != nil {
		t.Fatalf("RequestGradingAssignment() error = %v", err)
	}

	// Sweep before the deadline: nothing flagged.
	svc.now = func() time.Time { return task.Deadline.Add(-time.Minute) }
	if err := svc.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if repo.tasks[task.ID].Breached {
		t.Fatal("task flagged before its deadline")
	}

	// Sweep after the deadline flags it exactly once.
	svc.now = func() time.Time { return task.Deadline.Add(time.Minute) }
	if err := svc.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !repo.tasks[task.ID].Breached {
		t.Fatal("task not flagged after its deadline")
	}
	if got := len(publisher.GetPublishedEvents("sla.breached")); got != 1 {
		t.Fatalf("sla.breached events = %d, want 1", got)
	}

	// Redundant sweeps neither re-flag nor re-publish.
	if err := svc.Tick(ctx); err != nil {
		t.Fatalf("redundant Tick() error = %v", err)
	}
	if got := len(publisher.GetPublishedEvents("sla.breached")); got != 1 {
		t.Errorf("sla.breached events after redundant sweep = %d, want 1", got)
	}
	if !repo.tasks[task.ID].Breached {
		t.Error("sweep cleared a breach flag")
	}
}

func TestTick_AssignsQueuedTasksInDeadlineOrder(t *testing.T) {
	repo := newMockRepository()
	svc := newSchedulerForTest(repo, newMockPublisher())
	ctx := context.Background()

	// Two queued tasks, later deadline created first.
	late := seedAwaitingExam(t, repo, "student", time.Date(2025, 3, 6, 10, 0, 0, 0, time.UTC))
	early := seedAwaitingExam(t, repo, "student", time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC))
	if _, err := svc.RequestGradingAssignment(ctx, late.ID); err != nil {
		t.Fatalf("request error = %v", err)
	}
	if _, err := svc.RequestGradingAssignment(ctx, early.ID); err != nil {
		t.Fatalf("request error = %v", err)
	}

	// One grader arrives; the sweep hands out both, earliest deadline first.
	seedGrader(repo, "grader-1", true)
	if err := svc.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	for _, task := range repo.tasks {
		if task.State != models.TaskAssigned {
			t.Errorf("task %d state = %s, want assigned", task.ID, task.State)
		}
	}
}

func TestSetGraderAvailability_RequeuePreservesGrades(t *testing.T) {
	repo := newMockRepository()
	publisher := newMockPublisher()
	submitted := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	exam := seedAwaitingExam(t, repo, "student-1", submitted)
	seedGrader(repo, "grader-1", true)
	svc := newSchedulerForTest(repo, publisher)
	grading := NewGradingService(repo, testLogger(), publisher)
	ctx := context.Background()

	task, err := svc.RequestGradingAssignment(ctx, exam.ID)
	if err != nil {
		t.Fatalf("RequestGradingAssignment() error = %v", err)
	}
	if _, err := grading.SubmitGrade(ctx, task.ID, "grader-1", 3, 2, nil); err != nil {
		t.Fatalf("SubmitGrade() error = %v", err)
	}

	if err := svc.SetGraderAvailability(ctx, "grader-1", false); err != nil {
		t.Fatalf("SetGraderAvailability() error = %v", err)
	}

	requeued := repo.tasks[task.ID]
	if requeued.State != models.TaskQueued {
		t.Errorf("state = %s, want queued", requeued.State)
	}
	if requeued.GraderID != nil {
		t.Errorf("grader = %v, want nil after requeue", requeued.GraderID)
	}
	grades, _ := repo.Grade().GetByTask(ctx, task.ID)
	if len(grades) != 1 || grades[0].MarksAwarded != 2 {
		t.Errorf("grades = %v, captured grade must survive requeue", grades)
	}
	if got := len(publisher.GetPublishedEvents("task.requeued")); got != 1 {
		t.Errorf("task.requeued events = %d, want 1", got)
	}

	// A second grader comes online and picks the task back up.
	seedGrader(repo, "grader-2", true)
	if err := svc.SetGraderAvailability(ctx, "grader-2", true); err != nil {
		t.Fatalf("SetGraderAvailability(true) error = %v", err)
	}
	reassigned := repo.tasks[task.ID]
	if reassigned.State != models.TaskAssigned || reassigned.GraderID == nil || *reassigned.GraderID != "grader-2" {
		t.Errorf("task not reassigned to grader-2: state=%s grader=%v", reassigned.State, reassigned.GraderID)
	}
}

func TestSetGraderAvailability_UnknownGrader(t *testing.T) {
	svc := newSchedulerForTest(newMockRepository(), newMockPublisher())
	err := svc.SetGraderAvailability(context.Background(), "nobody", false)
	if !errors.Is(err, ErrGraderNotFound) {
		t.Errorf("error = %v, want ErrGraderNotFound", err)
	}
}

func TestGetGraderQueue_EarliestDeadlineFirst(t *testing.T) {
	repo := newMockRepository()
	seedGrader(repo, "grader-1", true)
	svc := newSchedulerForTest(repo, newMockPublisher())
	ctx := context.Background()

	// Submissions a day apart produce deadlines a day apart; the later one
	// is requested first.
	late := seedAwaitingExam(t, repo, "student", time.Date(2025, 3, 6, 10, 0, 0, 0, time.UTC))
	early := seedAwaitingExam(t, repo, "student", time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC))
	if _, err := svc.RequestGradingAssignment(ctx, late.ID); err != nil {
		t.Fatalf("request error = %v", err)
	}
	if _, err := svc.RequestGradingAssignment(ctx, early.ID); err != nil {
		t.Fatalf("request error = %v", err)
	}

	queue, err := svc.GetGraderQueue(ctx, "grader-1")
	if err != nil {
		t.Fatalf("GetGraderQueue() error = %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(queue))
	}
	if !queue[0].Deadline.Before(queue[1].Deadline) {
		t.Errorf("queue not in deadline order: %v then %v", queue[0].Deadline, queue[1].Deadline)
	}
	if len(queue[0].Ordinals) != 1 || queue[0].Ordinals[0] != 3 {
		t.Errorf("ordinals = %v, want [3]", queue[0].Ordinals)
	}

	_, err = svc.GetGraderQueue(ctx, "nobody")
	if !errors.Is(err, ErrGraderNotFound) {
		t.Errorf("unknown grader error = %v, want ErrGraderNotFound", err)
	}
}

func TestStartTask(t *testing.T) {
	repo := newMockRepository()
	submitted := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	exam := seedAwaitingExam(t, repo, "student-1", submitted)
	seedGrader(repo, "grader-1", true)
	svc := newSchedulerForTest(repo, newMockPublisher())
	ctx := context.Background()

	task, err := svc.RequestGradingAssignment(ctx, exam.ID)
	if err != nil {
		t.Fatalf("RequestGradingAssignment() error = %v", err)
	}

	started, err := svc.StartTask(ctx, task.ID, "grader-1")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	if started.State != models.TaskInProgress {
		t.Errorf("state = %s, want in_progress", started.State)
	}

	if _, err := svc.StartTask(ctx, task.ID, "grader-2"); !IsPermissionError(err) {
		t.Errorf("foreign grader error = %v, want PermissionError", err)
	}
}

func TestScheduler_StartStopAndCommandDispatch(t *testing.T) {
	repo := newMockRepository()
	submitted := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	exam := seedAwaitingExam(t, repo, "student-1", submitted)
	seedGrader(repo, "grader-1", true)
	svc := newSchedulerForTest(repo, newMockPublisher())
	svc.sweepInterval = time.Hour // keep the ticker quiet during the test
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	// Requests made while running route through the loop goroutine.
	task, err := svc.RequestGradingAssignment(ctx, exam.ID)
	if err != nil {
		t.Fatalf("RequestGradingAssignment() error = %v", err)
	}
	if task.State != models.TaskAssigned {
		t.Errorf("state = %s, want assigned", task.State)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestScheduler_StopWithConcurrentPublishers(t *testing.T) {
	svc := newSchedulerForTest(newMockRepository(), newMockPublisher())
	svc.sweepInterval = time.Hour
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Hammer publish from several goroutines while Stop runs. A send racing
	// the event channel close panics the process, so surviving the join is
	// the assertion.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				svc.publish(ctx, events.TypeTaskAssigned, map[string]interface{}{"task_id": j})
			}
		}()
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	wg.Wait()
}
