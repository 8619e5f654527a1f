package models

// ExamState is the lifecycle state of an exam instance. States only move
// forward; ExamGraded is terminal.
type ExamState string

const (
	ExamCreated            ExamState = "created"
	ExamInProgress         ExamState = "in_progress"
	ExamObjectiveSubmitted ExamState = "objective_submitted"
	ExamAwaitingGrading    ExamState = "awaiting_grading"
	ExamGraded             ExamState = "graded"
)

// CanTransitionExam reports whether an exam instance may move from one state
// to another. The objective_submitted state forks: instances with subjective
// questions go through awaiting_grading, instances without skip straight to
// graded. No other skips are legal.
func CanTransitionExam(from, to ExamState, hasSubjective bool) bool {
	switch from {
	case ExamCreated:
		return to == ExamInProgress
	case ExamInProgress:
		return to == ExamObjectiveSubmitted
	case ExamObjectiveSubmitted:
		if hasSubjective {
			return to == ExamAwaitingGrading
		}
		return to == ExamGraded
	case ExamAwaitingGrading:
		return to == ExamGraded
	case ExamGraded:
		return false
	default:
		return false
	}
}

// IsTerminalExamState reports whether no further transitions are legal.
func IsTerminalExamState(state ExamState) bool {
	return state == ExamGraded
}

// TaskState is the lifecycle state of an evaluation task.
type TaskState string

const (
	TaskQueued     TaskState = "queued"
	TaskAssigned   TaskState = "assigned"
	TaskInProgress TaskState = "in_progress"
	TaskCompleted  TaskState = "completed"
)

// CanTransitionTask reports whether an evaluation task may move between
// states. Assigned and in-progress tasks may return to queued when their
// grader becomes unavailable; completed is terminal.
func CanTransitionTask(from, to TaskState) bool {
	switch from {
	case TaskQueued:
		return to == TaskAssigned
	case TaskAssigned:
		return to == TaskInProgress || to == TaskQueued
	case TaskInProgress:
		return to == TaskCompleted || to == TaskQueued
	case TaskCompleted:
		return false
	default:
		return false
	}
}
