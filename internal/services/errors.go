package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for missing entities.
var (
	ErrExamNotFound     = errors.New("exam instance not found")
	ErrTaskNotFound     = errors.New("evaluation task not found")
	ErrTemplateNotFound = errors.New("exam template not found")
	ErrGraderNotFound   = errors.New("grader not found")
	ErrSchedulerStopped = errors.New("scheduler is not running")
)

// ValidationError is a caller mistake: reported immediately, never retried,
// no partial effect.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// StateError signals an illegal transition or a stale client view. Current
// always carries the authoritative state so the caller can resynchronize;
// the entity is never coerced into the attempted state.
type StateError struct {
	Entity    string `json:"entity"`
	EntityID  uint   `json:"entity_id"`
	Current   string `json:"current"`
	Attempted string `json:"attempted"`
}

func (e *StateError) Error() string {
	return fmt.Sprintf("illegal state transition for %s %d: %s -> %s", e.Entity, e.EntityID, e.Current, e.Attempted)
}

func NewStateError(entity string, entityID uint, current, attempted string) *StateError {
	return &StateError{Entity: entity, EntityID: entityID, Current: current, Attempted: attempted}
}

// InsufficientQuestionsError means a template section cannot be filled from
// the active pool, even after redistributing shortfall across topics. The
// caller gets the exact gap, never a silently under-filled exam.
type InsufficientQuestionsError struct {
	Section string `json:"section"`
	Topic   string `json:"topic,omitempty"`
	Need    int    `json:"need"`
	Have    int    `json:"have"`
}

func (e *InsufficientQuestionsError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("insufficient questions for section %q topic %q: need %d, have %d", e.Section, e.Topic, e.Need, e.Have)
	}
	return fmt.Sprintf("insufficient questions for section %q: need %d, have %d", e.Section, e.Need, e.Have)
}

// MarksOutOfRangeError rejects a grade outside [0, marks possible].
type MarksOutOfRangeError struct {
	Ordinal int     `json:"ordinal"`
	Marks   float64 `json:"marks"`
	Max     float64 `json:"max"`
}

func (e *MarksOutOfRangeError) Error() string {
	return fmt.Sprintf("marks %.2f out of range for ordinal %d: allowed 0 to %.2f", e.Marks, e.Ordinal, e.Max)
}

// DuplicateTaskError is what the loser of a concurrent task creation race
// observes: the task already exists, with its id attached.
type DuplicateTaskError struct {
	ExamID         uint `json:"exam_id"`
	ExistingTaskID uint `json:"existing_task_id"`
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("evaluation task already exists for exam %d (task %d)", e.ExamID, e.ExistingTaskID)
}

// LimitExceededError means the subject's monthly exam ceiling was hit by the
// atomic increment.
type LimitExceededError struct {
	SubjectID string `json:"subject_id"`
	Limit     int    `json:"limit"`
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("monthly exam limit of %d reached for subject %s", e.Limit, e.SubjectID)
}

// PermissionError rejects a caller acting on a resource that is not theirs.
type PermissionError struct {
	UserID     string `json:"user_id"`
	ResourceID uint   `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// TransientError surfaces only after internal bounded retries exhaust on a
// contended resource. Distinct from validation and state errors so callers
// know a plain retry may succeed.
type TransientError struct {
	Op       string `json:"op"`
	Attempts int    `json:"attempts"`
	Err      error  `json:"-"`
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("operation %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ===== CLASSIFICATION =====

func IsValidationError(err error) bool {
	var ve *ValidationError
	var iq *InsufficientQuestionsError
	var mr *MarksOutOfRangeError
	var le *LimitExceededError
	return errors.As(err, &ve) || errors.As(err, &iq) || errors.As(err, &mr) || errors.As(err, &le)
}

func IsStateError(err error) bool {
	var se *StateError
	var de *DuplicateTaskError
	return errors.As(err, &se) || errors.As(err, &de)
}

func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrGraderNotFound)
}
