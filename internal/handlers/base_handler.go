package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/services"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/utils"
)

// ErrorResponse is the uniform error payload returned by all handlers
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps successful responses that carry a message
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler provides the logging and error translation shared by all
// HTTP handlers
type BaseHandler struct {
	logger *utils.Logger
}

func NewBaseHandler(logger *utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs an incoming request with the request id from context
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	h.logger.ContextLogger(c.Request.Context()).Info(msg, args...)
}

// LogError logs a handler-level failure with the request id from context
func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	h.logger.ContextLogger(c.Request.Context()).Error(msg, append([]any{"error", err}, args...)...)
}

// parseIDParam parses a positive numeric path parameter. Writes the 400
// response itself so callers can just return on false; zero is rejected
// because no entity ever carries id 0.
func (h *BaseHandler) parseIDParam(c *gin.Context, param string) (uint, bool) {
	idStr := c.Param(param)
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
		})
		return 0, false
	}
	return uint(id), true
}

// currentUserID pulls the authenticated user id set by the auth middleware.
// Writes the 401 response itself so callers can just return on false.
func (h *BaseHandler) currentUserID(c *gin.Context) (string, bool) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	return userID, true
}

// handleServiceError translates service layer errors into HTTP responses
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	// Handle custom error types first
	var validationError *services.ValidationError
	if errors.As(err, &validationError) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: map[string]interface{}{
				"field":   validationError.Field,
				"message": validationError.Message,
				"value":   validationError.Value,
			},
		})
		return
	}

	var insufficientError *services.InsufficientQuestionsError
	if errors.As(err, &insufficientError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Question pool cannot satisfy the template",
			Details: map[string]interface{}{
				"section": insufficientError.Section,
				"topic":   insufficientError.Topic,
				"need":    insufficientError.Need,
				"have":    insufficientError.Have,
			},
		})
		return
	}

	var marksError *services.MarksOutOfRangeError
	if errors.As(err, &marksError) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Marks out of range",
			Details: map[string]interface{}{
				"ordinal": marksError.Ordinal,
				"marks":   marksError.Marks,
				"max":     marksError.Max,
			},
		})
		return
	}

	var limitError *services.LimitExceededError
	if errors.As(err, &limitError) {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Message: "Monthly exam limit reached",
			Details: map[string]interface{}{
				"subject_id": limitError.SubjectID,
				"limit":      limitError.Limit,
			},
		})
		return
	}

	var duplicateError *services.DuplicateTaskError
	if errors.As(err, &duplicateError) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Exam already has an active evaluation task",
			Details: map[string]interface{}{
				"exam_id":          duplicateError.ExamID,
				"existing_task_id": duplicateError.ExistingTaskID,
			},
		})
		return
	}

	var stateError *services.StateError
	if errors.As(err, &stateError) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Operation not allowed in current state",
			Details: map[string]interface{}{
				"entity":    stateError.Entity,
				"entity_id": stateError.EntityID,
				"current":   stateError.Current,
				"attempted": stateError.Attempted,
			},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	var transientError *services.TransientError
	if errors.As(err, &transientError) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Message: "Operation temporarily unavailable, retry later",
			Details: map[string]interface{}{
				"op":       transientError.Op,
				"attempts": transientError.Attempts,
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrExamNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Exam not found",
		})
	case errors.Is(err, services.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Evaluation task not found",
		})
	case errors.Is(err, services.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Exam template not found",
		})
	case errors.Is(err, services.ErrGraderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Grader not found",
		})
	default:
		h.logger.Error("Unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
