package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/services"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/utils"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/validator"
)

type TaskHandler struct {
	BaseHandler
	schedulerService services.SchedulerService
	gradingService   services.GradingService
	validator        *validator.Validator
}

func NewTaskHandler(
	schedulerService services.SchedulerService,
	gradingService services.GradingService,
	validator *validator.Validator,
	logger *utils.Logger,
) *TaskHandler {
	return &TaskHandler{
		BaseHandler:      NewBaseHandler(logger),
		schedulerService: schedulerService,
		gradingService:   gradingService,
		validator:        validator,
	}
}

// RequestGradingAssignment creates the evaluation task for a submitted exam
// @Summary Request grading assignment
// @Description Creates an evaluation task with an SLA deadline for the exam's subjective questions
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 201 {object} models.EvaluationTask
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /exams/{id}/grading-request [post]
func (h *TaskHandler) RequestGradingAssignment(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	h.LogRequest(c, "Requesting grading assignment", "exam_id", id)

	task, err := h.schedulerService.RequestGradingAssignment(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// StartTask moves an assigned task into progress for the calling grader
// @Summary Start task
// @Description Marks an assigned evaluation task as in progress
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path uint true "Task ID"
// @Success 200 {object} models.EvaluationTask
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tasks/{id}/start [post]
func (h *TaskHandler) StartTask(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	graderID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting evaluation task", "task_id", id)

	task, err := h.schedulerService.StartTask(c.Request.Context(), id, graderID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// SubmitGrade records marks for one subjective question
// @Summary Submit grade
// @Description Records marks for one subjective question on the calling grader's task
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path uint true "Task ID"
// @Param request body validator.SubmitGradeRequest true "Grade data"
// @Success 200 {object} models.Grade
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tasks/{id}/grades [post]
func (h *TaskHandler) SubmitGrade(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req validator.SubmitGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if errs := h.validator.Validate(req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: errs,
		})
		return
	}

	graderID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting grade", "task_id", id, "ordinal", req.Ordinal)

	grade, err := h.gradingService.SubmitGrade(c.Request.Context(), id, graderID, req.Ordinal, req.Marks, req.Note)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grade)
}

// CompleteGrading finalizes the task and the exam's composite score
// @Summary Complete grading
// @Description Verifies every required question is graded, completes the task and finalizes exam scores
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path uint true "Task ID"
// @Success 200 {object} services.ScoreSummary
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tasks/{id}/complete [post]
func (h *TaskHandler) CompleteGrading(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	graderID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Completing grading", "task_id", id)

	summary, err := h.gradingService.CompleteGrading(c.Request.Context(), id, graderID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetGraderQueue lists a grader's pending tasks in deadline order
// @Summary Get grader queue
// @Description Lists the grader's assigned and in-progress tasks ordered by deadline
// @Tags graders
// @Accept json
// @Produce json
// @Param id path string true "Grader ID"
// @Success 200 {array} services.GraderQueueEntry
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /graders/{id}/queue [get]
func (h *TaskHandler) GetGraderQueue(c *gin.Context) {
	graderID := c.Param("id")
	if !h.authorizeGraderAccess(c, graderID) {
		return
	}

	h.LogRequest(c, "Getting grader queue", "grader_id", graderID)

	queue, err := h.schedulerService.GetGraderQueue(c.Request.Context(), graderID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, queue)
}

// SetGraderAvailability toggles a grader's availability
// @Summary Set grader availability
// @Description Marks the grader available or unavailable; going unavailable requeues their open tasks
// @Tags graders
// @Accept json
// @Produce json
// @Param id path string true "Grader ID"
// @Param request body validator.GraderAvailabilityRequest true "Availability flag"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /graders/{id}/availability [put]
func (h *TaskHandler) SetGraderAvailability(c *gin.Context) {
	graderID := c.Param("id")
	if !h.authorizeGraderAccess(c, graderID) {
		return
	}

	var req validator.GraderAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if errs := h.validator.Validate(req); errs.HasErrors() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: errs,
		})
		return
	}

	h.LogRequest(c, "Setting grader availability", "grader_id", graderID, "available", *req.Available)

	if err := h.schedulerService.SetGraderAvailability(c.Request.Context(), graderID, *req.Available); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Availability updated",
	})
}

// authorizeGraderAccess allows a grader to act on their own resources and
// admins to act on any. Writes the 403 response itself.
func (h *TaskHandler) authorizeGraderAccess(c *gin.Context, graderID string) bool {
	userID, ok := h.currentUserID(c)
	if !ok {
		return false
	}

	role, err := GetUserRoleFromContext(c)
	if err == nil && role == models.RoleAdmin {
		return true
	}

	if userID != graderID {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: "graders may only access their own queue",
		})
		return false
	}

	return true
}
