package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/services"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/utils"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/validator"
)

type ExamHandler struct {
	BaseHandler
	examService services.ExamService
	validator   *validator.Validator
}

func NewExamHandler(
	examService services.ExamService,
	validator *validator.Validator,
	logger *utils.Logger,
) *ExamHandler {
	return &ExamHandler{
		BaseHandler: NewBaseHandler(logger),
		examService: examService,
		validator:   validator,
	}
}

// StartExam creates a new exam instance from a template
// @Summary Start exam
// @Description Assembles a question snapshot from the template and creates a new exam instance
// @Tags exams
// @Accept json
// @Produce json
// @Param request body validator.StartExamRequest true "Template to instantiate"
// @Success 201 {object} services.ExamView
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /exams/start [post]
func (h *ExamHandler) StartExam(c *gin.Context) {
	var req validator.StartExamRequest
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

	subjectID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting exam", "subject_id", subjectID, "template_id", req.TemplateID)

	exam, err := h.examService.StartExam(c.Request.Context(), subjectID, req.TemplateID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exam)
}

// BeginExam moves a created exam into progress
// @Summary Begin exam
// @Description Marks the exam as in progress, from which answers may be submitted
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} services.ExamView
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /exams/{id}/begin [post]
func (h *ExamHandler) BeginExam(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	subjectID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Beginning exam", "exam_id", id)

	exam, err := h.examService.BeginExam(c.Request.Context(), id, subjectID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// SubmitAnswers records the answer sheet and scores the objective part
// @Summary Submit answers
// @Description Accepts the full answer sheet, scores objective questions and routes subjective ones to grading
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param request body validator.SubmitAnswersRequest true "Answer sheet"
// @Success 200 {object} services.ScoreSummary
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /exams/{id}/answers [post]
func (h *ExamHandler) SubmitAnswers(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req validator.SubmitAnswersRequest
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

	subjectID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting answers", "exam_id", id, "answer_count", len(req.Answers))

	answers := make([]services.AnswerInput, len(req.Answers))
	for i, a := range req.Answers {
		answers[i] = services.AnswerInput{
			Ordinal:      a.Ordinal,
			SelectedKeys: a.SelectedKeys,
			Text:         a.Text,
		}
	}

	summary, err := h.examService.SubmitObjectiveAnswers(c.Request.Context(), id, subjectID, answers)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetExam retrieves an exam instance for its owner
// @Summary Get exam
// @Description Retrieves the exam with its question snapshot, correct keys stripped
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} services.ExamView
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id} [get]
func (h *ExamHandler) GetExam(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	subjectID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Getting exam", "exam_id", id)

	exam, err := h.examService.GetExam(c.Request.Context(), id, subjectID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}
