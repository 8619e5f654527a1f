package validator

// StartExamRequest starts a new exam instance from a template. The subject
// is taken from the authenticated caller, never from the body.
type StartExamRequest struct {
	TemplateID uint `json:"template_id" validate:"required"`
}

// AnswerSubmission is one response keyed by snapshot ordinal. Objective
// ordinals carry SelectedKeys; subjective ordinals carry Text.
type AnswerSubmission struct {
	Ordinal      int      `json:"ordinal" validate:"required,min=1"`
	SelectedKeys []string `json:"selected_keys" validate:"omitempty,option_keys"`
	Text         *string  `json:"text" validate:"omitempty,max=20000"`
}

// SubmitAnswersRequest submits the full answer sheet in one call.
type SubmitAnswersRequest struct {
	Answers []AnswerSubmission `json:"answers" validate:"required,min=1,dive"`
}

// SubmitGradeRequest records a grading decision for one subjective ordinal.
// The upper marks bound depends on the snapshot and is enforced by the
// grading service, not here.
type SubmitGradeRequest struct {
	Ordinal int     `json:"ordinal" validate:"required,min=1"`
	Marks   float64 `json:"marks" validate:"min=0"`
	Note    *string `json:"note" validate:"omitempty,max=2000"`
}

// GraderAvailabilityRequest toggles whether a grader receives assignments.
type GraderAvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}
