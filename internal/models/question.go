package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	QuestionObjective  QuestionType = "objective"
	QuestionSubjective QuestionType = "subjective"
)

type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

// PoolQuestion is the read model for the externally owned question pool.
// This service only reads active rows; creation and versioning happen in the
// question-bank system.
type PoolQuestion struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	Version    int             `json:"version" gorm:"not null;default:1"`
	Type       QuestionType    `json:"type" gorm:"not null;index"`
	Topic      string          `json:"topic" gorm:"not null;index;size:100"`
	Difficulty DifficultyLevel `json:"difficulty" gorm:"default:medium;index"`
	Marks      float64         `json:"marks" gorm:"not null" validate:"gt=0"`
	Active     bool            `json:"active" gorm:"default:true;index"`

	// Content stored as JSONB; shape depends on Type (ObjectiveContent or
	// SubjectiveContent).
	Content datatypes.JSON `json:"content" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PoolQuestion) TableName() string {
	return "pool_questions"
}

// ObjectiveContent is the displayable payload of an auto-gradable question.
// CorrectKeys holds the option keys forming the exact correct set.
type ObjectiveContent struct {
	Text           string           `json:"text" validate:"required"`
	Options        []QuestionOption `json:"options" validate:"required,min=2"`
	CorrectKeys    []string         `json:"correct_keys" validate:"required,min=1"`
	AttachmentRefs []string         `json:"attachment_refs,omitempty"` // blob-store object keys, resolved to signed URLs by the caller
}

type QuestionOption struct {
	Key  string `json:"key" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// SubjectiveContent is the payload of a human-graded question.
type SubjectiveContent struct {
	Prompt         string   `json:"prompt" validate:"required"`
	GuidanceNote   string   `json:"guidance_note,omitempty"`
	MaxWords       *int     `json:"max_words,omitempty"`
	AttachmentRefs []string `json:"attachment_refs,omitempty"`
}

// SnapshotQuestion is the point-in-time copy of a pool question captured into
// an exam snapshot. Ordinals are stable and used for all answer and grade
// correlation; the struct is never rewritten after the snapshot is persisted.
type SnapshotQuestion struct {
	QuestionID uint         `json:"question_id"`
	Version    int          `json:"version"`
	Ordinal    int          `json:"ordinal"`
	Section    string       `json:"section"`
	Type       QuestionType `json:"type"`
	Topic      string       `json:"topic"`
	Marks      float64      `json:"marks"`

	Objective  *ObjectiveContent  `json:"objective,omitempty"`
	Subjective *SubjectiveContent `json:"subjective,omitempty"`
}

// DecodeContent unmarshals the JSONB content of a pool question into the
// variant matching its type.
func (q *PoolQuestion) DecodeContent() (*ObjectiveContent, *SubjectiveContent, error) {
	switch q.Type {
	case QuestionObjective:
		var content ObjectiveContent
		if err := json.Unmarshal(q.Content, &content); err != nil {
			return nil, nil, fmt.Errorf("failed to decode objective content for question %d: %w", q.ID, err)
		}
		return &content, nil, nil
	case QuestionSubjective:
		var content SubjectiveContent
		if err := json.Unmarshal(q.Content, &content); err != nil {
			return nil, nil, fmt.Errorf("failed to decode subjective content for question %d: %w", q.ID, err)
		}
		return nil, &content, nil
	default:
		return nil, nil, fmt.Errorf("unknown question type %q for question %d", q.Type, q.ID)
	}
}

// ExamTemplate describes the section structure an exam instance is generated
// from. Read-only input; never mutated by this service.
type ExamTemplate struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	Title       string  `json:"title" gorm:"not null;size:255" validate:"required,max=255"`
	Description *string `json:"description" gorm:"type:text"`
	Active      bool    `json:"active" gorm:"default:true;index"`

	CreatedBy string    `json:"created_by" gorm:"index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Sections []SectionSpec `json:"sections" gorm:"foreignKey:TemplateID"`
}

func (ExamTemplate) TableName() string {
	return "exam_templates"
}

// SectionSpec is one section of a template: how many questions of which type
// to draw, how topics are weighted, and the marks per question.
type SectionSpec struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	TemplateID uint `json:"template_id" gorm:"not null;index"`

	Section          string       `json:"section" gorm:"not null;size:100" validate:"required"`
	QuestionType     QuestionType `json:"question_type" gorm:"not null" validate:"required,oneof=objective subjective"`
	Count            int          `json:"count" gorm:"not null" validate:"min=1"`
	MarksPerQuestion float64      `json:"marks_per_question" gorm:"not null" validate:"gt=0"`
	Position         int          `json:"position" gorm:"not null;default:0"`

	// TopicWeights maps topic tag to relative weight; empty means any topic.
	TopicWeights datatypes.JSONMap `json:"topic_weights" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SectionSpec) TableName() string {
	return "section_specs"
}

// Weights returns the topic weights as a plain map. Non-numeric values are
// ignored.
func (s *SectionSpec) Weights() map[string]float64 {
	weights := make(map[string]float64, len(s.TopicWeights))
	for topic, raw := range s.TopicWeights {
		switch v := raw.(type) {
		case float64:
			weights[topic] = v
		case int:
			weights[topic] = float64(v)
		case json.Number:
			if f, err := v.Float64(); err == nil {
				weights[topic] = f
			}
		}
	}
	return weights
}

// TotalQuestions is the number of questions a fully assembled instance of
// this template must contain.
func (t *ExamTemplate) TotalQuestions() int {
	total := 0
	for _, section := range t.Sections {
		total += section.Count
	}
	return total
}
