package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError describes one failed rule on one field.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	messages := make([]string, len(e))
	for i, err := range e {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ToValidationErrors converts go-playground errors into the local shape.
func ToValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	var errors ValidationErrors
	if fieldErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrors {
			errors = append(errors, ValidationError{
				Field:   strings.ToLower(fe.Field()),
				Message: messageForTag(fe),
				Value:   fe.Value(),
				Rule:    fe.Tag(),
			})
		}
		return errors
	}

	return ValidationErrors{{Field: "request", Message: err.Error(), Rule: "invalid"}}
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "topic_weights":
		return "topic weights must be positive numbers"
	case "option_keys":
		return "option keys must be non-empty and unique"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// Validator wraps the struct validator with the custom rules the request
// DTOs use.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{validate: validator.New()}
	v.registerRules()
	return v
}

// Validate runs struct validation and returns nil when everything passes.
func (v *Validator) Validate(s interface{}) ValidationErrors {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

func (v *Validator) registerRules() {
	// Topic weights: every value must be a positive number.
	v.validate.RegisterValidation("topic_weights", func(fl validator.FieldLevel) bool {
		weights, ok := fl.Field().Interface().(map[string]float64)
		if !ok {
			return false
		}
		for _, w := range weights {
			if w <= 0 {
				return false
			}
		}
		return true
	})

	// Selected option keys: non-empty, unique entries.
	v.validate.RegisterValidation("option_keys", func(fl validator.FieldLevel) bool {
		keys, ok := fl.Field().Interface().([]string)
		if !ok {
			return false
		}
		seen := make(map[string]bool, len(keys))
		for _, key := range keys {
			if key == "" || seen[key] {
				return false
			}
			seen[key] = true
		}
		return true
	})
}
