// Package validation provides the single shared validator.v10 instance
// DTOs crossing the HTTP boundary validate against, plus a helper that
// turns its field errors into a flat, API-friendly slice.
//
// Grounded on
// services/orchestrator/datatypes/chat.go's chatValidate pattern: one
// package-level *validator.Validate built in init, struct tags do the
// rest.
package validation

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var instance *validator.Validate

func init() {
	instance = validator.New()
}

// FieldError is one struct-tag validation failure, shaped for direct
// JSON serialization in an API error response.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Value string `json:"value,omitempty"`
}

// Struct validates v against its `validate` tags and returns any
// failures as FieldErrors. A nil/empty return means v is valid.
func Struct(v any) []FieldError {
	err := instance.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "_", Tag: "invalid", Value: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field: fe.Namespace(),
			Tag:   fe.Tag(),
			Value: fmt.Sprintf("%v", fe.Value()),
		})
	}
	return out
}

// RegisterValidation exposes the shared instance's custom-validator
// registration, for callers that need a domain-specific rule (e.g. a
// metric key that must be a known registry key).
func RegisterValidation(tag string, fn validator.Func) error {
	return instance.RegisterValidation(tag, fn)
}
