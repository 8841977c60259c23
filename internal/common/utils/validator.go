// internal/common/utils/validator.go
// Input validation using struct tags

package utils

import (
    "errors"
    "fmt"
    "strings"

    "github.com/go-playground/validator/v10"
)

// Global validator instance
var validate = validator.New()

// ErrValidation wraps every struct validation failure
var ErrValidation = errors.New("validation failed")

// ValidateStruct validates a struct based on its tags
func ValidateStruct(s interface{}) error {
    err := validate.Struct(s)
    if err == nil {
        return nil
    }

    var fieldErrs validator.ValidationErrors
    if !errors.As(err, &fieldErrs) {
        return fmt.Errorf("%w: %v", ErrValidation, err)
    }

    // Format validation errors into readable messages
    messages := make([]string, 0, len(fieldErrs))
    for _, fe := range fieldErrs {
        messages = append(messages, formatFieldError(fe))
    }
    return fmt.Errorf("%w: %s", ErrValidation, strings.Join(messages, ", "))
}

// formatFieldError converts validator errors to human-readable messages
func formatFieldError(fe validator.FieldError) string {
    field := fe.Field()

    switch fe.Tag() {
    case "required":
        return fmt.Sprintf("%s is required", field)
    case "min":
        return fmt.Sprintf("%s must be at least %s", field, fe.Param())
    case "max":
        return fmt.Sprintf("%s must be at most %s", field, fe.Param())
    case "uuid4", "uuid":
        return fmt.Sprintf("%s must be a valid id", field)
    case "oneof":
        return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
    case "url":
        return fmt.Sprintf("%s must be a valid URL", field)
    default:
        return fmt.Sprintf("%s is invalid", field)
    }
}
