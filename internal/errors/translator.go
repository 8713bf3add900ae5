package errors

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidateStruct 按结构体validate标签校验请求，失败时返回带字段明细的验证错误
func ValidateStruct(s interface{}) *AppError {
	validateOnce.Do(func() {
		validate = validator.New()
	})

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return NewValidationError("validation failed").WithCause(err)
	}

	details := make([]map[string]interface{}, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		details = append(details, map[string]interface{}{
			"field":   fieldError.Field(),
			"tag":     fieldError.Tag(),
			"message": validationMessage(fieldError),
		})
	}

	return NewValidationError("validation failed").WithDetails(map[string]interface{}{
		"errors": details,
	})
}

func validationMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()
	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fieldError.Param()
	case "max":
		return field + " must be at most " + fieldError.Param()
	case "gte":
		return field + " must be greater than or equal to " + fieldError.Param()
	case "lte":
		return field + " must be less than or equal to " + fieldError.Param()
	case "oneof":
		return field + " must be one of: " + fieldError.Param()
	default:
		return field + " is invalid"
	}
}
