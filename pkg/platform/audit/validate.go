package audit

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	mustRegister(v, "audit_category", func(fl validator.FieldLevel) bool {
		return Category(fl.Field().String()).Valid()
	})
	mustRegister(v, "audit_severity", func(fl validator.FieldLevel) bool {
		return Severity(fl.Field().String()).Valid()
	})
	mustRegister(v, "audit_result", func(fl validator.FieldLevel) bool {
		return Result(fl.Field().String()).Valid()
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

// Validate checks an Input or Event against its struct tags.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return newValidationError(validationErrors)
		}
		return err
	}
	return nil
}

func newValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	for _, err := range errs {
		field := err.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "audit_category":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, joinValues(Categories))
		case "audit_severity":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, joinValues(Severities))
		case "audit_result":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, joinValues([]Result{ResultSuccess, ResultFailure, ResultPartial}))
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, err.Tag())
		}
	}
	return &ValidationError{
		Message: "invalid audit event",
		Fields:  fields,
	}
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
