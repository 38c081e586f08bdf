package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var inputValidator = newInputValidator()

func newInputValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags and reports the first failure as a
// ValidationError keyed by the JSON path of the field.
func validateStruct(input any) error {
	err := inputValidator.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid("", err.Error())
	}
	fe := fieldErrs[0]
	return invalid(fieldPath(fe.Namespace()), validationMessage(fe))
}

func fieldPath(namespace string) string {
	_, path, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return path
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "numeric":
		return "must contain only digits"
	default:
		return "is invalid"
	}
}
