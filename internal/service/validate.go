package service

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"petshop/backend/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// validateBatch validates every element and reports all failures at once,
// keyed like "entries[2].quantity_sold".
func validateBatch[T any](name string, items []T) error {
	details := map[string]string{}
	for i := range items {
		err := validate.Struct(items[i])
		if err == nil {
			continue
		}
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
		}
		for _, fe := range fieldErrs {
			details[fmt.Sprintf("%s[%d].%s", name, i, fe.Field())] = validationMessage(fe)
		}
	}
	if len(details) > 0 {
		return apperr.Validation("validation failed").WithDetails(details)
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	}
	return "is invalid"
}

// fieldError builds a single-field validation error in the same shape.
func fieldError(name string, index int, field string, message string) error {
	return apperr.Validation("validation failed").WithDetails(map[string]string{
		fmt.Sprintf("%s[%d].%s", name, index, field): message,
	})
}
