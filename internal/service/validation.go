package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// NewValidator returns a validator with the school's custom tags registered:
// "weekday" (mon..sun) and "clock" (zero-padded HH:MM).
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		return models.ValidWeekday(fl.Field().String())
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	return v
}

// validationError converts validator output into a VALIDATION_ERROR listing each failed field.
func validationError(err error, message string) *appErrors.Error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.WithDetails(appErrors.ErrValidation, message, err)
	}
	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return appErrors.WithDetails(appErrors.ErrValidation, message, err, details...)
}

// digitsOnly strips punctuation from tax ids and phone numbers.
func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func internalError(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
