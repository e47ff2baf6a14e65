package copyfactory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
	"github.com/y3sh/copyfactory-sdk-go/common"
)

// argValidator checks arguments before any request is sent. Failures are
// reported as validation errors, in the same shape the API uses.
type argValidator struct {
	v   *validator.Validate
	now func() time.Time
}

// validationDetail is one entry of the details of a validation error.
type validationDetail struct {
	Parameter string      `json:"parameter"`
	Message   string      `json:"message"`
	Value     interface{} `json:"value,omitempty"`
}

func newArgValidator(now func() time.Time) *argValidator {
	av := &argValidator{
		v:   validator.New(validator.WithRequiredStructEnabled()),
		now: now,
	}

	// Report json names in details.
	av.v.RegisterTagNameFunc(jsonFieldName)

	av.v.RegisterValidation("removeafter", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && common.RemoveAfterInRange(t, av.now())
	})

	av.v.RegisterValidation("stopoutreason", func(fl validator.FieldLevel) bool {
		_, err := common.ParseStopoutReason(fl.Field().String())
		return err == nil
	})

	av.v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := common.ParseLogLevel(fl.Field().String())
		return err == nil
	})

	return av
}

// Struct validates the fields of s according to their tags.
func (av *argValidator) Struct(s interface{}) error {
	return av.convert(av.v.Struct(s))
}

// Var validates a single argument, reported as name.
func (av *argValidator) Var(name string, field interface{}, tag string) error {
	err := av.v.Var(field, tag)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		details := make([]validationDetail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, validationDetail{
				Parameter: name,
				Message:   describe(name, fe),
				Value:     fe.Value(),
			})
		}
		return newValidationError(details)
	}
	return errors.Trace(err)
}

// Present reports a missing required argument.
func (av *argValidator) Present(name string, present bool) error {
	if present {
		return nil
	}
	return newValidationError([]validationDetail{{
		Parameter: name,
		Message:   fmt.Sprintf("%s is required", name),
	}})
}

func (av *argValidator) convert(err error) error {
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Trace(err)
	}

	details := make([]validationDetail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, validationDetail{
			Parameter: fe.Namespace(),
			Message:   describe(fe.Field(), fe),
			Value:     fe.Value(),
		})
	}

	return newValidationError(details)
}

func newValidationError(details []validationDetail) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return errors.Trace(err)
	}

	msg := "Validation failed"
	if len(details) > 0 {
		msg = details[0].Message
	}

	return errors.Trace(rest.NewValidationError(msg, raw))
}

func describe(name string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	case "removeafter":
		return fmt.Sprintf("%s must be %d to %d days from now", name,
			common.RemoveAfterMinDays, common.RemoveAfterMaxDays)
	case "stopoutreason":
		return fmt.Sprintf("%s must be a valid stopout reason", name)
	case "loglevel":
		return fmt.Sprintf("%s must be one of DEBUG, INFO, WARN, ERROR", name)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be %s characters long", name, fe.Param())
	case "alphanum":
		return fmt.Sprintf("%s must be alphanumeric", name)
	}
	return fmt.Sprintf("%s failed on %s", name, fe.Tag())
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
