package conf

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/homeops/opswatch/internal/errors"
)

// ValidationError is a single failed setting with a readable message.
type ValidationError struct {
	Field   string // dotted path, e.g. "sampler.interval_ms"
	Tag     string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidationErrors collects every failed setting.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for _, err := range e {
		fmt.Fprintf(&sb, "  - %s: %s\n", err.Field, err.Message)
	}
	return sb.String()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their mapstructure key rather than the Go name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// Validate checks struct tags and cross-field rules.
func Validate(s *Settings) error {
	var errs ValidationErrors

	if err := validate.Struct(s); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				errs = append(errs, &ValidationError{
					Field:   formatFieldName(fe.Namespace()),
					Tag:     fe.Tag(),
					Value:   fe.Value(),
					Message: translateError(fe),
				})
			}
		} else {
			errs = append(errs, &ValidationError{Field: "settings", Tag: "invalid", Message: err.Error()})
		}
	}

	errs = append(errs, validateRuntime(s)...)
	errs = append(errs, validateTimeouts(s)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateRuntime(s *Settings) ValidationErrors {
	if !s.Runtime.Docker.Enabled && !s.Runtime.Host.Enabled {
		return ValidationErrors{{
			Field:   "runtime",
			Tag:     "required_one",
			Value:   "",
			Message: "at least one of runtime.docker or runtime.host must be enabled",
		}}
	}
	return nil
}

// validateTimeouts keeps per-call sampler timeouts inside the tick so a
// single slow call cannot stretch a cycle past the interval.
func validateTimeouts(s *Settings) ValidationErrors {
	if s.Sampler.CallTimeoutMs > s.Sampler.IntervalMs {
		return ValidationErrors{{
			Field:   "sampler.call_timeout_ms",
			Tag:     "ltefield",
			Value:   s.Sampler.CallTimeoutMs,
			Message: fmt.Sprintf("call timeout (%dms) must not exceed the sampler interval (%dms)", s.Sampler.CallTimeoutMs, s.Sampler.IntervalMs),
		}}
	}
	return nil
}

// formatFieldName drops the root struct name: "Settings.sampler.interval_ms"
// becomes "sampler.interval_ms".
func formatFieldName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}

func translateError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "this field is required"
	case "gte":
		return fmt.Sprintf("value must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("value must be less than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("value must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("value must be one of: %s", fe.Param())
	case "email":
		return fmt.Sprintf("invalid email address: %v", fe.Value())
	case "url":
		return fmt.Sprintf("invalid URL format: %v", fe.Value())
	default:
		return fmt.Sprintf("validation failed on '%s' tag for field '%s'", fe.Tag(), formatFieldName(fe.Namespace()))
	}
}
