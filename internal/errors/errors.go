// Package errors provides categorized, component-tagged errors.
//
// Errors are built with a small fluent builder:
//
//	return errors.Newf("unknown metric %q", name).
//		Component("alerting").
//		Category(errors.CategoryValidation).
//		Build()
//
// The standard library helpers (Is, As, Join, Unwrap) are re-exported so
// callers only import this package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync/atomic"
	"time"
)

// Category classifies an error for handling and reporting decisions.
type Category string

const (
	CategoryGeneric       Category = "generic"
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not-found"
	CategoryConflict      Category = "conflict"
	CategoryNetwork       Category = "network"
	CategoryDatabase      Category = "database"
	CategoryConfiguration Category = "configuration"
	CategoryTimeout       Category = "timeout"
	CategorySystem        Category = "system"
)

// EnhancedError wraps an error with its component, category and context.
type EnhancedError struct {
	Err       error
	Timestamp time.Time

	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.component == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.component, e.Err.Error())
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category { return e.category }

// GetContext returns a copy of the attached context values.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a builder wrapping an existing error.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts a builder from a formatted message. %w verbs wrap as usual.
func Newf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: fmt.Errorf(format, args...), category: CategoryGeneric}
}

// NewStd is the plain standard library constructor.
func NewStd(text string) error {
	return stderrors.New(text)
}

func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

func (b *ErrorBuilder) Category(category Category) *ErrorBuilder {
	b.category = category
	return b
}

// Context attaches a key/value pair for diagnostics and telemetry.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error and hands it to the registered reporter when the
// category is one that indicates a fault rather than bad input.
func (b *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       b.err,
		Timestamp: time.Now(),
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
	if shouldReport(ee.category) {
		if r := reporter.Load(); r != nil {
			(*r)(ee)
		}
	}
	return ee
}

// Reporter receives errors worth forwarding to external telemetry.
type Reporter func(*EnhancedError)

var reporter atomic.Pointer[Reporter]

// SetReporter installs the telemetry hook. Pass nil to remove it.
func SetReporter(r Reporter) {
	if r == nil {
		reporter.Store(nil)
		return
	}
	reporter.Store(&r)
}

func shouldReport(c Category) bool {
	switch c {
	case CategorySystem, CategoryDatabase, CategoryConfiguration:
		return true
	default:
		return false
	}
}

// IsCategory reports whether any EnhancedError in err's chain has the category.
func IsCategory(err error, category Category) bool {
	for err != nil {
		var ee *EnhancedError
		if !stderrors.As(err, &ee) {
			return false
		}
		if ee.category == category {
			return true
		}
		err = ee.Err
	}
	return false
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }
