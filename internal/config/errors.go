package config

import (
	"errors"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Error kinds reported by Load. Use errors.Is to classify a failure.
var (
	// ErrSchema indicates a field with the wrong shape or type.
	ErrSchema = errors.New("schema error")
	// ErrRange indicates a numeric value outside its valid bounds.
	ErrRange = errors.New("range error")
	// ErrTargetFormat indicates a proxy target that is not an absolute URL.
	ErrTargetFormat = errors.New("target format error")
)

// FieldError is a single validation failure at a field path.
type FieldError struct {
	Kind  error
	Field *field.Error
}

func (e *FieldError) Error() string {
	return e.Field.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}

// ValidationError aggregates every FieldError found while loading a source.
type ValidationError struct {
	Errs []*FieldError
}

func (e *ValidationError) Error() string {
	return e.aggregate().Error()
}

// Unwrap exposes the individual field errors to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	out := make([]error, len(e.Errs))
	for i, fe := range e.Errs {
		out[i] = fe
	}
	return out
}

func (e *ValidationError) aggregate() utilerrors.Aggregate {
	return utilerrors.NewAggregate(e.Unwrap())
}

// errorList collects field errors during a single Load pass.
type errorList []*FieldError

func (l *errorList) schema(path *field.Path, value any, detail string) {
	*l = append(*l, &FieldError{Kind: ErrSchema, Field: field.TypeInvalid(path, value, detail)})
}

func (l *errorList) required(path *field.Path, detail string) {
	*l = append(*l, &FieldError{Kind: ErrSchema, Field: field.Required(path, detail)})
}

func (l *errorList) invalid(kind error, path *field.Path, value any, detail string) {
	*l = append(*l, &FieldError{Kind: kind, Field: field.Invalid(path, value, detail)})
}

func (l errorList) err() error {
	if len(l) == 0 {
		return nil
	}
	return &ValidationError{Errs: l}
}
