package common

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the encoder, the model and the explainer. Typed errors
// below match them through errors.Is so callers can branch on the category while
// still reading the offending field or part from the concrete type.
var (
	ErrSchemaMismatch    = errors.New("schema mismatch")
	ErrUnseenCategory    = errors.New("unseen category")
	ErrDegenerateFeature = errors.New("degenerate feature")
	ErrNotFitted         = errors.New("not fitted")
	ErrAlreadyFitted     = errors.New("already fitted")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrCorruptModel      = errors.New("corrupt model")
	ErrEmptyDataset      = errors.New("empty dataset")
)

// SchemaMismatchError reports a missing, extra or malformed field.
type SchemaMismatchError struct {
	Field  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: field %q %s", e.Field, e.Reason)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// UnseenCategoryError reports a categorical value outside the fitted vocabulary.
type UnseenCategoryError struct {
	Field string
	Value string
}

func (e *UnseenCategoryError) Error() string {
	return fmt.Sprintf("unseen category %q for field %q", e.Value, e.Field)
}

func (e *UnseenCategoryError) Is(target error) bool { return target == ErrUnseenCategory }

// DegenerateFeatureError reports a numeric feature with zero variance at fit time.
type DegenerateFeatureError struct {
	Field string
	Value float64
}

func (e *DegenerateFeatureError) Error() string {
	return fmt.Sprintf("degenerate feature %q: constant value %g", e.Field, e.Value)
}

func (e *DegenerateFeatureError) Is(target error) bool { return target == ErrDegenerateFeature }

// DimensionMismatchError reports an encoded vector of the wrong width.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: want %d features, got %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// CorruptModelError reports a persisted artifact that lacks or breaks a required part.
type CorruptModelError struct {
	Part   string
	Reason string
}

func (e *CorruptModelError) Error() string {
	return fmt.Sprintf("corrupt model: %s %s", e.Part, e.Reason)
}

func (e *CorruptModelError) Is(target error) bool { return target == ErrCorruptModel }
