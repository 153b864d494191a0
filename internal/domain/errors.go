package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while constructing or combining
// quantile forecast matrices.
var (
	// ErrNoRecords indicates that Build was called with an empty record set.
	ErrNoRecords = errors.New("no forecast records provided")

	// ErrNoModels indicates that an operation requires at least one model.
	ErrNoModels = errors.New("no models available")

	// ErrNoQuantileLevels indicates that a matrix contains no quantile levels.
	ErrNoQuantileLevels = errors.New("no quantile levels present")

	// ErrNoWeights indicates that an operation requires a weight set and
	// none was supplied, or no vector resolves for a quantile level.
	ErrNoWeights = errors.New("no weights provided")

	// ErrWeightSum indicates that a weight vector does not sum to one.
	ErrWeightSum = errors.New("weights must sum to one")

	// ErrNegativeWeight indicates that a weight vector contains a negative
	// entry.
	ErrNegativeWeight = errors.New("weights must be non-negative")

	// ErrWeightLength indicates a mismatch between a weight vector and the
	// model list it applies to.
	ErrWeightLength = errors.New("weight vector length does not match model count")
)

// SchemaError reports malformed or inconsistent input to matrix
// construction, such as a record missing one of the declared id columns or
// a duplicate (case, model, quantile level) cell. A SchemaError is fatal to
// that Build call; the caller should fix the source data rather than retry.
type SchemaError struct {
	// Column is the id column involved in the failure, when one applies.
	Column string

	// Detail describes what was wrong with the input.
	Detail string
}

// Error implements the error interface for SchemaError.
func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema error: column %q: %s", e.Column, e.Detail)
	}
	return fmt.Sprintf("schema error: %s", e.Detail)
}

// NewSchemaError creates a SchemaError for the given column and detail.
// Pass an empty column when the failure is not tied to a single column.
func NewSchemaError(column, detail string) *SchemaError {
	return &SchemaError{Column: column, Detail: detail}
}

// DegenerateInputError reports that the combiner could not produce an
// ensemble value for one (case, quantile level) cell, typically because the
// usable weight mass was zero or no model supplied a value. The affected
// cell is left missing; combination of other cells proceeds.
type DegenerateInputError struct {
	// CaseKey identifies the case whose cell could not be combined.
	CaseKey string

	// QuantileLevel is the quantile level of the affected cell.
	QuantileLevel float64

	// Err is the underlying condition that made the input degenerate.
	Err error
}

// Error implements the error interface for DegenerateInputError.
func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate input for case %q at level %g: %v",
		e.CaseKey, e.QuantileLevel, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and errors.As.
func (e *DegenerateInputError) Unwrap() error { return e.Err }

// NewDegenerateInputError creates a DegenerateInputError for one cell.
func NewDegenerateInputError(caseKey string, level float64, err error) *DegenerateInputError {
	return &DegenerateInputError{CaseKey: caseKey, QuantileLevel: level, Err: err}
}
