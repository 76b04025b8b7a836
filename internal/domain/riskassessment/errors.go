package riskassessment

import (
	"errors"
	"fmt"
)

// ErrResultNotFound is returned by result lookups that match nothing.
var ErrResultNotFound = errors.New("risk result not found")

// ErrPatientNotFound is returned when a stored snapshot has no patient row.
var ErrPatientNotFound = errors.New("patient not found")

// IncompleteProfileError reports a required input that is absent or invalid.
type IncompleteProfileError struct {
	Field  string
	Reason string
}

func (e *IncompleteProfileError) Error() string {
	return fmt.Sprintf("incomplete profile: %s %s", e.Field, e.Reason)
}

// EncodingContractViolation reports a categorical value outside its
// vocabulary. It never fails a run; the value encodes into the unknown bucket
// and the violation is carried as a warning.
type EncodingContractViolation struct {
	Disease Disease
	Field   string
	Value   string
}

func (e *EncodingContractViolation) Error() string {
	if e.Disease == "" {
		return fmt.Sprintf("%s: value %q is outside the known vocabulary", e.Field, e.Value)
	}
	return fmt.Sprintf("%s: %s value %q is outside the known vocabulary", e.Disease, e.Field, e.Value)
}

// ScoringError reports a numeric model failure. Any ScoringError fails the
// whole assessment.
type ScoringError struct {
	Disease Disease
	Err     error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("score %s: %v", e.Disease, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// errInvalidProbability is wrapped when a model returns NaN or a value outside [0,1].
var errInvalidProbability = errors.New("probability outside [0,1]")
