package adjudication

import (
	"errors"
	"fmt"

	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/bundle"
	"github.com/Coregentis/MPLP-Validation-Lab-sub002/pkg/ruleset"
)

// Code is a stable adjudication failure code.
type Code string

const (
	CodeBundleNotFound       Code = "BUNDLE_NOT_FOUND"
	CodeRulesetNotDetermined Code = "RULESET_NOT_DETERMINED"
	CodeRulesetNotLoadable   Code = "RULESET_NOT_LOADABLE"
	CodeAdjudicationError    Code = "ADJUDICATION_ERROR"
	CodeClosureViolation     Code = "CLOSURE_VIOLATION"
)

// AllCodes lists every failure code.
func AllCodes() []Code {
	return []Code{
		CodeBundleNotFound,
		CodeRulesetNotDetermined,
		CodeRulesetNotLoadable,
		CodeAdjudicationError,
		CodeClosureViolation,
	}
}

// Error is a failed adjudication of one run.
type Error struct {
	Code  Code
	RunID string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: run %s: %v", e.Code, e.RunID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code carried by err, or ADJUDICATION_ERROR for any
// other non-nil error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeAdjudicationError
}

// Classify wraps an error from any pipeline stage of runID in an *Error
// carrying its code.
func Classify(runID string, err error) *Error {
	code := CodeAdjudicationError
	switch {
	case errors.Is(err, bundle.ErrBundleNotFound),
		errors.Is(err, bundle.ErrMalformedBundle),
		errors.Is(err, bundle.ErrInvalidRunID):
		code = CodeBundleNotFound
	case errors.Is(err, ruleset.ErrRulesetNotDetermined):
		code = CodeRulesetNotDetermined
	case errors.Is(err, ruleset.ErrRulesetNotFound),
		errors.Is(err, ruleset.ErrRulesetNotLoadable):
		code = CodeRulesetNotLoadable
	case errors.Is(err, ruleset.ErrClosureViolation):
		code = CodeClosureViolation
	}
	return &Error{Code: code, RunID: runID, Err: err}
}
