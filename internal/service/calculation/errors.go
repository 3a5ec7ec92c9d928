package calculation

import (
	"errors"
	"fmt"
)

var ErrInvalidPeriod = errors.New("invalid calculation period")

// FormulaEvaluationError names the formula that could not be evaluated.
type FormulaEvaluationError struct {
	Section   string
	Component string
	Formula   string
	Err       error
}

func (e *FormulaEvaluationError) Error() string {
	return fmt.Sprintf("%s component '%s' (%s): %v", e.Section, e.Component, e.Formula, e.Err)
}

func (e *FormulaEvaluationError) Unwrap() error { return e.Err }
