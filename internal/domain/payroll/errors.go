package payroll

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRunNotFound       = errors.New("payroll run not found")
	ErrInvalidState      = errors.New("operation not allowed in the current payroll run status")
	ErrNoEligibleRecords = errors.New("no attendance records are ready for calculation")
	ErrInvalidPeriod     = errors.New("invalid payroll period")
	ErrDuplicateRun      = errors.New("a payroll run already exists for this period")
)

// StateError reports a transition attempted from the wrong status. It matches ErrInvalidState.
type StateError struct {
	RunID     string
	Status    RunStatus
	Operation string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s payroll run %s in status '%s'", e.Operation, e.RunID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// DuplicateRunError is returned when a non-cancelled run already exists for the period.
type DuplicateRunError struct {
	Existing PayrollRun
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("a payroll run already exists for client %s period %s (run %s, status %s)",
		e.Existing.ClientID, e.Existing.Period(), e.Existing.ID, e.Existing.Status)
}

func (e *DuplicateRunError) Unwrap() error { return ErrDuplicateRun }

// CalculationError describes why one staff member was skipped in a batch.
type CalculationError struct {
	StaffID   string `json:"staff_id"`
	StaffName string `json:"staff_name,omitempty"`
	Component string `json:"component,omitempty"`
	Reason    string `json:"reason"`
}

func (e CalculationError) Error() string {
	var b strings.Builder
	b.WriteString("staff ")
	b.WriteString(e.StaffID)
	if e.StaffName != "" {
		b.WriteString(" (" + e.StaffName + ")")
	}
	if e.Component != "" {
		b.WriteString(" component " + e.Component)
	}
	b.WriteString(": " + e.Reason)
	return b.String()
}

// AllCalculationsFailedError is returned when no staff in a batch could be calculated.
type AllCalculationsFailedError struct {
	RunID  string
	Errors []CalculationError
}

func (e *AllCalculationsFailedError) Error() string {
	return fmt.Sprintf("all %d calculations failed for payroll run %s", len(e.Errors), e.RunID)
}
