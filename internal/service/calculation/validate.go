package calculation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationResult is the outcome of checking a settled line.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate checks a settled line against payroll business rules. It reports
// problems as data and never fails.
func Validate(line Line) ValidationResult {
	var errs []string

	if line.NetPay.IsNegative() {
		errs = append(errs, "Net pay is negative - deductions exceed gross pay")
	}
	if line.StatutoryTotal.GreaterThan(line.GrossPay) {
		errs = append(errs, fmt.Sprintf("Statutory deductions (%s) exceed gross pay (%s)", line.StatutoryTotal.StringFixed(2), line.GrossPay.StringFixed(2)))
	}
	if line.TotalDeductions.GreaterThan(line.GrossPay) {
		errs = append(errs, fmt.Sprintf("Deductions (%s) exceed gross pay (%s)", line.TotalDeductions.StringFixed(2), line.GrossPay.StringFixed(2)))
	}
	for _, name := range line.RequiredComponents {
		if _, ok := line.Snapshot[name]; !ok {
			errs = append(errs, fmt.Sprintf("Required component '%s' is missing", name))
		}
	}
	for _, name := range line.NonFinite {
		errs = append(errs, fmt.Sprintf("Component '%s' did not produce a finite amount", name))
	}
	if line.AttendanceFactor.IsNegative() || line.AttendanceFactor.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "Attendance factor must be between 0 and 1")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
