package calculation

import (
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
)

// DaysInMonth returns the number of calendar days in the month.
func DaysInMonth(month, year int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WorkingDaysInMonth counts Monday to Friday in the month. Public holidays are
// not excluded.
func WorkingDaysInMonth(month, year int) int {
	n := 0
	for d := 1; d <= DaysInMonth(month, year); d++ {
		switch time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC).Weekday() {
		case time.Saturday, time.Sunday:
		default:
			n++
		}
	}
	return n
}

// TotalDays is the attendance denominator for the method.
func TotalDays(method template.AttendanceMethod, month, year int) int {
	if method == template.AttendanceCalendarDays {
		return DaysInMonth(month, year)
	}
	return WorkingDaysInMonth(month, year)
}

// PeriodEnd is the last day of the month.
func PeriodEnd(month, year int) time.Time {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
}
