package attendance

import (
	"time"

	"github.com/shopspring/decimal"
)

// AttendanceRecord - one staff member's attendance for a pay period, produced by attendance intake
type AttendanceRecord struct {
	ID                  string
	AttendanceUploadID  *string
	StaffID             string
	ClientID            string
	PeriodMonth         int
	PeriodYear          int
	DaysPresent         decimal.Decimal
	DaysAbsent          decimal.Decimal
	ReadyForCalculation bool
	PayGradeStructureID *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AttendanceQuery selects the records a payroll run calculates. When UploadID
// is set it takes precedence over the client and period.
type AttendanceQuery struct {
	UploadID *string
	ClientID string
	Month    int
	Year     int
}
