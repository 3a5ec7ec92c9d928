package payroll

import (
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

// ========== RUN DTOs ==========

type CreateRunRequest struct {
	ClientID           string  `json:"client_id"`
	PeriodMonth        int     `json:"period_month"`
	PeriodYear         int     `json:"period_year"`
	AttendanceUploadID *string `json:"attendance_upload_id,omitempty"`
	Notes              *string `json:"notes,omitempty"`
}

func (r *CreateRunRequest) Validate() error {
	var errs validator.ValidationErrors

	if !validator.IsValidUUID(r.ClientID) {
		errs = append(errs, validator.ValidationError{Field: "client_id", Message: "is required and must be a valid UUID"})
	}
	if !validator.IsValidMonth(r.PeriodMonth) {
		errs = append(errs, validator.ValidationError{Field: "period_month", Message: "must be between 1 and 12"})
	}
	if !validator.IsValidYear(r.PeriodYear) {
		errs = append(errs, validator.ValidationError{Field: "period_year", Message: "must be between 2000 and 2100"})
	}
	if r.AttendanceUploadID != nil && !validator.IsValidUUID(*r.AttendanceUploadID) {
		errs = append(errs, validator.ValidationError{Field: "attendance_upload_id", Message: "must be a valid UUID"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type CancelRunRequest struct {
	ID     string  `json:"-"`
	Reason *string `json:"reason,omitempty"`
}

type RunFilter struct {
	ClientID *string `json:"client_id,omitempty"`
	Status   *string `json:"status,omitempty"`
	Month    *int    `json:"month,omitempty"`
	Year     *int    `json:"year,omitempty"`
	Page     int     `json:"page"`
	Limit    int     `json:"limit"`
}

func (f *RunFilter) Validate() error {
	var errs validator.ValidationErrors

	if f.ClientID != nil && !validator.IsValidUUID(*f.ClientID) {
		errs = append(errs, validator.ValidationError{Field: "client_id", Message: "must be a valid UUID"})
	}
	if f.Status != nil && !RunStatus(*f.Status).IsValid() {
		errs = append(errs, validator.ValidationError{Field: "status", Message: "must be one of draft, calculated, approved, exported, cancelled"})
	}
	if f.Month != nil && !validator.IsValidMonth(*f.Month) {
		errs = append(errs, validator.ValidationError{Field: "month", Message: "must be between 1 and 12"})
	}
	if f.Year != nil && !validator.IsValidYear(*f.Year) {
		errs = append(errs, validator.ValidationError{Field: "year", Message: "must be between 2000 and 2100"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type RunResponse struct {
	ID                 string          `json:"id"`
	ClientID           string          `json:"client_id"`
	PeriodMonth        int             `json:"period_month"`
	PeriodYear         int             `json:"period_year"`
	Status             string          `json:"status"`
	AttendanceUploadID *string         `json:"attendance_upload_id,omitempty"`
	TotalStaff         int             `json:"total_staff"`
	TotalGross         decimal.Decimal `json:"total_gross"`
	TotalDeductions    decimal.Decimal `json:"total_deductions"`
	TotalNet           decimal.Decimal `json:"total_net"`
	TotalCreditToBank  decimal.Decimal `json:"total_credit_to_bank"`
	Notes              *string         `json:"notes,omitempty"`
	CreatedBy          *string         `json:"created_by,omitempty"`
	ApprovedBy         *string         `json:"approved_by,omitempty"`
	CalculatedAt       *time.Time      `json:"calculated_at,omitempty"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	ExportedAt         *time.Time      `json:"exported_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type ItemResponse struct {
	ID                   string                     `json:"id"`
	StaffID              string                     `json:"staff_id"`
	StaffName            string                     `json:"staff_name"`
	StaffCode            string                     `json:"staff_code"`
	BankName             *string                    `json:"bank_name,omitempty"`
	AccountNumber        *string                    `json:"account_number,omitempty"`
	PayGradeStructureID  *string                    `json:"pay_grade_structure_id,omitempty"`
	TemplateID           string                     `json:"template_id"`
	DaysPresent          decimal.Decimal            `json:"days_present"`
	DaysAbsent           decimal.Decimal            `json:"days_absent"`
	TotalDays            int                        `json:"total_days"`
	AttendanceFactor     decimal.Decimal            `json:"attendance_factor"`
	GrossPay             decimal.Decimal            `json:"gross_pay"`
	UnproratedGross      decimal.Decimal            `json:"unprorated_gross"`
	TotalDeductions      decimal.Decimal            `json:"total_deductions"`
	StatutoryTotal       decimal.Decimal            `json:"statutory_total"`
	NetPay               decimal.Decimal            `json:"net_pay"`
	MonthlyReimbursables decimal.Decimal            `json:"monthly_reimbursables"`
	CreditToBank         decimal.Decimal            `json:"credit_to_bank"`
	ServiceFee           decimal.Decimal            `json:"service_fee"`
	AllowancesDetail     map[string]decimal.Decimal `json:"allowances_detail"`
	DeductionsDetail     map[string]decimal.Decimal `json:"deductions_detail"`
	StatutoryDetail      map[string]decimal.Decimal `json:"statutory_detail"`
	EmolumentsSnapshot   map[string]decimal.Decimal `json:"emoluments_snapshot"`
}

type RunDetailResponse struct {
	RunResponse
	Items []ItemResponse `json:"items"`
}

type ListRunResponse struct {
	Data       []RunResponse `json:"data"`
	TotalCount int64         `json:"total_count"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
}

type CalculateRunResponse struct {
	Run             RunResponse        `json:"run"`
	CalculatedCount int                `json:"calculated_count"`
	Errors          []CalculationError `json:"errors"`
}

// ========== EXPORT DTOs ==========

type ExportRow struct {
	StaffCode            string                     `json:"staff_code"`
	StaffName            string                     `json:"staff_name"`
	BankName             *string                    `json:"bank_name"`
	AccountNumber        *string                    `json:"account_number"`
	DaysPresent          decimal.Decimal            `json:"days_present"`
	DaysAbsent           decimal.Decimal            `json:"days_absent"`
	GrossPay             decimal.Decimal            `json:"gross_pay"`
	TotalDeductions      decimal.Decimal            `json:"total_deductions"`
	StatutoryTotal       decimal.Decimal            `json:"statutory_total"`
	NetPay               decimal.Decimal            `json:"net_pay"`
	MonthlyReimbursables decimal.Decimal            `json:"monthly_reimbursables"`
	CreditToBank         decimal.Decimal            `json:"credit_to_bank"`
	Emoluments           map[string]decimal.Decimal `json:"emoluments"`
}

// ExportPayload is the structured export of an approved run. Rendering it to
// CSV or a spreadsheet is left to the consumer.
type ExportPayload struct {
	ExportID    string      `json:"export_id"`
	Filename    string      `json:"filename"`
	GeneratedAt time.Time   `json:"generated_at"`
	Run         RunResponse `json:"run"`
	Rows        []ExportRow `json:"rows"`
}
