package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus enum
type RunStatus string

const (
	RunStatusDraft      RunStatus = "draft"
	RunStatusCalculated RunStatus = "calculated"
	RunStatusApproved   RunStatus = "approved"
	RunStatusExported   RunStatus = "exported"
	RunStatusCancelled  RunStatus = "cancelled"
)

func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusDraft, RunStatusCalculated, RunStatusApproved, RunStatusExported, RunStatusCancelled:
		return true
	}
	return false
}

func (s RunStatus) IsTerminal() bool {
	return s == RunStatusExported || s == RunStatusCancelled
}

func (s RunStatus) CanCalculate() bool { return s == RunStatusDraft }
func (s RunStatus) CanApprove() bool   { return s == RunStatusCalculated }
func (s RunStatus) CanExport() bool    { return s == RunStatusApproved }

func (s RunStatus) CanCancel() bool {
	return s == RunStatusDraft || s == RunStatusCalculated || s == RunStatusApproved
}

// CanDelete is false once a run has been approved; approved and exported runs are kept.
func (s RunStatus) CanDelete() bool {
	return s == RunStatusDraft || s == RunStatusCalculated
}

// PayrollRun - one client's payroll for a month
type PayrollRun struct {
	ID                 string
	ClientID           string
	PeriodMonth        int
	PeriodYear         int
	Status             RunStatus
	AttendanceUploadID *string
	TotalStaff         int
	TotalGross         decimal.Decimal
	TotalDeductions    decimal.Decimal
	TotalNet           decimal.Decimal
	TotalCreditToBank  decimal.Decimal
	Notes              *string
	CreatedBy          *string
	ApprovedBy         *string
	CalculatedAt       *time.Time
	ApprovedAt         *time.Time
	ExportedAt         *time.Time
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Period formats the run period as YYYY_MM.
func (r PayrollRun) Period() string {
	return fmt.Sprintf("%04d_%02d", r.PeriodYear, r.PeriodMonth)
}

// ApplyTotals copies aggregated totals onto the run.
func (r *PayrollRun) ApplyTotals(t Totals) {
	r.TotalStaff = t.Staff
	r.TotalGross = t.Gross
	r.TotalDeductions = t.Deductions
	r.TotalNet = t.Net
	r.TotalCreditToBank = t.CreditToBank
}

// PayrollItem - settled payroll line for one staff member in a run
type PayrollItem struct {
	ID                   string
	PayrollRunID         string
	StaffID              string
	StaffName            string
	StaffCode            string
	BankName             *string
	AccountNumber        *string
	PayGradeStructureID  *string
	TemplateID           string
	DaysPresent          decimal.Decimal
	DaysAbsent           decimal.Decimal
	TotalDays            int
	AttendanceFactor     decimal.Decimal
	GrossPay             decimal.Decimal
	UnproratedGross      decimal.Decimal
	TotalDeductions      decimal.Decimal // non-statutory
	StatutoryTotal       decimal.Decimal
	NetPay               decimal.Decimal
	MonthlyReimbursables decimal.Decimal
	CreditToBank         decimal.Decimal
	ServiceFee           decimal.Decimal
	AllowancesDetail     map[string]decimal.Decimal // salary and allowance components
	DeductionsDetail     map[string]decimal.Decimal
	StatutoryDetail      map[string]decimal.Decimal
	EmolumentsSnapshot   map[string]decimal.Decimal
	CreatedAt            time.Time
}

// Totals is the aggregate of a run's items.
type Totals struct {
	Staff        int
	Gross        decimal.Decimal
	Deductions   decimal.Decimal // non-statutory plus statutory
	Net          decimal.Decimal
	CreditToBank decimal.Decimal
}

func TotalsFromItems(items []PayrollItem) Totals {
	t := Totals{
		Staff:        len(items),
		Gross:        decimal.Zero,
		Deductions:   decimal.Zero,
		Net:          decimal.Zero,
		CreditToBank: decimal.Zero,
	}
	for _, it := range items {
		t.Gross = t.Gross.Add(it.GrossPay)
		t.Deductions = t.Deductions.Add(it.TotalDeductions).Add(it.StatutoryTotal)
		t.Net = t.Net.Add(it.NetPay)
		t.CreditToBank = t.CreditToBank.Add(it.CreditToBank)
	}
	return t
}
