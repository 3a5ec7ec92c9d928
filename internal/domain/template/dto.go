package template

import (
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

// ========== SHARED ==========

// FormulaFields is the formula-bearing part of both template kinds. On update a
// nil map or pointer leaves the stored value unchanged.
type FormulaFields struct {
	SalaryComponents            ComponentMap     `json:"salary_components,omitempty"`
	AllowanceComponents         ComponentMap     `json:"allowance_components,omitempty"`
	DeductionComponents         ComponentMap     `json:"deduction_components,omitempty"`
	StatutoryComponents         ComponentMap     `json:"statutory_components,omitempty"`
	CalculationRules            CalculationRules `json:"calculation_rules,omitempty"`
	AnnualDivisionFactor        *int             `json:"annual_division_factor,omitempty"`
	AttendanceCalculationMethod *string          `json:"attendance_calculation_method,omitempty"`
	ProrateSalary               *bool            `json:"prorate_salary,omitempty"`
	MinimumAttendanceFactor     *decimal.Decimal `json:"minimum_attendance_factor,omitempty"`
}

func (f *FormulaFields) validate(requireSections bool) validator.ValidationErrors {
	var errs validator.ValidationErrors

	if requireSections {
		if f.AllowanceComponents == nil {
			errs = append(errs, validator.ValidationError{Field: "allowance_components", Message: "is required"})
		}
		if f.DeductionComponents == nil {
			errs = append(errs, validator.ValidationError{Field: "deduction_components", Message: "is required"})
		}
		if f.StatutoryComponents == nil {
			errs = append(errs, validator.ValidationError{Field: "statutory_components", Message: "is required"})
		}
	}

	errs = append(errs, validateSection("salary_components", f.SalaryComponents)...)
	errs = append(errs, validateSection("allowance_components", f.AllowanceComponents)...)
	errs = append(errs, validateSection("deduction_components", f.DeductionComponents)...)
	errs = append(errs, validateSection("statutory_components", f.StatutoryComponents)...)

	if f.AnnualDivisionFactor != nil && *f.AnnualDivisionFactor <= 0 {
		errs = append(errs, validator.ValidationError{Field: "annual_division_factor", Message: "must be greater than 0"})
	}
	if f.AttendanceCalculationMethod != nil && !AttendanceMethod(*f.AttendanceCalculationMethod).IsValid() {
		errs = append(errs, validator.ValidationError{Field: "attendance_calculation_method", Message: "must be 'working_days' or 'calendar_days'"})
	}
	if f.MinimumAttendanceFactor != nil {
		switch {
		case !validator.IsFraction(*f.MinimumAttendanceFactor):
			errs = append(errs, validator.ValidationError{Field: "minimum_attendance_factor", Message: "must be between 0 and 1"})
		case !f.MinimumAttendanceFactor.Equal(f.MinimumAttendanceFactor.Round(4)):
			errs = append(errs, validator.ValidationError{Field: "minimum_attendance_factor", Message: "must have at most 4 decimal places"})
		}
	}

	return errs
}

// validateSection checks a component map is a well-formed map of {formula, description}.
// Formulas are not compiled here.
func validateSection(field string, m ComponentMap) validator.ValidationErrors {
	var errs validator.ValidationErrors
	for _, name := range m.Names() {
		if validator.IsEmpty(name) {
			errs = append(errs, validator.ValidationError{Field: field, Message: "component names must not be empty"})
			continue
		}
		if validator.IsEmpty(m[name].Formula) {
			errs = append(errs, validator.ValidationError{Field: field + "." + name + ".formula", Message: "is required"})
		}
	}
	return errs
}

func validateName(errs validator.ValidationErrors, name string) validator.ValidationErrors {
	if validator.IsEmpty(name) {
		return append(errs, validator.ValidationError{Field: "name", Message: "is required"})
	}
	if len(name) > 255 {
		return append(errs, validator.ValidationError{Field: "name", Message: "must not exceed 255 characters"})
	}
	return errs
}

// ========== CALCULATION TEMPLATE DTOs ==========

type CreateTemplateRequest struct {
	ClientID     *string `json:"client_id,omitempty"`
	PayGradeCode string  `json:"pay_grade_code"`
	Name         string  `json:"name"`
	Description  *string `json:"description,omitempty"`
	FormulaFields
	IsActive  *bool `json:"is_active,omitempty"`
	IsDefault *bool `json:"is_default,omitempty"`
}

func (r *CreateTemplateRequest) Validate() error {
	var errs validator.ValidationErrors

	errs = validateName(errs, r.Name)
	if !validator.IsValidGradeCode(r.PayGradeCode) {
		errs = append(errs, validator.ValidationError{Field: "pay_grade_code", Message: "is required and may contain only letters, digits, '.', '_' and '-'"})
	}
	if r.ClientID != nil && !validator.IsValidUUID(*r.ClientID) {
		errs = append(errs, validator.ValidationError{Field: "client_id", Message: "must be a valid UUID"})
	}
	if r.IsDefault != nil && *r.IsDefault && r.IsActive != nil && !*r.IsActive {
		errs = append(errs, validator.ValidationError{Field: "is_default", Message: "an inactive template cannot be the default"})
	}
	errs = append(errs, r.FormulaFields.validate(true)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type UpdateTemplateRequest struct {
	ID           string  `json:"-"`
	ClientID     *string `json:"client_id,omitempty"`
	PayGradeCode *string `json:"pay_grade_code,omitempty"`
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	FormulaFields
	IsActive  *bool `json:"is_active,omitempty"`
	IsDefault *bool `json:"is_default,omitempty"`
}

func (r *UpdateTemplateRequest) Validate() error {
	var errs validator.ValidationErrors

	if r.Name != nil {
		errs = validateName(errs, *r.Name)
	}
	if r.PayGradeCode != nil && !validator.IsValidGradeCode(*r.PayGradeCode) {
		errs = append(errs, validator.ValidationError{Field: "pay_grade_code", Message: "may contain only letters, digits, '.', '_' and '-'"})
	}
	if r.ClientID != nil && !validator.IsValidUUID(*r.ClientID) {
		errs = append(errs, validator.ValidationError{Field: "client_id", Message: "must be a valid UUID"})
	}
	errs = append(errs, r.FormulaFields.validate(false)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CloneTemplateRequest carries overrides applied to the copy.
type CloneTemplateRequest struct {
	ID           string  `json:"-"`
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	ClientID     *string `json:"client_id,omitempty"`
	PayGradeCode *string `json:"pay_grade_code,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
	IsDefault    *bool   `json:"is_default,omitempty"`
}

func (r *CloneTemplateRequest) Validate() error {
	var errs validator.ValidationErrors

	if r.Name != nil {
		errs = validateName(errs, *r.Name)
	}
	if r.PayGradeCode != nil && !validator.IsValidGradeCode(*r.PayGradeCode) {
		errs = append(errs, validator.ValidationError{Field: "pay_grade_code", Message: "may contain only letters, digits, '.', '_' and '-'"})
	}
	if r.ClientID != nil && !validator.IsValidUUID(*r.ClientID) {
		errs = append(errs, validator.ValidationError{Field: "client_id", Message: "must be a valid UUID"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type TemplateFilter struct {
	ClientID     *string `json:"client_id,omitempty"`
	PayGradeCode *string `json:"pay_grade_code,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
	Search       *string `json:"search,omitempty"`
	Page         int     `json:"page"`
	Limit        int     `json:"limit"`
}

type TemplateResponse struct {
	ID                          string           `json:"id"`
	ClientID                    *string          `json:"client_id"`
	PayGradeCode                string           `json:"pay_grade_code"`
	Name                        string           `json:"name"`
	Description                 *string          `json:"description,omitempty"`
	SalaryComponents            ComponentMap     `json:"salary_components"`
	AllowanceComponents         ComponentMap     `json:"allowance_components"`
	DeductionComponents         ComponentMap     `json:"deduction_components"`
	StatutoryComponents         ComponentMap     `json:"statutory_components"`
	CalculationRules            CalculationRules `json:"calculation_rules"`
	AnnualDivisionFactor        int              `json:"annual_division_factor"`
	AttendanceCalculationMethod string           `json:"attendance_calculation_method"`
	ProrateSalary               bool             `json:"prorate_salary"`
	MinimumAttendanceFactor     decimal.Decimal  `json:"minimum_attendance_factor"`
	IsActive                    bool             `json:"is_active"`
	IsDefault                   bool             `json:"is_default"`
	CreatedBy                   *string          `json:"created_by,omitempty"`
	UpdatedBy                   *string          `json:"updated_by,omitempty"`
	LastUsedAt                  *time.Time       `json:"last_used_at,omitempty"`
	CreatedAt                   time.Time        `json:"created_at"`
	UpdatedAt                   time.Time        `json:"updated_at"`
}

type ListTemplateResponse struct {
	Data       []TemplateResponse `json:"data"`
	TotalCount int64              `json:"total_count"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	TotalPages int                `json:"total_pages"`
}

type CheckFormulaRequest struct {
	Formula string `json:"formula"`
}

type CheckFormulaResponse struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ========== INVOICE TEMPLATE DTOs ==========

type CreateInvoiceTemplateRequest struct {
	ClientID            string  `json:"client_id"`
	PayGradeStructureID *string `json:"pay_grade_structure_id,omitempty"`
	Name                string  `json:"name"`
	Description         *string `json:"description,omitempty"`
	FormulaFields
	UseCreditToBankModel *bool            `json:"use_credit_to_bank_model,omitempty"`
	ServiceFeePercentage *decimal.Decimal `json:"service_fee_percentage,omitempty"`
	IsActive             *bool            `json:"is_active,omitempty"`
	IsDefault            *bool            `json:"is_default,omitempty"`
}

func (r *CreateInvoiceTemplateRequest) Validate() error {
	var errs validator.ValidationErrors

	errs = validateName(errs, r.Name)
	if !validator.IsValidUUID(r.ClientID) {
		errs = append(errs, validator.ValidationError{Field: "client_id", Message: "is required and must be a valid UUID"})
	}
	if r.PayGradeStructureID != nil && !validator.IsValidUUID(*r.PayGradeStructureID) {
		errs = append(errs, validator.ValidationError{Field: "pay_grade_structure_id", Message: "must be a valid UUID"})
	}
	errs = append(errs, validateServiceFee(r.ServiceFeePercentage)...)
	if r.IsDefault != nil && *r.IsDefault && r.IsActive != nil && !*r.IsActive {
		errs = append(errs, validator.ValidationError{Field: "is_default", Message: "an inactive template cannot be the default"})
	}
	errs = append(errs, r.FormulaFields.validate(true)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type UpdateInvoiceTemplateRequest struct {
	ID                  string  `json:"-"`
	PayGradeStructureID *string `json:"pay_grade_structure_id,omitempty"`
	Name                *string `json:"name,omitempty"`
	Description         *string `json:"description,omitempty"`
	FormulaFields
	UseCreditToBankModel *bool            `json:"use_credit_to_bank_model,omitempty"`
	ServiceFeePercentage *decimal.Decimal `json:"service_fee_percentage,omitempty"`
	IsActive             *bool            `json:"is_active,omitempty"`
	IsDefault            *bool            `json:"is_default,omitempty"`
}

func (r *UpdateInvoiceTemplateRequest) Validate() error {
	var errs validator.ValidationErrors

	if r.Name != nil {
		errs = validateName(errs, *r.Name)
	}
	if r.PayGradeStructureID != nil && !validator.IsValidUUID(*r.PayGradeStructureID) {
		errs = append(errs, validator.ValidationError{Field: "pay_grade_structure_id", Message: "must be a valid UUID"})
	}
	errs = append(errs, validateServiceFee(r.ServiceFeePercentage)...)
	errs = append(errs, r.FormulaFields.validate(false)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type CloneInvoiceTemplateRequest struct {
	ID                  string  `json:"-"`
	Name                *string `json:"name,omitempty"`
	Description         *string `json:"description,omitempty"`
	ClientID            *string `json:"client_id,omitempty"`
	PayGradeStructureID *string `json:"pay_grade_structure_id,omitempty"`
	IsActive            *bool   `json:"is_active,omitempty"`
	IsDefault           *bool   `json:"is_default,omitempty"`
}

func (r *CloneInvoiceTemplateRequest) Validate() error {
	var errs validator.ValidationErrors

	if r.Name != nil {
		errs = validateName(errs, *r.Name)
	}
	if r.ClientID != nil && !validator.IsValidUUID(*r.ClientID) {
		errs = append(errs, validator.ValidationError{Field: "client_id", Message: "must be a valid UUID"})
	}
	if r.PayGradeStructureID != nil && !validator.IsValidUUID(*r.PayGradeStructureID) {
		errs = append(errs, validator.ValidationError{Field: "pay_grade_structure_id", Message: "must be a valid UUID"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServiceFee(fee *decimal.Decimal) validator.ValidationErrors {
	if fee == nil {
		return nil
	}
	if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
		return validator.ValidationErrors{{Field: "service_fee_percentage", Message: "must be between 0 and 100"}}
	}
	return nil
}

type InvoiceTemplateFilter struct {
	ClientID            *string `json:"client_id,omitempty"`
	PayGradeStructureID *string `json:"pay_grade_structure_id,omitempty"`
	IsActive            *bool   `json:"is_active,omitempty"`
	Search              *string `json:"search,omitempty"`
	Page                int     `json:"page"`
	Limit               int     `json:"limit"`
}

type InvoiceTemplateResponse struct {
	ID                          string           `json:"id"`
	ClientID                    string           `json:"client_id"`
	PayGradeStructureID         *string          `json:"pay_grade_structure_id"`
	Name                        string           `json:"name"`
	Description                 *string          `json:"description,omitempty"`
	SalaryComponents            ComponentMap     `json:"salary_components"`
	AllowanceComponents         ComponentMap     `json:"allowance_components"`
	DeductionComponents         ComponentMap     `json:"deduction_components"`
	StatutoryComponents         ComponentMap     `json:"statutory_components"`
	CalculationRules            CalculationRules `json:"calculation_rules"`
	AnnualDivisionFactor        int              `json:"annual_division_factor"`
	AttendanceCalculationMethod string           `json:"attendance_calculation_method"`
	ProrateSalary               bool             `json:"prorate_salary"`
	MinimumAttendanceFactor     decimal.Decimal  `json:"minimum_attendance_factor"`
	UseCreditToBankModel        bool             `json:"use_credit_to_bank_model"`
	ServiceFeePercentage        decimal.Decimal  `json:"service_fee_percentage"`
	IsActive                    bool             `json:"is_active"`
	IsDefault                   bool             `json:"is_default"`
	CreatedBy                   *string          `json:"created_by,omitempty"`
	UpdatedBy                   *string          `json:"updated_by,omitempty"`
	LastUsedAt                  *time.Time       `json:"last_used_at,omitempty"`
	CreatedAt                   time.Time        `json:"created_at"`
	UpdatedAt                   time.Time        `json:"updated_at"`
}

type ListInvoiceTemplateResponse struct {
	Data       []InvoiceTemplateResponse `json:"data"`
	TotalCount int64                     `json:"total_count"`
	Page       int                       `json:"page"`
	Limit      int                       `json:"limit"`
	TotalPages int                       `json:"total_pages"`
}
