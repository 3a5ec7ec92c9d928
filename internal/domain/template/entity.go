package template

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// AttendanceMethod enum
type AttendanceMethod string

const (
	AttendanceWorkingDays  AttendanceMethod = "working_days"
	AttendanceCalendarDays AttendanceMethod = "calendar_days"
)

func (m AttendanceMethod) IsValid() bool {
	return m == AttendanceWorkingDays || m == AttendanceCalendarDays
}

const DefaultAnnualDivisionFactor = 12

var DefaultMinimumAttendanceFactor = decimal.NewFromFloat(0.50)

// Component categories, in evaluation order.
const (
	CategorySalary    = "salary"
	CategoryAllowance = "allowance"
	CategoryDeduction = "deduction"
	CategoryStatutory = "statutory"
)

// Component is one named formula inside a template section.
type Component struct {
	Formula     string `json:"formula" yaml:"formula"`
	Description string `json:"description" yaml:"description"`
	// Prorated defaults to true; false exempts the component from the attendance factor.
	Prorated *bool `json:"prorated,omitempty" yaml:"prorated,omitempty"`
	// Reimbursable amounts are paid on top of net pay instead of being part of gross.
	Reimbursable bool `json:"reimbursable,omitempty" yaml:"reimbursable,omitempty"`
}

func (c Component) IsProrated() bool {
	return c.Prorated == nil || *c.Prorated
}

// ComponentMap maps component name to component.
type ComponentMap map[string]Component

// Names returns the component names in a stable order.
func (m ComponentMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calculation rule keys
const (
	RuleRequiredComponents = "required_components"
	RuleStatutoryBasis     = "statutory_basis"
)

// Statutory basis values
const (
	StatutoryBasisContracted = "contracted_gross"
	StatutoryBasisProrated   = "prorated_gross"
)

// CalculationRules holds free-form template rules. Known keys are read through
// the accessor methods; everything else is kept for authoring tools.
type CalculationRules map[string]any

// RequiredComponents lists component names that every settled line must contain.
func (r CalculationRules) RequiredComponents() []string {
	raw, ok := r[RuleRequiredComponents]
	if !ok {
		return nil
	}

	var names []string
	switch v := raw.(type) {
	case []string:
		names = append(names, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				names = append(names, s)
			}
		}
	}
	return names
}

// StatutoryBasis is contracted (unprorated) gross unless the template opts into prorated gross.
func (r CalculationRules) StatutoryBasis() string {
	if v, ok := r[RuleStatutoryBasis].(string); ok && v == StatutoryBasisProrated {
		return StatutoryBasisProrated
	}
	return StatutoryBasisContracted
}

// CalculationTemplate - formula set for a pay grade, optionally scoped to one client
type CalculationTemplate struct {
	ID                          string
	ClientID                    *string
	PayGradeCode                string
	Name                        string
	Description                 *string
	SalaryComponents            ComponentMap
	AllowanceComponents         ComponentMap
	DeductionComponents         ComponentMap
	StatutoryComponents         ComponentMap
	CalculationRules            CalculationRules
	AnnualDivisionFactor        int
	AttendanceCalculationMethod AttendanceMethod
	ProrateSalary               bool
	MinimumAttendanceFactor     decimal.Decimal
	IsActive                    bool
	IsDefault                   bool
	CreatedBy                   *string
	UpdatedBy                   *string
	LastUsedAt                  *time.Time
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// Scope is the key default-uniqueness is enforced on.
func (t CalculationTemplate) Scope() Scope {
	return Scope{ClientID: t.ClientID, Key: t.PayGradeCode}
}

// Ruleset pays reimbursables on top of net pay unless an invoice template
// overlays a different billing model.
func (t CalculationTemplate) Ruleset() Ruleset {
	return Ruleset{
		TemplateID:              t.ID,
		SalaryComponents:        t.SalaryComponents,
		AllowanceComponents:     t.AllowanceComponents,
		DeductionComponents:     t.DeductionComponents,
		StatutoryComponents:     t.StatutoryComponents,
		CalculationRules:        t.CalculationRules,
		AnnualDivisionFactor:    t.AnnualDivisionFactor,
		AttendanceMethod:        t.AttendanceCalculationMethod,
		ProrateSalary:           t.ProrateSalary,
		MinimumAttendanceFactor: t.MinimumAttendanceFactor,
		UseCreditToBankModel:    true,
	}
}

// InvoiceTemplate - client-billing variant of a calculation template
type InvoiceTemplate struct {
	ID                          string
	ClientID                    string
	PayGradeStructureID         *string
	Name                        string
	Description                 *string
	SalaryComponents            ComponentMap
	AllowanceComponents         ComponentMap
	DeductionComponents         ComponentMap
	StatutoryComponents         ComponentMap
	CalculationRules            CalculationRules
	AnnualDivisionFactor        int
	AttendanceCalculationMethod AttendanceMethod
	ProrateSalary               bool
	MinimumAttendanceFactor     decimal.Decimal
	UseCreditToBankModel        bool
	ServiceFeePercentage        decimal.Decimal
	IsActive                    bool
	IsDefault                   bool
	CreatedBy                   *string
	UpdatedBy                   *string
	LastUsedAt                  *time.Time
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

func (t InvoiceTemplate) Scope() Scope {
	key := ""
	if t.PayGradeStructureID != nil {
		key = *t.PayGradeStructureID
	}
	clientID := t.ClientID
	return Scope{ClientID: &clientID, Key: key}
}

func (t InvoiceTemplate) Ruleset() Ruleset {
	return Ruleset{
		TemplateID:              t.ID,
		SalaryComponents:        t.SalaryComponents,
		AllowanceComponents:     t.AllowanceComponents,
		DeductionComponents:     t.DeductionComponents,
		StatutoryComponents:     t.StatutoryComponents,
		CalculationRules:        t.CalculationRules,
		AnnualDivisionFactor:    t.AnnualDivisionFactor,
		AttendanceMethod:        t.AttendanceCalculationMethod,
		ProrateSalary:           t.ProrateSalary,
		MinimumAttendanceFactor: t.MinimumAttendanceFactor,
		UseCreditToBankModel:    t.UseCreditToBankModel,
		ServiceFeePercentage:    t.ServiceFeePercentage,
	}
}

// Scope identifies the (client, grade) or (client, pay grade structure) pair a
// default flag is unique within. A nil ClientID is the global scope.
type Scope struct {
	ClientID *string
	Key      string
}

// LockKey is a stable string used for transaction-scoped advisory locks.
func (s Scope) LockKey(kind string) string {
	client := "*"
	if s.ClientID != nil {
		client = *s.ClientID
	}
	return kind + ":" + client + ":" + s.Key
}

// Ruleset is everything the calculation engine reads from a template.
type Ruleset struct {
	TemplateID              string
	SalaryComponents        ComponentMap
	AllowanceComponents     ComponentMap
	DeductionComponents     ComponentMap
	StatutoryComponents     ComponentMap
	CalculationRules        CalculationRules
	AnnualDivisionFactor    int
	AttendanceMethod        AttendanceMethod
	ProrateSalary           bool
	MinimumAttendanceFactor decimal.Decimal
	UseCreditToBankModel    bool
	ServiceFeePercentage    decimal.Decimal
}

// WithBilling overlays the billing model of an invoice template.
func (r Ruleset) WithBilling(inv InvoiceTemplate) Ruleset {
	r.UseCreditToBankModel = inv.UseCreditToBankModel
	r.ServiceFeePercentage = inv.ServiceFeePercentage
	return r
}

// PaletteEntry - one component in the authoring palette
type PaletteEntry struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Formula     string `json:"formula"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ComponentLabel turns "housing_allowance" into "Housing Allowance".
func ComponentLabel(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
