package calculation

import (
	"errors"
	"testing"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/master/grade"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/staff"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/formula"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// March 2024 has 21 working days and 31 calendar days.
const (
	testMonth = 3
	testYear  = 2024
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ev, err := formula.NewEvaluator(0)
	require.NoError(t, err)
	return NewEngine(ev)
}

func notProrated() *bool {
	f := false
	return &f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testRuleset() template.Ruleset {
	return template.Ruleset{
		TemplateID: "tpl-1",
		SalaryComponents: template.ComponentMap{
			"basic": {Formula: "base_salary * 0.6"},
		},
		AllowanceComponents: template.ComponentMap{
			"housing":   {Formula: "base_salary * 0.3"},
			"transport": {Formula: "base_salary * 0.1", Prorated: notProrated()},
		},
		DeductionComponents: template.ComponentMap{
			"loan": {Formula: "5000"},
		},
		StatutoryComponents: template.ComponentMap{
			"pension": {Formula: "gross * 0.08"},
		},
		CalculationRules:        template.CalculationRules{},
		AnnualDivisionFactor:    12,
		AttendanceMethod:        template.AttendanceWorkingDays,
		ProrateSalary:           true,
		MinimumAttendanceFactor: dec("0.5"),
		UseCreditToBankModel:    true,
	}
}

func testInput(daysPresent string, rs template.Ruleset) Input {
	return Input{
		Staff:    staff.Staff{ID: "staff-1", FirstName: "Ada", LastName: "Obi"},
		PayGrade: grade.PayGradeStructure{ID: "pgs-1", GradeCode: "GL07", AnnualGross: dec("1200000")},
		Attendance: attendance.AttendanceRecord{
			StaffID:     "staff-1",
			DaysPresent: dec(daysPresent),
			DaysAbsent:  decimal.NewFromInt(21).Sub(dec(daysPresent)),
		},
		Ruleset: rs,
		Month:   testMonth,
		Year:    testYear,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func TestTotalDays(t *testing.T) {
	assert.Equal(t, 21, TotalDays(template.AttendanceWorkingDays, 3, 2024))
	assert.Equal(t, 31, TotalDays(template.AttendanceCalendarDays, 3, 2024))
	assert.Equal(t, 21, TotalDays(template.AttendanceWorkingDays, 2, 2024))
	assert.Equal(t, 29, TotalDays(template.AttendanceCalendarDays, 2, 2024))
	assert.Equal(t, 28, DaysInMonth(2, 2023))
}

func TestAttendanceFactor(t *testing.T) {
	cases := []struct {
		present string
		total   int
		min     string
		want    string
	}{
		{"21", 21, "0.5", "1"},
		{"25", 21, "0.5", "1"},
		{"0", 21, "0.5", "0.5"},
		{"10.5", 21, "0.5", "0.5"},
		{"15", 20, "0.5", "0.75"},
		{"0", 0, "0.25", "0.25"},
		{"7", 21, "0", "0.3333"},
	}
	for _, c := range cases {
		assertDecimal(t, c.want, AttendanceFactor(dec(c.present), c.total, dec(c.min)), "%s/%d", c.present, c.total)
	}
}

func TestEngine_Calculate_FullAttendance(t *testing.T) {
	e := newTestEngine(t)

	// Act
	line, err := e.Calculate(testInput("21", testRuleset()))

	// Assert
	require.NoError(t, err)
	assertDecimal(t, "1", line.AttendanceFactor)
	assert.Equal(t, 21, line.TotalDays)
	assertDecimal(t, "60000", line.Salary["basic"])
	assertDecimal(t, "30000", line.Allowances["housing"])
	assertDecimal(t, "10000", line.Allowances["transport"])
	assertDecimal(t, "100000", line.GrossPay)
	assert.True(t, line.GrossPay.Equal(line.UnproratedGross), "full attendance must not prorate")
	assertDecimal(t, "5000", line.TotalDeductions)
	assertDecimal(t, "8000", line.StatutoryTotal)
	assertDecimal(t, "87000", line.NetPay)
	assertDecimal(t, "87000", line.CreditToBank)
	assert.Equal(t, "tpl-1", line.TemplateID)
	assert.Len(t, line.Snapshot, 5)
}

func TestEngine_Calculate_ZeroAttendanceClampsToFloor(t *testing.T) {
	e := newTestEngine(t)

	line, err := e.Calculate(testInput("0", testRuleset()))

	require.NoError(t, err)
	assertDecimal(t, "0.5", line.AttendanceFactor)
	assertDecimal(t, "30000", line.Salary["basic"])
	assertDecimal(t, "15000", line.Allowances["housing"])
	assertDecimal(t, "10000", line.Allowances["transport"], "non-prorated component keeps its full amount")
	assertDecimal(t, "55000", line.GrossPay)
	assertDecimal(t, "100000", line.UnproratedGross)
}

func TestEngine_Calculate_StatutoryBasis(t *testing.T) {
	e := newTestEngine(t)

	// Contracted gross is the default basis.
	line, err := e.Calculate(testInput("10.5", testRuleset()))
	require.NoError(t, err)
	assertDecimal(t, "8000", line.StatutoryTotal)
	assertDecimal(t, "42000", line.NetPay)

	rs := testRuleset()
	rs.CalculationRules = template.CalculationRules{template.RuleStatutoryBasis: template.StatutoryBasisProrated}
	line, err = e.Calculate(testInput("10.5", rs))
	require.NoError(t, err)
	assertDecimal(t, "4400", line.StatutoryTotal)
	assertDecimal(t, "45600", line.NetPay)
}

func TestEngine_Calculate_NoProration(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.ProrateSalary = false

	line, err := e.Calculate(testInput("5", rs))

	require.NoError(t, err)
	assertDecimal(t, "0.5", line.AttendanceFactor)
	assertDecimal(t, "100000", line.GrossPay)
}

func TestEngine_Calculate_NetIdentity(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.AllowanceComponents["odd"] = template.Component{Formula: "base_salary / 7"}
	rs.DeductionComponents["union"] = template.Component{Formula: "gross * 0.0125"}

	for _, days := range []string{"0", "3", "11.5", "17", "21"} {
		line, err := e.Calculate(testInput(days, rs))
		require.NoError(t, err)
		assert.True(t, line.NetPay.Equal(line.GrossPay.Sub(line.TotalDeductions).Sub(line.StatutoryTotal)), "days %s", days)
	}
}

func TestEngine_Calculate_CreditToBankModel(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.AllowanceComponents["meal"] = template.Component{Formula: "2000", Reimbursable: true, Prorated: notProrated()}

	line, err := e.Calculate(testInput("21", rs))
	require.NoError(t, err)
	assertDecimal(t, "100000", line.GrossPay, "reimbursables are not part of gross")
	assertDecimal(t, "2000", line.MonthlyReimbursables)
	assertDecimal(t, "87000", line.NetPay)
	assertDecimal(t, "89000", line.CreditToBank)

	inv := template.InvoiceTemplate{UseCreditToBankModel: true, ServiceFeePercentage: dec("10")}
	line, err = e.Calculate(testInput("21", rs.WithBilling(inv)))
	require.NoError(t, err)
	assertDecimal(t, "89000", line.CreditToBank)
	assertDecimal(t, "10000", line.ServiceFee)
	assertDecimal(t, "10000", line.Snapshot[SnapshotServiceFee])
	assertDecimal(t, "87000", line.NetPay, "service fee is not deducted")

	line, err = e.Calculate(testInput("21", rs.WithBilling(template.InvoiceTemplate{UseCreditToBankModel: false})))
	require.NoError(t, err)
	assertDecimal(t, "87000", line.CreditToBank, "billing model keeps reimbursables off the bank credit")
}

func TestEngine_Calculate_TemplateRulesetPaysReimbursables(t *testing.T) {
	e := newTestEngine(t)
	base := testRuleset()
	tpl := template.CalculationTemplate{
		ID:               "tpl-1",
		SalaryComponents: base.SalaryComponents,
		AllowanceComponents: template.ComponentMap{
			"housing": {Formula: "base_salary * 0.4"},
			"meal":    {Formula: "10000", Reimbursable: true, Prorated: notProrated()},
		},
		DeductionComponents:         base.DeductionComponents,
		StatutoryComponents:         base.StatutoryComponents,
		CalculationRules:            template.CalculationRules{},
		AnnualDivisionFactor:        12,
		AttendanceCalculationMethod: template.AttendanceWorkingDays,
		ProrateSalary:               true,
		MinimumAttendanceFactor:     dec("0.5"),
	}

	line, err := e.Calculate(testInput("21", tpl.Ruleset()))

	require.NoError(t, err)
	assertDecimal(t, "10000", line.MonthlyReimbursables)
	assertDecimal(t, "87000", line.NetPay)
	assertDecimal(t, "97000", line.CreditToBank)
}

func TestEngine_Calculate_Variables(t *testing.T) {
	e := newTestEngine(t)
	hired := time.Date(2022, time.January, 10, 0, 0, 0, 0, time.UTC)

	rs := testRuleset()
	rs.SalaryComponents = template.ComponentMap{
		"basic": {Formula: "emoluments.basic / annual_division_factor"},
	}
	rs.AllowanceComponents = template.ComponentMap{
		"long_service": {Formula: `tenure_months >= 24 && grade == "GL07" ? 1500 : 0`, Prorated: notProrated()},
		"top_up":       {Formula: "components.basic * 0.1"},
	}
	rs.DeductionComponents = template.ComponentMap{}
	rs.StatutoryComponents = template.ComponentMap{}

	in := testInput("21", rs)
	in.Staff.HireDate = &hired
	in.PayGrade.Emoluments = map[string]decimal.Decimal{"basic": dec("600000")}

	line, err := e.Calculate(in)
	require.NoError(t, err)
	assertDecimal(t, "50000", line.Salary["basic"])
	assertDecimal(t, "1500", line.Allowances["long_service"])
	assertDecimal(t, "5000", line.Allowances["top_up"])
}

func TestEngine_Calculate_ComponentReferencesFollowDependencies(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.SalaryComponents = template.ComponentMap{
		"a_bonus": {Formula: "components.basic * 0.1"},
		"basic":   {Formula: "base_salary * 0.6"},
	}

	line, err := e.Calculate(testInput("21", rs))

	require.NoError(t, err)
	assertDecimal(t, "60000", line.Salary["basic"])
	assertDecimal(t, "6000", line.Salary["a_bonus"])
}

func TestEngine_Calculate_ComponentCycle(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.DeductionComponents = template.ComponentMap{
		"levy":       {Formula: "components.union_dues + 100"},
		"union_dues": {Formula: "components.levy * 0.5"},
	}

	_, err := e.Calculate(testInput("21", rs))

	var fe *FormulaEvaluationError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, template.CategoryDeduction, fe.Section)
	assert.Equal(t, "levy", fe.Component)
	assert.ErrorIs(t, err, ErrFormulaCycle)
}

func TestEngine_Calculate_FormulaError(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.AllowanceComponents["broken"] = template.Component{Formula: "base_salary *"}

	_, err := e.Calculate(testInput("21", rs))

	require.Error(t, err)
	var fe *FormulaEvaluationError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, template.CategoryAllowance, fe.Section)
	assert.Equal(t, "broken", fe.Component)
	assert.Equal(t, "base_salary *", fe.Formula)
	assert.ErrorIs(t, err, formula.ErrCompile)
}

func TestEngine_Calculate_InvalidPeriod(t *testing.T) {
	e := newTestEngine(t)
	in := testInput("21", testRuleset())
	in.Month = 13

	_, err := e.Calculate(in)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestValidate_Valid(t *testing.T) {
	e := newTestEngine(t)
	line, err := e.Calculate(testInput("21", testRuleset()))
	require.NoError(t, err)

	res := Validate(line)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidate_NegativeNet(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.DeductionComponents["garnish"] = template.Component{Formula: "gross * 2"}

	line, err := e.Calculate(testInput("21", rs))
	require.NoError(t, err)

	res := Validate(line)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "Net pay is negative - deductions exceed gross pay")
	assert.Len(t, res.Errors, 2)
}

func TestValidate_RequiredComponents(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.CalculationRules = template.CalculationRules{
		template.RuleRequiredComponents: []any{"basic", "tax"},
	}

	line, err := e.Calculate(testInput("21", rs))
	require.NoError(t, err)

	res := Validate(line)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"Required component 'tax' is missing"}, res.Errors)
}

func TestValidate_NonFinite(t *testing.T) {
	e := newTestEngine(t)
	rs := testRuleset()
	rs.DeductionComponents["per_absence"] = template.Component{Formula: "gross / days_absent"}

	line, err := e.Calculate(testInput("21", rs))
	require.NoError(t, err)
	assert.Equal(t, []string{"per_absence"}, line.NonFinite)

	res := Validate(line)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"Component 'per_absence' did not produce a finite amount"}, res.Errors)
}
