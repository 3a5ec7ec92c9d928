// Package calculation turns attendance, pay grade and template into a settled
// payroll line. It has no persistence side effects.
package calculation

import (
	"github.com/cmlabs-hris/payroll-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/master/grade"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/staff"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/formula"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

// SnapshotServiceFee is the snapshot key of the invoice service fee.
const SnapshotServiceFee = "service_fee"

var hundred = decimal.NewFromInt(100)

// Input is everything needed to settle one staff member.
type Input struct {
	Staff      staff.Staff
	PayGrade   grade.PayGradeStructure
	Attendance attendance.AttendanceRecord
	Ruleset    template.Ruleset
	Month      int
	Year       int
}

// Line is a settled payroll line.
type Line struct {
	StaffID          string
	TemplateID       string
	DaysPresent      decimal.Decimal
	DaysAbsent       decimal.Decimal
	TotalDays        int
	AttendanceFactor decimal.Decimal

	Salary        map[string]decimal.Decimal
	Allowances    map[string]decimal.Decimal
	Reimbursables map[string]decimal.Decimal
	Deductions    map[string]decimal.Decimal
	Statutory     map[string]decimal.Decimal

	GrossPay             decimal.Decimal
	UnproratedGross      decimal.Decimal
	TotalDeductions      decimal.Decimal // non-statutory
	StatutoryTotal       decimal.Decimal
	NetPay               decimal.Decimal
	MonthlyReimbursables decimal.Decimal
	CreditToBank         decimal.Decimal
	ServiceFee           decimal.Decimal

	// Snapshot holds every computed component amount.
	Snapshot map[string]decimal.Decimal

	RequiredComponents []string
	// NonFinite lists components whose formula produced NaN or an infinity.
	// Their amounts are recorded as zero.
	NonFinite []string
}

// Earnings returns salary, allowance and reimbursable amounts in one map.
func (l Line) Earnings() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.Salary)+len(l.Allowances)+len(l.Reimbursables))
	for _, m := range []map[string]decimal.Decimal{l.Salary, l.Allowances, l.Reimbursables} {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

type Engine struct {
	evaluator *formula.Evaluator
}

func NewEngine(evaluator *formula.Evaluator) *Engine {
	return &Engine{evaluator: evaluator}
}

// Calculate settles one staff member. Formula failures are returned as
// *FormulaEvaluationError; business-rule problems are left to Validate.
func (e *Engine) Calculate(in Input) (Line, error) {
	if !validator.IsValidMonth(in.Month) || !validator.IsValidYear(in.Year) {
		return Line{}, ErrInvalidPeriod
	}

	rs := in.Ruleset
	totalDays := TotalDays(rs.AttendanceMethod, in.Month, in.Year)
	factor := AttendanceFactor(in.Attendance.DaysPresent, totalDays, rs.MinimumAttendanceFactor)

	divisionFactor := rs.AnnualDivisionFactor
	if divisionFactor <= 0 {
		divisionFactor = template.DefaultAnnualDivisionFactor
	}
	annualGross := in.PayGrade.AnnualGross.InexactFloat64()

	line := Line{
		StaffID:            in.Staff.ID,
		TemplateID:         rs.TemplateID,
		DaysPresent:        in.Attendance.DaysPresent,
		DaysAbsent:         in.Attendance.DaysAbsent,
		TotalDays:          totalDays,
		AttendanceFactor:   factor,
		Salary:             map[string]decimal.Decimal{},
		Allowances:         map[string]decimal.Decimal{},
		Reimbursables:      map[string]decimal.Decimal{},
		Deductions:         map[string]decimal.Decimal{},
		Statutory:          map[string]decimal.Decimal{},
		Snapshot:           map[string]decimal.Decimal{},
		RequiredComponents: rs.CalculationRules.RequiredComponents(),
	}

	components := map[string]float64{}
	vars := formula.Variables{
		BaseSalary:           annualGross / float64(divisionFactor),
		AnnualGross:          annualGross,
		AnnualDivisionFactor: float64(divisionFactor),
		AttendanceFactor:     factor.InexactFloat64(),
		DaysPresent:          in.Attendance.DaysPresent.InexactFloat64(),
		DaysAbsent:           in.Attendance.DaysAbsent.InexactFloat64(),
		TotalDays:            float64(totalDays),
		TenureMonths:         float64(in.Staff.TenureMonths(PeriodEnd(in.Month, in.Year))),
		Grade:                in.PayGrade.GradeCode,
		Emoluments:           in.PayGrade.EmolumentValues(),
		Components:           components,
	}

	gross := decimal.Zero
	unprorated := decimal.Zero
	reimbursables := decimal.Zero

	earnings := []struct {
		section string
		comps   template.ComponentMap
		into    map[string]decimal.Decimal
	}{
		{template.CategorySalary, rs.SalaryComponents, line.Salary},
		{template.CategoryAllowance, rs.AllowanceComponents, line.Allowances},
	}
	for _, sec := range earnings {
		order, err := evaluationOrder(sec.section, sec.comps)
		if err != nil {
			return Line{}, err
		}
		for _, name := range order {
			comp := sec.comps[name]
			full, err := e.evaluate(&line, sec.section, name, comp.Formula, vars)
			if err != nil {
				return Line{}, err
			}

			amount := full
			if rs.ProrateSalary && comp.IsProrated() {
				amount = full.Mul(factor).Round(2)
			}

			components[name] = amount.InexactFloat64()
			line.Snapshot[name] = amount
			if comp.Reimbursable {
				line.Reimbursables[name] = amount
				reimbursables = reimbursables.Add(amount)
				continue
			}
			sec.into[name] = amount
			gross = gross.Add(amount)
			unprorated = unprorated.Add(full)
		}
	}

	vars.GrossPay = gross.InexactFloat64()
	vars.UnproratedGross = unprorated.InexactFloat64()
	vars.Gross = vars.GrossPay

	deductionOrder, err := evaluationOrder(template.CategoryDeduction, rs.DeductionComponents)
	if err != nil {
		return Line{}, err
	}
	deductions := decimal.Zero
	for _, name := range deductionOrder {
		amount, err := e.evaluate(&line, template.CategoryDeduction, name, rs.DeductionComponents[name].Formula, vars)
		if err != nil {
			return Line{}, err
		}
		components[name] = amount.InexactFloat64()
		line.Deductions[name] = amount
		line.Snapshot[name] = amount
		deductions = deductions.Add(amount)
	}

	if rs.CalculationRules.StatutoryBasis() == template.StatutoryBasisContracted {
		vars.Gross = vars.UnproratedGross
	}
	statutoryOrder, err := evaluationOrder(template.CategoryStatutory, rs.StatutoryComponents)
	if err != nil {
		return Line{}, err
	}
	statutory := decimal.Zero
	for _, name := range statutoryOrder {
		amount, err := e.evaluate(&line, template.CategoryStatutory, name, rs.StatutoryComponents[name].Formula, vars)
		if err != nil {
			return Line{}, err
		}
		components[name] = amount.InexactFloat64()
		line.Statutory[name] = amount
		line.Snapshot[name] = amount
		statutory = statutory.Add(amount)
	}

	line.GrossPay = gross
	line.UnproratedGross = unprorated
	line.TotalDeductions = deductions
	line.StatutoryTotal = statutory
	line.MonthlyReimbursables = reimbursables
	line.NetPay = gross.Sub(deductions).Sub(statutory)

	line.CreditToBank = line.NetPay
	if rs.UseCreditToBankModel {
		line.CreditToBank = line.NetPay.Add(reimbursables)
	}

	line.ServiceFee = decimal.Zero
	if rs.ServiceFeePercentage.IsPositive() {
		line.ServiceFee = gross.Mul(rs.ServiceFeePercentage).Div(hundred).Round(2)
		line.Snapshot[SnapshotServiceFee] = line.ServiceFee
	}

	return line, nil
}

// evaluate runs one formula and rounds the result to cents. A non-finite
// result is recorded on the line and counted as zero.
func (e *Engine) evaluate(line *Line, section, name, expr string, vars formula.Variables) (decimal.Decimal, error) {
	v, err := e.evaluator.Evaluate(expr, vars)
	if err != nil {
		return decimal.Zero, &FormulaEvaluationError{Section: section, Component: name, Formula: expr, Err: err}
	}
	if !formula.IsFinite(v) {
		line.NonFinite = append(line.NonFinite, name)
		return decimal.Zero, nil
	}
	return decimal.NewFromFloat(v).Round(2), nil
}

// AttendanceFactor is daysPresent/totalDays clamped to [minimum, 1], rounded
// to four places.
func AttendanceFactor(daysPresent decimal.Decimal, totalDays int, minimum decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if minimum.GreaterThan(one) {
		minimum = one
	}
	if minimum.IsNegative() {
		minimum = decimal.Zero
	}

	factor := decimal.Zero
	if totalDays > 0 {
		factor = daysPresent.Div(decimal.NewFromInt(int64(totalDays)))
	}
	if factor.LessThan(minimum) {
		factor = minimum
	}
	if factor.GreaterThan(one) {
		factor = one
	}
	return factor.Round(4)
}
