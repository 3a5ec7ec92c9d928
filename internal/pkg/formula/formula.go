// Package formula evaluates operator-supplied payroll formulas.
//
// Formulas are CEL expressions checked against a fixed variable environment.
// Every number in a formula is a double: integer literals are rewritten before
// compilation so that "base_salary / 12" type-checks.
package formula

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// DefaultCostLimit bounds the work a single formula evaluation may do.
const DefaultCostLimit uint64 = 10000

var (
	ErrEmptyFormula     = errors.New("formula is empty")
	ErrCompile          = errors.New("formula does not compile")
	ErrNonNumericResult = errors.New("formula does not produce a number")
	ErrEvaluation       = errors.New("formula evaluation failed")
)

// Variable names available to formulas.
const (
	VarBaseSalary           = "base_salary"
	VarAnnualGross          = "annual_gross"
	VarAnnualDivisionFactor = "annual_division_factor"
	VarAttendanceFactor     = "attendance_factor"
	VarDaysPresent          = "days_present"
	VarDaysAbsent           = "days_absent"
	VarTotalDays            = "total_days"
	VarTenureMonths         = "tenure_months"
	VarGrade                = "grade"
	VarEmoluments           = "emoluments"
	VarComponents           = "components"
	VarGrossPay             = "gross_pay"
	VarUnproratedGross      = "unprorated_gross"
	VarGross                = "gross"
)

// Variables is the binding context for one evaluation.
type Variables struct {
	BaseSalary           float64
	AnnualGross          float64
	AnnualDivisionFactor float64
	AttendanceFactor     float64
	DaysPresent          float64
	DaysAbsent           float64
	TotalDays            float64
	TenureMonths         float64
	Grade                string
	Emoluments           map[string]float64
	Components           map[string]float64
	GrossPay             float64
	UnproratedGross      float64
	Gross                float64
}

func (v Variables) activation() map[string]any {
	emoluments := v.Emoluments
	if emoluments == nil {
		emoluments = map[string]float64{}
	}
	components := v.Components
	if components == nil {
		components = map[string]float64{}
	}
	return map[string]any{
		VarBaseSalary:           v.BaseSalary,
		VarAnnualGross:          v.AnnualGross,
		VarAnnualDivisionFactor: v.AnnualDivisionFactor,
		VarAttendanceFactor:     v.AttendanceFactor,
		VarDaysPresent:          v.DaysPresent,
		VarDaysAbsent:           v.DaysAbsent,
		VarTotalDays:            v.TotalDays,
		VarTenureMonths:         v.TenureMonths,
		VarGrade:                v.Grade,
		VarEmoluments:           emoluments,
		VarComponents:           components,
		VarGrossPay:             v.GrossPay,
		VarUnproratedGross:      v.UnproratedGross,
		VarGross:                v.Gross,
	}
}

// Evaluator compiles formulas once and caches the resulting programs.
type Evaluator struct {
	env       *cel.Env
	costLimit uint64
	programs  sync.Map
}

func NewEvaluator(costLimit uint64) (*Evaluator, error) {
	if costLimit == 0 {
		costLimit = DefaultCostLimit
	}

	numberMap := cel.MapType(cel.StringType, cel.DoubleType)
	env, err := cel.NewEnv(
		cel.Variable(VarBaseSalary, cel.DoubleType),
		cel.Variable(VarAnnualGross, cel.DoubleType),
		cel.Variable(VarAnnualDivisionFactor, cel.DoubleType),
		cel.Variable(VarAttendanceFactor, cel.DoubleType),
		cel.Variable(VarDaysPresent, cel.DoubleType),
		cel.Variable(VarDaysAbsent, cel.DoubleType),
		cel.Variable(VarTotalDays, cel.DoubleType),
		cel.Variable(VarTenureMonths, cel.DoubleType),
		cel.Variable(VarGrade, cel.StringType),
		cel.Variable(VarEmoluments, numberMap),
		cel.Variable(VarComponents, numberMap),
		cel.Variable(VarGrossPay, cel.DoubleType),
		cel.Variable(VarUnproratedGross, cel.DoubleType),
		cel.Variable(VarGross, cel.DoubleType),
		cel.CrossTypeNumericComparisons(true),
		ext.Math(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build formula environment: %w", err)
	}

	return &Evaluator{env: env, costLimit: costLimit}, nil
}

// Check compiles expr without evaluating it.
func (e *Evaluator) Check(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate runs expr against vars and returns its numeric result. Non-finite
// results are returned as-is; callers decide how to treat them.
func (e *Evaluator) Evaluate(expr string, vars Variables) (float64, error) {
	prg, err := e.program(expr)
	if err != nil {
		return 0, err
	}

	out, _, err := prg.Eval(vars.activation())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	switch v := out.Value().(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: got %s", ErrNonNumericResult, out.Type().TypeName())
	}
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyFormula
	}

	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(NormalizeLiterals(expr))
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.DoubleType) && !out.IsExactType(cel.IntType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: got %s", ErrNonNumericResult, out.String())
	}

	prg, err := e.env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	e.programs.Store(expr, prg)
	return prg, nil
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
