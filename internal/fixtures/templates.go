package fixtures

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed default_templates.yaml
var defaultTemplates []byte

// ==========================================
// YAML SHAPE
// ==========================================

type templateFile struct {
	Templates []templateSeed `yaml:"templates"`
}

type templateSeed struct {
	PayGradeCode                string                    `yaml:"pay_grade_code"`
	Name                        string                    `yaml:"name"`
	Description                 string                    `yaml:"description"`
	AnnualDivisionFactor        int                       `yaml:"annual_division_factor"`
	AttendanceCalculationMethod string                    `yaml:"attendance_calculation_method"`
	ProrateSalary               *bool                     `yaml:"prorate_salary"`
	MinimumAttendanceFactor     string                    `yaml:"minimum_attendance_factor"`
	SalaryComponents            template.ComponentMap     `yaml:"salary_components"`
	AllowanceComponents         template.ComponentMap     `yaml:"allowance_components"`
	DeductionComponents         template.ComponentMap     `yaml:"deduction_components"`
	StatutoryComponents         template.ComponentMap     `yaml:"statutory_components"`
	CalculationRules            template.CalculationRules `yaml:"calculation_rules"`
}

func (s templateSeed) request() (template.CreateTemplateRequest, error) {
	req := template.CreateTemplateRequest{
		PayGradeCode: s.PayGradeCode,
		Name:         s.Name,
		FormulaFields: template.FormulaFields{
			SalaryComponents:    nonNil(s.SalaryComponents),
			AllowanceComponents: nonNil(s.AllowanceComponents),
			DeductionComponents: nonNil(s.DeductionComponents),
			StatutoryComponents: nonNil(s.StatutoryComponents),
			CalculationRules:    s.CalculationRules,
			ProrateSalary:       s.ProrateSalary,
		},
		IsDefault: boolPtr(true),
	}
	if s.Description != "" {
		req.Description = strPtr(s.Description)
	}
	if s.AnnualDivisionFactor != 0 {
		req.AnnualDivisionFactor = intPtr(s.AnnualDivisionFactor)
	}
	if s.AttendanceCalculationMethod != "" {
		req.AttendanceCalculationMethod = strPtr(s.AttendanceCalculationMethod)
	}
	if s.MinimumAttendanceFactor != "" {
		f, err := decimal.NewFromString(s.MinimumAttendanceFactor)
		if err != nil {
			return req, fmt.Errorf("template %s: invalid minimum_attendance_factor: %w", s.PayGradeCode, err)
		}
		req.MinimumAttendanceFactor = &f
	}
	return req, nil
}

// ==========================================
// LOADING
// ==========================================

// ParseTemplates decodes a seed file into create requests. An empty data slice
// selects the built-in defaults.
func ParseTemplates(data []byte) ([]template.CreateTemplateRequest, error) {
	if len(data) == 0 {
		data = defaultTemplates
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template seed file: %w", err)
	}

	reqs := make([]template.CreateTemplateRequest, 0, len(file.Templates))
	for _, seed := range file.Templates {
		req, err := seed.request()
		if err != nil {
			return nil, err
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("template %s: %w", seed.PayGradeCode, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// ReadTemplates reads a seed file from disk, or the built-in defaults when path is empty.
func ReadTemplates(path string) ([]template.CreateTemplateRequest, error) {
	if path == "" {
		return ParseTemplates(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template seed file: %w", err)
	}
	return ParseTemplates(data)
}

// ==========================================
// SEEDING
// ==========================================

type templateCounter interface {
	Count(ctx context.Context) (int64, error)
}

type templateCreator interface {
	Create(ctx context.Context, actor auth.Actor, req template.CreateTemplateRequest) (template.TemplateResponse, error)
}

// SeedTemplates creates the given global templates when no template exists yet.
// It returns how many were created.
func SeedTemplates(ctx context.Context, counter templateCounter, creator templateCreator, reqs []template.CreateTemplateRequest) (int, error) {
	count, err := counter.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	if count > 0 {
		slog.Debug("template seeding skipped", "existing", count)
		return 0, nil
	}

	created := 0
	for _, req := range reqs {
		if _, err := creator.Create(ctx, auth.SystemActor, req); err != nil {
			return created, fmt.Errorf("failed to seed template %s: %w", req.PayGradeCode, err)
		}
		created++
	}
	slog.Info("seeded default templates", "count", created)
	return created, nil
}

func nonNil(m template.ComponentMap) template.ComponentMap {
	if m == nil {
		return template.ComponentMap{}
	}
	return m
}

func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
