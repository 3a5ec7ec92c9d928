package template

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/formula"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	lockKindTemplate = "calculation_template"
	lockKindInvoice  = "invoice_template"
)

type TemplateServiceImpl struct {
	templateRepo template.TemplateRepository
	tx           database.Transactor
	authz        policy.Authorizer
	evaluator    *formula.Evaluator
}

func NewTemplateService(
	templateRepo template.TemplateRepository,
	tx database.Transactor,
	authz policy.Authorizer,
	evaluator *formula.Evaluator,
) template.TemplateService {
	return &TemplateServiceImpl{
		templateRepo: templateRepo,
		tx:           tx,
		authz:        authz,
		evaluator:    evaluator,
	}
}

// ========== QUERIES ==========

func (s *TemplateServiceImpl) List(ctx context.Context, actor auth.Actor, filter template.TemplateFilter) (template.ListTemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectTemplate, policy.ActionRead); err != nil {
		return template.ListTemplateResponse{}, err
	}

	if actor.ClientID != nil {
		filter.ClientID = actor.ClientID
	}
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)

	templates, total, err := s.templateRepo.List(ctx, filter)
	if err != nil {
		return template.ListTemplateResponse{}, fmt.Errorf("failed to list templates: %w", err)
	}

	data := make([]template.TemplateResponse, 0, len(templates))
	for _, t := range templates {
		data = append(data, toTemplateResponse(t))
	}

	return template.ListTemplateResponse{
		Data:       data,
		TotalCount: total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
	}, nil
}

func (s *TemplateServiceImpl) Get(ctx context.Context, actor auth.Actor, id string) (template.TemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectTemplate, policy.ActionRead); err != nil {
		return template.TemplateResponse{}, err
	}

	t, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return template.TemplateResponse{}, err
	}
	if !visible(actor, t.ClientID) {
		return template.TemplateResponse{}, template.ErrTemplateNotFound
	}

	return toTemplateResponse(t), nil
}

func (s *TemplateServiceImpl) GetDefault(ctx context.Context, actor auth.Actor, clientID *string, payGradeCode string) (template.TemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectTemplate, policy.ActionRead); err != nil {
		return template.TemplateResponse{}, err
	}
	if !validator.IsValidGradeCode(payGradeCode) {
		return template.TemplateResponse{}, validator.ValidationErrors{{Field: "pay_grade_code", Message: "is required"}}
	}
	if clientID != nil && !actor.CanAccessClient(*clientID) {
		return template.TemplateResponse{}, template.ErrTemplateNotFound
	}

	var (
		t   template.CalculationTemplate
		err error
	)
	if clientID != nil {
		t, err = s.Resolve(ctx, *clientID, payGradeCode)
	} else {
		t, err = s.templateRepo.FindDefault(ctx, nil, payGradeCode)
	}
	if err != nil {
		return template.TemplateResponse{}, err
	}

	return toTemplateResponse(t), nil
}

// Resolve returns the client's default template for the grade, then the
// global default for the grade.
func (s *TemplateServiceImpl) Resolve(ctx context.Context, clientID string, payGradeCode string) (template.CalculationTemplate, error) {
	t, err := s.templateRepo.FindDefault(ctx, &clientID, payGradeCode)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, template.ErrTemplateNotFound) {
		return template.CalculationTemplate{}, err
	}

	t, err = s.templateRepo.FindDefault(ctx, nil, payGradeCode)
	if err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			return template.CalculationTemplate{}, fmt.Errorf("%w for pay grade '%s'", template.ErrTemplateNotFound, payGradeCode)
		}
		return template.CalculationTemplate{}, err
	}
	return t, nil
}

// ListAllComponents flattens the components of every active template into one
// palette. The first template defining a name wins.
func (s *TemplateServiceImpl) ListAllComponents(ctx context.Context, actor auth.Actor) (map[string]template.PaletteEntry, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectTemplate, policy.ActionRead); err != nil {
		return nil, err
	}

	templates, err := s.templateRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active templates: %w", err)
	}

	palette := make(map[string]template.PaletteEntry)
	for _, t := range templates {
		if !visible(actor, t.ClientID) {
			continue
		}
		addToPalette(palette, template.CategorySalary, t.SalaryComponents)
		addToPalette(palette, template.CategoryAllowance, t.AllowanceComponents)
		addToPalette(palette, template.CategoryDeduction, t.DeductionComponents)
		addToPalette(palette, template.CategoryStatutory, t.StatutoryComponents)
	}
	return palette, nil
}

func addToPalette(palette map[string]template.PaletteEntry, category string, comps template.ComponentMap) {
	for _, name := range comps.Names() {
		if _, exists := palette[name]; exists {
			continue
		}
		palette[name] = template.PaletteEntry{
			Name:        name,
			Label:       template.ComponentLabel(name),
			Formula:     comps[name].Formula,
			Description: comps[name].Description,
			Category:    category,
		}
	}
}

func (s *TemplateServiceImpl) CheckFormula(ctx context.Context, req template.CheckFormulaRequest) template.CheckFormulaResponse {
	if err := s.evaluator.Check(req.Formula); err != nil {
		return template.CheckFormulaResponse{Valid: false, Error: err.Error()}
	}
	return template.CheckFormulaResponse{Valid: true, Normalized: formula.NormalizeLiterals(strings.TrimSpace(req.Formula))}
}

// ========== COMMANDS ==========

func (s *TemplateServiceImpl) Create(ctx context.Context, actor auth.Actor, req template.CreateTemplateRequest) (template.TemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectTemplate, policy.ActionWrite); err != nil {
		return template.TemplateResponse{}, err
	}
	if err := req.Validate(); err != nil {
		return template.TemplateResponse{}, err
	}
	if !writable(actor, req.ClientID) {
		return template.TemplateResponse{}, fmt.Errorf("%w: template belongs to another client", policy.ErrForbidden)
	}

	t := template.CalculationTemplate{
		ClientID:     req.ClientID,
		PayGradeCode: req.PayGradeCode,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		IsActive:     true,
		CreatedBy:    actor.UserRef(),
		UpdatedBy:    actor.UserRef(),
	}
	applyFormulaDefaults(&t)
	applyFormulaFields(&t, req.FormulaFields)
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	if req.IsDefault != nil {
		t.IsDefault = *req.IsDefault
	}

	var created template.CalculationTemplate
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.clearDefaultsIfNeeded(ctx, t); err != nil {
			return err
		}
		var err error
		created, err = s.templateRepo.Create(ctx, t)
		return err
	})
	if err != nil {
		return template.TemplateResponse{}, err
	}

	return toTemplateResponse(created), nil
}

func (s *TemplateServiceImpl) Update(ctx context.Context, actor auth.Actor, req template.UpdateTemplateRequest) (template.TemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectTemplate, policy.ActionWrite); err != nil {
		return template.TemplateResponse{}, err
	}
	if err := req.Validate(); err != nil {
		return template.TemplateResponse{}, err
	}

	var updated template.CalculationTemplate
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.templateRepo.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		if !writable(actor, t.ClientID) {
			return template.ErrTemplateNotFound
		}

		if req.ClientID != nil {
			t.ClientID = req.ClientID
		}
		if req.PayGradeCode != nil {
			t.PayGradeCode = *req.PayGradeCode
		}
		if req.Name != nil {
			t.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			t.Description = req.Description
		}
		applyFormulaFields(&t, req.FormulaFields)
		if req.IsActive != nil {
			t.IsActive = *req.IsActive
		}
		if req.IsDefault != nil {
			t.IsDefault = *req.IsDefault
		}
		if t.IsDefault && !t.IsActive {
			if req.IsDefault != nil {
				return validator.ValidationErrors{{Field: "is_default", Message: "an inactive template cannot be the default"}}
			}
			t.IsDefault = false
		}
		if !writable(actor, t.ClientID) {
			return fmt.Errorf("%w: template belongs to another client", policy.ErrForbidden)
		}
		t.UpdatedBy = actor.UserRef()

		if err := s.clearDefaultsIfNeeded(ctx, t); err != nil {
			return err
		}
		updated, err = s.templateRepo.Update(ctx, t)
		return err
	})
	if err != nil {
		return template.TemplateResponse{}, err
	}

	return toTemplateResponse(updated), nil
}

// Delete deactivates the template. Templates are never removed because
// historical payroll items reference them.
func (s *TemplateServiceImpl) Delete(ctx context.Context, actor auth.Actor, id string) error {
	if err := s.authz.Authorize(actor.Role, policy.ObjectTemplate, policy.ActionWrite); err != nil {
		return err
	}

	t, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !writable(actor, t.ClientID) {
		return template.ErrTemplateNotFound
	}

	return s.templateRepo.Deactivate(ctx, id, actor.UserRef())
}

func (s *TemplateServiceImpl) Clone(ctx context.Context, actor auth.Actor, req template.CloneTemplateRequest) (template.TemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectTemplate, policy.ActionWrite); err != nil {
		return template.TemplateResponse{}, err
	}
	if err := req.Validate(); err != nil {
		return template.TemplateResponse{}, err
	}

	var created template.CalculationTemplate
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		src, err := s.templateRepo.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		if !visible(actor, src.ClientID) {
			return template.ErrTemplateNotFound
		}

		t := cloneTemplate(src)
		t.Name = src.Name + " (Copy)"
		if req.Name != nil {
			t.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			t.Description = req.Description
		}
		if req.ClientID != nil {
			t.ClientID = req.ClientID
		}
		if req.PayGradeCode != nil {
			t.PayGradeCode = *req.PayGradeCode
		}
		if req.IsActive != nil {
			t.IsActive = *req.IsActive
		}
		if req.IsDefault != nil {
			t.IsDefault = *req.IsDefault
		}
		if t.IsDefault && !t.IsActive {
			return validator.ValidationErrors{{Field: "is_default", Message: "an inactive template cannot be the default"}}
		}
		if !writable(actor, t.ClientID) {
			return fmt.Errorf("%w: template belongs to another client", policy.ErrForbidden)
		}
		t.CreatedBy = actor.UserRef()
		t.UpdatedBy = actor.UserRef()

		if err := s.clearDefaultsIfNeeded(ctx, t); err != nil {
			return err
		}
		created, err = s.templateRepo.Create(ctx, t)
		return err
	})
	if err != nil {
		return template.TemplateResponse{}, err
	}

	return toTemplateResponse(created), nil
}

// clearDefaultsIfNeeded makes t the only default of its scope. It must run
// inside the write transaction.
func (s *TemplateServiceImpl) clearDefaultsIfNeeded(ctx context.Context, t template.CalculationTemplate) error {
	if !t.IsDefault || !t.IsActive {
		return nil
	}
	scope := t.Scope()
	if err := s.templateRepo.LockScope(ctx, scope); err != nil {
		return err
	}
	if _, err := s.templateRepo.ClearDefaults(ctx, scope, t.ID); err != nil {
		return err
	}
	return nil
}

// ========== HELPERS ==========

// cloneTemplate copies everything except identity, timestamps and the
// last-used marker. The copy is not a default.
func cloneTemplate(src template.CalculationTemplate) template.CalculationTemplate {
	return template.CalculationTemplate{
		ClientID:                    src.ClientID,
		PayGradeCode:                src.PayGradeCode,
		Name:                        src.Name,
		Description:                 src.Description,
		SalaryComponents:            copyComponents(src.SalaryComponents),
		AllowanceComponents:         copyComponents(src.AllowanceComponents),
		DeductionComponents:         copyComponents(src.DeductionComponents),
		StatutoryComponents:         copyComponents(src.StatutoryComponents),
		CalculationRules:            copyRules(src.CalculationRules),
		AnnualDivisionFactor:        src.AnnualDivisionFactor,
		AttendanceCalculationMethod: src.AttendanceCalculationMethod,
		ProrateSalary:               src.ProrateSalary,
		MinimumAttendanceFactor:     src.MinimumAttendanceFactor,
		IsActive:                    src.IsActive,
		IsDefault:                   false,
	}
}

func applyFormulaDefaults(t *template.CalculationTemplate) {
	t.SalaryComponents = template.ComponentMap{}
	t.AllowanceComponents = template.ComponentMap{}
	t.DeductionComponents = template.ComponentMap{}
	t.StatutoryComponents = template.ComponentMap{}
	t.CalculationRules = template.CalculationRules{}
	t.AnnualDivisionFactor = template.DefaultAnnualDivisionFactor
	t.AttendanceCalculationMethod = template.AttendanceWorkingDays
	t.ProrateSalary = true
	t.MinimumAttendanceFactor = template.DefaultMinimumAttendanceFactor
}

func applyFormulaFields(t *template.CalculationTemplate, f template.FormulaFields) {
	if f.SalaryComponents != nil {
		t.SalaryComponents = f.SalaryComponents
	}
	if f.AllowanceComponents != nil {
		t.AllowanceComponents = f.AllowanceComponents
	}
	if f.DeductionComponents != nil {
		t.DeductionComponents = f.DeductionComponents
	}
	if f.StatutoryComponents != nil {
		t.StatutoryComponents = f.StatutoryComponents
	}
	if f.CalculationRules != nil {
		t.CalculationRules = f.CalculationRules
	}
	if f.AnnualDivisionFactor != nil {
		t.AnnualDivisionFactor = *f.AnnualDivisionFactor
	}
	if f.AttendanceCalculationMethod != nil {
		t.AttendanceCalculationMethod = template.AttendanceMethod(*f.AttendanceCalculationMethod)
	}
	if f.ProrateSalary != nil {
		t.ProrateSalary = *f.ProrateSalary
	}
	if f.MinimumAttendanceFactor != nil {
		t.MinimumAttendanceFactor = *f.MinimumAttendanceFactor
	}
}

func copyComponents(m template.ComponentMap) template.ComponentMap {
	out := make(template.ComponentMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyRules(r template.CalculationRules) template.CalculationRules {
	out := make(template.CalculationRules, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// visible reports whether the actor may read a template of the given client.
// Global templates are visible to everyone.
func visible(actor auth.Actor, clientID *string) bool {
	return clientID == nil || actor.CanAccessClient(*clientID)
}

// writable reports whether the actor may write a template of the given
// client. Only actors without a client binding write global templates.
func writable(actor auth.Actor, clientID *string) bool {
	if clientID == nil {
		return actor.ClientID == nil
	}
	return actor.CanAccessClient(*clientID)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func toTemplateResponse(t template.CalculationTemplate) template.TemplateResponse {
	return template.TemplateResponse{
		ID:                          t.ID,
		ClientID:                    t.ClientID,
		PayGradeCode:                t.PayGradeCode,
		Name:                        t.Name,
		Description:                 t.Description,
		SalaryComponents:            t.SalaryComponents,
		AllowanceComponents:         t.AllowanceComponents,
		DeductionComponents:         t.DeductionComponents,
		StatutoryComponents:         t.StatutoryComponents,
		CalculationRules:            t.CalculationRules,
		AnnualDivisionFactor:        t.AnnualDivisionFactor,
		AttendanceCalculationMethod: string(t.AttendanceCalculationMethod),
		ProrateSalary:               t.ProrateSalary,
		MinimumAttendanceFactor:     t.MinimumAttendanceFactor,
		IsActive:                    t.IsActive,
		IsDefault:                   t.IsDefault,
		CreatedBy:                   t.CreatedBy,
		UpdatedBy:                   t.UpdatedBy,
		LastUsedAt:                  t.LastUsedAt,
		CreatedAt:                   t.CreatedAt,
		UpdatedAt:                   t.UpdatedAt,
	}
}
