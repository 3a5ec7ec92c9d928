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
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

type InvoiceTemplateServiceImpl struct {
	invoiceRepo template.InvoiceTemplateRepository
	tx          database.Transactor
	authz       policy.Authorizer
}

func NewInvoiceTemplateService(
	invoiceRepo template.InvoiceTemplateRepository,
	tx database.Transactor,
	authz policy.Authorizer,
) template.InvoiceTemplateService {
	return &InvoiceTemplateServiceImpl{
		invoiceRepo: invoiceRepo,
		tx:          tx,
		authz:       authz,
	}
}

func (s *InvoiceTemplateServiceImpl) List(ctx context.Context, actor auth.Actor, filter template.InvoiceTemplateFilter) (template.ListInvoiceTemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectInvoiceTemplate, policy.ActionRead); err != nil {
		return template.ListInvoiceTemplateResponse{}, err
	}

	if actor.ClientID != nil {
		filter.ClientID = actor.ClientID
	}
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)

	templates, total, err := s.invoiceRepo.List(ctx, filter)
	if err != nil {
		return template.ListInvoiceTemplateResponse{}, fmt.Errorf("failed to list invoice templates: %w", err)
	}

	data := make([]template.InvoiceTemplateResponse, 0, len(templates))
	for _, t := range templates {
		data = append(data, toInvoiceTemplateResponse(t))
	}

	return template.ListInvoiceTemplateResponse{
		Data:       data,
		TotalCount: total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
	}, nil
}

func (s *InvoiceTemplateServiceImpl) Get(ctx context.Context, actor auth.Actor, id string) (template.InvoiceTemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectInvoiceTemplate, policy.ActionRead); err != nil {
		return template.InvoiceTemplateResponse{}, err
	}

	t, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return template.InvoiceTemplateResponse{}, err
	}
	if !actor.CanAccessClient(t.ClientID) {
		return template.InvoiceTemplateResponse{}, template.ErrInvoiceTemplateNotFound
	}

	return toInvoiceTemplateResponse(t), nil
}

func (s *InvoiceTemplateServiceImpl) GetDefault(ctx context.Context, actor auth.Actor, clientID string, payGradeStructureID *string) (template.InvoiceTemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectInvoiceTemplate, policy.ActionRead); err != nil {
		return template.InvoiceTemplateResponse{}, err
	}
	if !validator.IsValidUUID(clientID) {
		return template.InvoiceTemplateResponse{}, validator.ValidationErrors{{Field: "client_id", Message: "is required and must be a valid UUID"}}
	}
	if !actor.CanAccessClient(clientID) {
		return template.InvoiceTemplateResponse{}, template.ErrInvoiceTemplateNotFound
	}

	t, ok, err := s.ResolveBilling(ctx, clientID, payGradeStructureID)
	if err != nil {
		return template.InvoiceTemplateResponse{}, err
	}
	if !ok {
		return template.InvoiceTemplateResponse{}, template.ErrInvoiceTemplateNotFound
	}

	return toInvoiceTemplateResponse(t), nil
}

func (s *InvoiceTemplateServiceImpl) ResolveBilling(ctx context.Context, clientID string, payGradeStructureID *string) (template.InvoiceTemplate, bool, error) {
	if payGradeStructureID != nil {
		t, err := s.invoiceRepo.FindDefault(ctx, clientID, payGradeStructureID)
		if err == nil {
			return t, true, nil
		}
		if !errors.Is(err, template.ErrInvoiceTemplateNotFound) {
			return template.InvoiceTemplate{}, false, err
		}
	}

	t, err := s.invoiceRepo.FindDefault(ctx, clientID, nil)
	if err != nil {
		if errors.Is(err, template.ErrInvoiceTemplateNotFound) {
			return template.InvoiceTemplate{}, false, nil
		}
		return template.InvoiceTemplate{}, false, err
	}
	return t, true, nil
}

func (s *InvoiceTemplateServiceImpl) Create(ctx context.Context, actor auth.Actor, req template.CreateInvoiceTemplateRequest) (template.InvoiceTemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectInvoiceTemplate, policy.ActionWrite); err != nil {
		return template.InvoiceTemplateResponse{}, err
	}
	if err := req.Validate(); err != nil {
		return template.InvoiceTemplateResponse{}, err
	}
	if !actor.CanAccessClient(req.ClientID) {
		return template.InvoiceTemplateResponse{}, fmt.Errorf("%w: invoice template belongs to another client", policy.ErrForbidden)
	}

	base := template.CalculationTemplate{}
	applyFormulaDefaults(&base)
	applyFormulaFields(&base, req.FormulaFields)

	t := template.InvoiceTemplate{
		ClientID:             req.ClientID,
		PayGradeStructureID:  req.PayGradeStructureID,
		Name:                 strings.TrimSpace(req.Name),
		Description:          req.Description,
		UseCreditToBankModel: true,
		ServiceFeePercentage: decimal.Zero,
		IsActive:             true,
		CreatedBy:            actor.UserRef(),
		UpdatedBy:            actor.UserRef(),
	}
	setInvoiceFormulas(&t, base)
	if req.UseCreditToBankModel != nil {
		t.UseCreditToBankModel = *req.UseCreditToBankModel
	}
	if req.ServiceFeePercentage != nil {
		t.ServiceFeePercentage = *req.ServiceFeePercentage
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	if req.IsDefault != nil {
		t.IsDefault = *req.IsDefault
	}

	var created template.InvoiceTemplate
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.clearDefaultsIfNeeded(ctx, t); err != nil {
			return err
		}
		var err error
		created, err = s.invoiceRepo.Create(ctx, t)
		return err
	})
	if err != nil {
		return template.InvoiceTemplateResponse{}, err
	}

	return toInvoiceTemplateResponse(created), nil
}

func (s *InvoiceTemplateServiceImpl) Update(ctx context.Context, actor auth.Actor, req template.UpdateInvoiceTemplateRequest) (template.InvoiceTemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectInvoiceTemplate, policy.ActionWrite); err != nil {
		return template.InvoiceTemplateResponse{}, err
	}
	if err := req.Validate(); err != nil {
		return template.InvoiceTemplateResponse{}, err
	}

	var updated template.InvoiceTemplate
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.invoiceRepo.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		if !actor.CanAccessClient(t.ClientID) {
			return template.ErrInvoiceTemplateNotFound
		}

		if req.PayGradeStructureID != nil {
			t.PayGradeStructureID = req.PayGradeStructureID
		}
		if req.Name != nil {
			t.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			t.Description = req.Description
		}
		base := invoiceFormulas(t)
		applyFormulaFields(&base, req.FormulaFields)
		setInvoiceFormulas(&t, base)
		if req.UseCreditToBankModel != nil {
			t.UseCreditToBankModel = *req.UseCreditToBankModel
		}
		if req.ServiceFeePercentage != nil {
			t.ServiceFeePercentage = *req.ServiceFeePercentage
		}
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
		t.UpdatedBy = actor.UserRef()

		if err := s.clearDefaultsIfNeeded(ctx, t); err != nil {
			return err
		}
		updated, err = s.invoiceRepo.Update(ctx, t)
		return err
	})
	if err != nil {
		return template.InvoiceTemplateResponse{}, err
	}

	return toInvoiceTemplateResponse(updated), nil
}

func (s *InvoiceTemplateServiceImpl) Delete(ctx context.Context, actor auth.Actor, id string) error {
	if err := s.authz.Authorize(actor.Role, policy.ObjectInvoiceTemplate, policy.ActionWrite); err != nil {
		return err
	}

	t, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanAccessClient(t.ClientID) {
		return template.ErrInvoiceTemplateNotFound
	}

	return s.invoiceRepo.Deactivate(ctx, id, actor.UserRef())
}

func (s *InvoiceTemplateServiceImpl) Clone(ctx context.Context, actor auth.Actor, req template.CloneInvoiceTemplateRequest) (template.InvoiceTemplateResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectInvoiceTemplate, policy.ActionWrite); err != nil {
		return template.InvoiceTemplateResponse{}, err
	}
	if err := req.Validate(); err != nil {
		return template.InvoiceTemplateResponse{}, err
	}

	var created template.InvoiceTemplate
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		src, err := s.invoiceRepo.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		if !actor.CanAccessClient(src.ClientID) {
			return template.ErrInvoiceTemplateNotFound
		}

		t := template.InvoiceTemplate{
			ClientID:             src.ClientID,
			PayGradeStructureID:  src.PayGradeStructureID,
			Name:                 src.Name + " (Copy)",
			Description:          src.Description,
			UseCreditToBankModel: src.UseCreditToBankModel,
			ServiceFeePercentage: src.ServiceFeePercentage,
			IsActive:             src.IsActive,
			CreatedBy:            actor.UserRef(),
			UpdatedBy:            actor.UserRef(),
		}
		setInvoiceFormulas(&t, cloneTemplate(invoiceFormulas(src)))

		if req.Name != nil {
			t.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			t.Description = req.Description
		}
		if req.ClientID != nil {
			t.ClientID = *req.ClientID
		}
		if req.PayGradeStructureID != nil {
			t.PayGradeStructureID = req.PayGradeStructureID
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
		if !actor.CanAccessClient(t.ClientID) {
			return fmt.Errorf("%w: invoice template belongs to another client", policy.ErrForbidden)
		}

		if err := s.clearDefaultsIfNeeded(ctx, t); err != nil {
			return err
		}
		created, err = s.invoiceRepo.Create(ctx, t)
		return err
	})
	if err != nil {
		return template.InvoiceTemplateResponse{}, err
	}

	return toInvoiceTemplateResponse(created), nil
}

func (s *InvoiceTemplateServiceImpl) clearDefaultsIfNeeded(ctx context.Context, t template.InvoiceTemplate) error {
	if !t.IsDefault || !t.IsActive {
		return nil
	}
	scope := t.Scope()
	if err := s.invoiceRepo.LockScope(ctx, scope); err != nil {
		return err
	}
	if _, err := s.invoiceRepo.ClearDefaults(ctx, scope, t.ID); err != nil {
		return err
	}
	return nil
}

// invoiceFormulas lifts the formula part of an invoice template into a
// calculation template so both kinds share the default and patch helpers.
func invoiceFormulas(t template.InvoiceTemplate) template.CalculationTemplate {
	return template.CalculationTemplate{
		SalaryComponents:            t.SalaryComponents,
		AllowanceComponents:         t.AllowanceComponents,
		DeductionComponents:         t.DeductionComponents,
		StatutoryComponents:         t.StatutoryComponents,
		CalculationRules:            t.CalculationRules,
		AnnualDivisionFactor:        t.AnnualDivisionFactor,
		AttendanceCalculationMethod: t.AttendanceCalculationMethod,
		ProrateSalary:               t.ProrateSalary,
		MinimumAttendanceFactor:     t.MinimumAttendanceFactor,
		IsActive:                    t.IsActive,
	}
}

func setInvoiceFormulas(t *template.InvoiceTemplate, f template.CalculationTemplate) {
	t.SalaryComponents = f.SalaryComponents
	t.AllowanceComponents = f.AllowanceComponents
	t.DeductionComponents = f.DeductionComponents
	t.StatutoryComponents = f.StatutoryComponents
	t.CalculationRules = f.CalculationRules
	t.AnnualDivisionFactor = f.AnnualDivisionFactor
	t.AttendanceCalculationMethod = f.AttendanceCalculationMethod
	t.ProrateSalary = f.ProrateSalary
	t.MinimumAttendanceFactor = f.MinimumAttendanceFactor
}

func toInvoiceTemplateResponse(t template.InvoiceTemplate) template.InvoiceTemplateResponse {
	return template.InvoiceTemplateResponse{
		ID:                          t.ID,
		ClientID:                    t.ClientID,
		PayGradeStructureID:         t.PayGradeStructureID,
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
		UseCreditToBankModel:        t.UseCreditToBankModel,
		ServiceFeePercentage:        t.ServiceFeePercentage,
		IsActive:                    t.IsActive,
		IsDefault:                   t.IsDefault,
		CreatedBy:                   t.CreatedBy,
		UpdatedBy:                   t.UpdatedBy,
		LastUsedAt:                  t.LastUsedAt,
		CreatedAt:                   t.CreatedAt,
		UpdatedAt:                   t.UpdatedAt,
	}
}
