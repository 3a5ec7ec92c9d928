package template

import (
	"context"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
)

type TemplateService interface {
	List(ctx context.Context, actor auth.Actor, filter TemplateFilter) (ListTemplateResponse, error)
	Get(ctx context.Context, actor auth.Actor, id string) (TemplateResponse, error)
	Create(ctx context.Context, actor auth.Actor, req CreateTemplateRequest) (TemplateResponse, error)
	Update(ctx context.Context, actor auth.Actor, req UpdateTemplateRequest) (TemplateResponse, error)
	Delete(ctx context.Context, actor auth.Actor, id string) error
	GetDefault(ctx context.Context, actor auth.Actor, clientID *string, payGradeCode string) (TemplateResponse, error)
	Clone(ctx context.Context, actor auth.Actor, req CloneTemplateRequest) (TemplateResponse, error)
	ListAllComponents(ctx context.Context, actor auth.Actor) (map[string]PaletteEntry, error)
	CheckFormula(ctx context.Context, req CheckFormulaRequest) CheckFormulaResponse

	// Resolve returns the default template for (client, grade), falling back to
	// the global template for the grade.
	Resolve(ctx context.Context, clientID string, payGradeCode string) (CalculationTemplate, error)
}

type InvoiceTemplateService interface {
	List(ctx context.Context, actor auth.Actor, filter InvoiceTemplateFilter) (ListInvoiceTemplateResponse, error)
	Get(ctx context.Context, actor auth.Actor, id string) (InvoiceTemplateResponse, error)
	Create(ctx context.Context, actor auth.Actor, req CreateInvoiceTemplateRequest) (InvoiceTemplateResponse, error)
	Update(ctx context.Context, actor auth.Actor, req UpdateInvoiceTemplateRequest) (InvoiceTemplateResponse, error)
	Delete(ctx context.Context, actor auth.Actor, id string) error
	GetDefault(ctx context.Context, actor auth.Actor, clientID string, payGradeStructureID *string) (InvoiceTemplateResponse, error)
	Clone(ctx context.Context, actor auth.Actor, req CloneInvoiceTemplateRequest) (InvoiceTemplateResponse, error)

	// ResolveBilling returns the default invoice template for (client, pay grade
	// structure), falling back to the client-wide one. ok is false when none exists.
	ResolveBilling(ctx context.Context, clientID string, payGradeStructureID *string) (inv InvoiceTemplate, ok bool, err error)
}
