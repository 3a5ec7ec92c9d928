package template

import (
	"context"
	"time"
)

// TemplateRepository defines data access methods for calculation templates.
type TemplateRepository interface {
	Create(ctx context.Context, t CalculationTemplate) (CalculationTemplate, error)
	GetByID(ctx context.Context, id string) (CalculationTemplate, error)
	Update(ctx context.Context, t CalculationTemplate) (CalculationTemplate, error)
	List(ctx context.Context, filter TemplateFilter) ([]CalculationTemplate, int64, error)
	ListActive(ctx context.Context) ([]CalculationTemplate, error)
	Count(ctx context.Context) (int64, error)

	// FindDefault returns the active default template of exactly this scope.
	FindDefault(ctx context.Context, clientID *string, payGradeCode string) (CalculationTemplate, error)
	// ClearDefaults unsets is_default on every other active template in scope.
	ClearDefaults(ctx context.Context, scope Scope, exceptID string) (int64, error)
	// LockScope serializes default-flag writes on scope until the transaction ends.
	LockScope(ctx context.Context, scope Scope) error

	Deactivate(ctx context.Context, id string, updatedBy *string) error
	TouchLastUsed(ctx context.Context, ids []string, at time.Time) error
}

// InvoiceTemplateRepository defines data access methods for invoice templates.
type InvoiceTemplateRepository interface {
	Create(ctx context.Context, t InvoiceTemplate) (InvoiceTemplate, error)
	GetByID(ctx context.Context, id string) (InvoiceTemplate, error)
	Update(ctx context.Context, t InvoiceTemplate) (InvoiceTemplate, error)
	List(ctx context.Context, filter InvoiceTemplateFilter) ([]InvoiceTemplate, int64, error)

	FindDefault(ctx context.Context, clientID string, payGradeStructureID *string) (InvoiceTemplate, error)
	ClearDefaults(ctx context.Context, scope Scope, exceptID string) (int64, error)
	LockScope(ctx context.Context, scope Scope) error

	Deactivate(ctx context.Context, id string, updatedBy *string) error
	TouchLastUsed(ctx context.Context, ids []string, at time.Time) error
}
