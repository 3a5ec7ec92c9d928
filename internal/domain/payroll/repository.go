package payroll

import (
	"context"
	"time"
)

// RunRepository defines data access methods for payroll runs.
type RunRepository interface {
	Create(ctx context.Context, run PayrollRun) (PayrollRun, error)
	GetByID(ctx context.Context, id string) (PayrollRun, error)
	// GetForUpdate locks the run row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (PayrollRun, error)
	// FindActiveByPeriod returns the non-cancelled run for the period, if any.
	FindActiveByPeriod(ctx context.Context, clientID string, month, year int) (PayrollRun, error)
	List(ctx context.Context, filter RunFilter) ([]PayrollRun, int64, error)
	UpdateStatus(ctx context.Context, id string, change StatusChange) (PayrollRun, error)
	// RecalculateTotals sums the run's current items into its aggregate columns.
	RecalculateTotals(ctx context.Context, id string) (Totals, error)
	Delete(ctx context.Context, id string) error
}

// StatusChange is a status transition with the audit fields it sets.
type StatusChange struct {
	Status     RunStatus
	At         time.Time
	ApprovedBy *string
	// Notes replaces the run notes when set.
	Notes *string
}

// ItemRepository defines data access methods for payroll items.
type ItemRepository interface {
	CreateBatch(ctx context.Context, items []PayrollItem) error
	ListByRun(ctx context.Context, runID string) ([]PayrollItem, error)
	DeleteByRun(ctx context.Context, runID string) (int64, error)
}
