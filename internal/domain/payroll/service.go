package payroll

import (
	"context"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
)

type PayrollRunService interface {
	List(ctx context.Context, actor auth.Actor, filter RunFilter) (ListRunResponse, error)
	Create(ctx context.Context, actor auth.Actor, req CreateRunRequest) (RunResponse, error)
	Get(ctx context.Context, actor auth.Actor, id string) (RunDetailResponse, error)

	// Calculate runs the engine for every eligible attendance record of the run.
	// Staff that fail are reported in the response and skipped; the run moves to
	// calculated as long as at least one staff member succeeded.
	Calculate(ctx context.Context, actor auth.Actor, id string) (CalculateRunResponse, error)

	Approve(ctx context.Context, actor auth.Actor, id string) (RunResponse, error)
	Export(ctx context.Context, actor auth.Actor, id string) (ExportPayload, error)
	Cancel(ctx context.Context, actor auth.Actor, req CancelRunRequest) (RunResponse, error)
	Delete(ctx context.Context, actor auth.Actor, id string) error
}
