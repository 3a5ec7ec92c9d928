package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/master/grade"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/staff"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"
	"github.com/cmlabs-hris/payroll-engine/internal/service/calculation"
	"github.com/google/uuid"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	defaultWorkers   = 4
)

// TemplateResolver finds the calculation template for a client's pay grade.
type TemplateResolver interface {
	Resolve(ctx context.Context, clientID string, payGradeCode string) (template.CalculationTemplate, error)
}

// BillingResolver finds the invoice template that overlays a client's billing model.
type BillingResolver interface {
	ResolveBilling(ctx context.Context, clientID string, payGradeStructureID *string) (template.InvoiceTemplate, bool, error)
}

// UsageRecorder marks templates as used by a run.
type UsageRecorder interface {
	TouchLastUsed(ctx context.Context, ids []string, at time.Time) error
}

type Options struct {
	// Workers bounds the number of staff calculated in parallel.
	Workers int
}

type PayrollServiceImpl struct {
	tx             database.Transactor
	runRepo        payroll.RunRepository
	itemRepo       payroll.ItemRepository
	attendanceRepo attendance.AttendanceRepository
	staffRepo      staff.StaffRepository
	gradeRepo      grade.PayGradeRepository
	templates      TemplateResolver
	billing        BillingResolver
	usage          UsageRecorder
	billingUsage   UsageRecorder
	engine         *calculation.Engine
	authz          policy.Authorizer
	workers        int
	now            func() time.Time
}

func NewPayrollService(
	tx database.Transactor,
	runRepo payroll.RunRepository,
	itemRepo payroll.ItemRepository,
	attendanceRepo attendance.AttendanceRepository,
	staffRepo staff.StaffRepository,
	gradeRepo grade.PayGradeRepository,
	templates TemplateResolver,
	billing BillingResolver,
	usage UsageRecorder,
	billingUsage UsageRecorder,
	engine *calculation.Engine,
	authz policy.Authorizer,
	opts Options,
) payroll.PayrollRunService {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &PayrollServiceImpl{
		tx:             tx,
		runRepo:        runRepo,
		itemRepo:       itemRepo,
		attendanceRepo: attendanceRepo,
		staffRepo:      staffRepo,
		gradeRepo:      gradeRepo,
		templates:      templates,
		billing:        billing,
		usage:          usage,
		billingUsage:   billingUsage,
		engine:         engine,
		authz:          authz,
		workers:        workers,
		now:            time.Now,
	}
}

// ========== QUERIES ==========

func (s *PayrollServiceImpl) List(ctx context.Context, actor auth.Actor, filter payroll.RunFilter) (payroll.ListRunResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectPayrollRun, policy.ActionRead); err != nil {
		return payroll.ListRunResponse{}, err
	}
	if err := filter.Validate(); err != nil {
		return payroll.ListRunResponse{}, err
	}

	if actor.ClientID != nil {
		filter.ClientID = actor.ClientID
	}
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)

	runs, total, err := s.runRepo.List(ctx, filter)
	if err != nil {
		return payroll.ListRunResponse{}, fmt.Errorf("failed to list payroll runs: %w", err)
	}

	data := make([]payroll.RunResponse, 0, len(runs))
	for _, r := range runs {
		data = append(data, toRunResponse(r))
	}

	return payroll.ListRunResponse{
		Data:       data,
		TotalCount: total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
	}, nil
}

func (s *PayrollServiceImpl) Get(ctx context.Context, actor auth.Actor, id string) (payroll.RunDetailResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectPayrollRun, policy.ActionRead); err != nil {
		return payroll.RunDetailResponse{}, err
	}

	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return payroll.RunDetailResponse{}, err
	}
	if !actor.CanAccessClient(run.ClientID) {
		return payroll.RunDetailResponse{}, payroll.ErrRunNotFound
	}

	items, err := s.itemRepo.ListByRun(ctx, id)
	if err != nil {
		return payroll.RunDetailResponse{}, fmt.Errorf("failed to list payroll items: %w", err)
	}

	resp := payroll.RunDetailResponse{
		RunResponse: toRunResponse(run),
		Items:       make([]payroll.ItemResponse, 0, len(items)),
	}
	for _, it := range items {
		resp.Items = append(resp.Items, toItemResponse(it))
	}
	return resp, nil
}

// ========== LIFECYCLE ==========

func (s *PayrollServiceImpl) Create(ctx context.Context, actor auth.Actor, req payroll.CreateRunRequest) (payroll.RunResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectPayrollRun, policy.ActionCreate); err != nil {
		return payroll.RunResponse{}, err
	}
	if err := req.Validate(); err != nil {
		return payroll.RunResponse{}, err
	}
	if !actor.CanAccessClient(req.ClientID) {
		return payroll.RunResponse{}, fmt.Errorf("%w: client is outside the actor's scope", policy.ErrForbidden)
	}

	existing, err := s.runRepo.FindActiveByPeriod(ctx, req.ClientID, req.PeriodMonth, req.PeriodYear)
	if err == nil {
		return payroll.RunResponse{}, &payroll.DuplicateRunError{Existing: existing}
	}
	if !errors.Is(err, payroll.ErrRunNotFound) {
		return payroll.RunResponse{}, fmt.Errorf("failed to check existing payroll run: %w", err)
	}

	created, err := s.runRepo.Create(ctx, payroll.PayrollRun{
		ClientID:           req.ClientID,
		PeriodMonth:        req.PeriodMonth,
		PeriodYear:         req.PeriodYear,
		Status:             payroll.RunStatusDraft,
		AttendanceUploadID: req.AttendanceUploadID,
		Notes:              req.Notes,
		CreatedBy:          actor.UserRef(),
	})
	if err != nil {
		// A concurrent create won the race for the period.
		if errors.Is(err, payroll.ErrDuplicateRun) {
			existing, findErr := s.runRepo.FindActiveByPeriod(ctx, req.ClientID, req.PeriodMonth, req.PeriodYear)
			if findErr == nil {
				return payroll.RunResponse{}, &payroll.DuplicateRunError{Existing: existing}
			}
		}
		return payroll.RunResponse{}, err
	}

	slog.InfoContext(ctx, "payroll run created",
		"run_id", created.ID, "client_id", created.ClientID, "period", created.Period())
	return toRunResponse(created), nil
}

func (s *PayrollServiceImpl) Approve(ctx context.Context, actor auth.Actor, id string) (payroll.RunResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectPayrollRun, policy.ActionApprove); err != nil {
		return payroll.RunResponse{}, err
	}

	var updated payroll.PayrollRun
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.lockRun(ctx, actor, id)
		if err != nil {
			return err
		}
		if !run.Status.CanApprove() {
			return &payroll.StateError{RunID: run.ID, Status: run.Status, Operation: "approve"}
		}

		updated, err = s.runRepo.UpdateStatus(ctx, run.ID, payroll.StatusChange{
			Status:     payroll.RunStatusApproved,
			At:         s.now(),
			ApprovedBy: actor.UserRef(),
		})
		return err
	})
	if err != nil {
		return payroll.RunResponse{}, err
	}

	slog.InfoContext(ctx, "payroll run approved", "run_id", updated.ID, "approved_by", actor.UserID)
	return toRunResponse(updated), nil
}

// Export moves an approved run to exported and returns its rows.
func (s *PayrollServiceImpl) Export(ctx context.Context, actor auth.Actor, id string) (payroll.ExportPayload, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectPayrollRun, policy.ActionExport); err != nil {
		return payroll.ExportPayload{}, err
	}

	var (
		updated payroll.PayrollRun
		items   []payroll.PayrollItem
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.lockRun(ctx, actor, id)
		if err != nil {
			return err
		}
		if !run.Status.CanExport() {
			return &payroll.StateError{RunID: run.ID, Status: run.Status, Operation: "export"}
		}

		items, err = s.itemRepo.ListByRun(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to list payroll items: %w", err)
		}
		updated, err = s.runRepo.UpdateStatus(ctx, run.ID, payroll.StatusChange{
			Status: payroll.RunStatusExported,
			At:     s.now(),
		})
		return err
	})
	if err != nil {
		return payroll.ExportPayload{}, err
	}

	payload := payroll.ExportPayload{
		ExportID:    uuid.NewString(),
		Filename:    fmt.Sprintf("Payroll_%s_%s", updated.ClientID, updated.Period()),
		GeneratedAt: s.now(),
		Run:         toRunResponse(updated),
		Rows:        make([]payroll.ExportRow, 0, len(items)),
	}
	for _, it := range items {
		payload.Rows = append(payload.Rows, payroll.ExportRow{
			StaffCode:            it.StaffCode,
			StaffName:            it.StaffName,
			BankName:             it.BankName,
			AccountNumber:        it.AccountNumber,
			DaysPresent:          it.DaysPresent,
			DaysAbsent:           it.DaysAbsent,
			GrossPay:             it.GrossPay,
			TotalDeductions:      it.TotalDeductions,
			StatutoryTotal:       it.StatutoryTotal,
			NetPay:               it.NetPay,
			MonthlyReimbursables: it.MonthlyReimbursables,
			CreditToBank:         it.CreditToBank,
			Emoluments:           it.EmolumentsSnapshot,
		})
	}

	slog.InfoContext(ctx, "payroll run exported", "run_id", updated.ID, "rows", len(payload.Rows))
	return payload, nil
}

// Cancel purges the run's items and zeroes its totals in the same transaction
// as the status change.
func (s *PayrollServiceImpl) Cancel(ctx context.Context, actor auth.Actor, req payroll.CancelRunRequest) (payroll.RunResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectPayrollRun, policy.ActionCancel); err != nil {
		return payroll.RunResponse{}, err
	}

	var updated payroll.PayrollRun
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.lockRun(ctx, actor, req.ID)
		if err != nil {
			return err
		}
		if !run.Status.CanCancel() {
			return &payroll.StateError{RunID: run.ID, Status: run.Status, Operation: "cancel"}
		}

		if _, err := s.itemRepo.DeleteByRun(ctx, run.ID); err != nil {
			return fmt.Errorf("failed to purge payroll items: %w", err)
		}
		if _, err := s.runRepo.RecalculateTotals(ctx, run.ID); err != nil {
			return err
		}
		updated, err = s.runRepo.UpdateStatus(ctx, run.ID, payroll.StatusChange{
			Status: payroll.RunStatusCancelled,
			At:     s.now(),
			Notes:  req.Reason,
		})
		return err
	})
	if err != nil {
		return payroll.RunResponse{}, err
	}

	slog.InfoContext(ctx, "payroll run cancelled", "run_id", updated.ID)
	return toRunResponse(updated), nil
}

func (s *PayrollServiceImpl) Delete(ctx context.Context, actor auth.Actor, id string) error {
	if err := s.authz.Authorize(actor.Role, policy.ObjectPayrollRun, policy.ActionDelete); err != nil {
		return err
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.lockRun(ctx, actor, id)
		if err != nil {
			return err
		}
		if !run.Status.CanDelete() {
			return &payroll.StateError{RunID: run.ID, Status: run.Status, Operation: "delete"}
		}
		return s.runRepo.Delete(ctx, run.ID)
	})
}

// lockRun loads the run under a row lock and hides runs of other clients.
func (s *PayrollServiceImpl) lockRun(ctx context.Context, actor auth.Actor, id string) (payroll.PayrollRun, error) {
	run, err := s.runRepo.GetForUpdate(ctx, id)
	if err != nil {
		return payroll.PayrollRun{}, err
	}
	if !actor.CanAccessClient(run.ClientID) {
		return payroll.PayrollRun{}, payroll.ErrRunNotFound
	}
	return run, nil
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
