package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/master/grade"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/staff"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"
	"github.com/cmlabs-hris/payroll-engine/internal/service/calculation"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// batch holds the reference data loaded for one calculation.
type batch struct {
	run       payroll.PayrollRun
	staff     map[string]staff.Staff
	grades    map[string]grade.PayGradeStructure
	templates map[string]template.CalculationTemplate // by grade code
	missing   map[string]error                        // grade code -> resolve error
	billing   map[string]*template.InvoiceTemplate    // by pay grade structure id
}

type outcome struct {
	item *payroll.PayrollItem
	err  *payroll.CalculationError
}

// Calculate is the batch orchestrator: it settles every ready attendance
// record of the run, skips the staff that fail, and commits the rest together
// with the status change.
func (s *PayrollServiceImpl) Calculate(ctx context.Context, actor auth.Actor, id string) (payroll.CalculateRunResponse, error) {
	if err := s.authz.Authorize(actor.Role, policy.ObjectPayrollRun, policy.ActionCalculate); err != nil {
		return payroll.CalculateRunResponse{}, err
	}

	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return payroll.CalculateRunResponse{}, err
	}
	if !actor.CanAccessClient(run.ClientID) {
		return payroll.CalculateRunResponse{}, payroll.ErrRunNotFound
	}
	if !run.Status.CanCalculate() {
		return payroll.CalculateRunResponse{}, &payroll.StateError{RunID: run.ID, Status: run.Status, Operation: "calculate"}
	}

	records, err := s.attendanceRepo.ListReady(ctx, attendance.AttendanceQuery{
		UploadID: run.AttendanceUploadID,
		ClientID: run.ClientID,
		Month:    run.PeriodMonth,
		Year:     run.PeriodYear,
	})
	if err != nil {
		return payroll.CalculateRunResponse{}, fmt.Errorf("failed to load attendance records: %w", err)
	}
	if len(records) == 0 {
		return payroll.CalculateRunResponse{}, payroll.ErrNoEligibleRecords
	}
	records, superseded := latestPerStaff(records)

	b, err := s.loadBatch(ctx, run, records)
	if err != nil {
		return payroll.CalculateRunResponse{}, err
	}

	outcomes := make([]outcome, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.settle(b, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return payroll.CalculateRunResponse{}, err
	}

	var (
		items  []payroll.PayrollItem
		errs   = []payroll.CalculationError{}
		usedBy = map[string]struct{}{}
		billed = map[string]struct{}{}
	)
	for _, dup := range superseded {
		errs = append(errs, payroll.CalculationError{
			StaffID:   dup.record.StaffID,
			StaffName: b.staff[dup.record.StaffID].FullName(),
			Reason:    fmt.Sprintf("duplicate attendance record %s superseded by %s", dup.record.ID, dup.by),
		})
	}
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, *o.err)
			slog.WarnContext(ctx, "staff skipped in payroll calculation",
				"run_id", run.ID, "staff_id", o.err.StaffID, "component", o.err.Component, "reason", o.err.Reason)
			continue
		}
		items = append(items, *o.item)
		usedBy[o.item.TemplateID] = struct{}{}
		if o.item.PayGradeStructureID != nil {
			if inv := b.billing[*o.item.PayGradeStructureID]; inv != nil {
				billed[inv.ID] = struct{}{}
			}
		}
	}

	if len(items) == 0 {
		slog.WarnContext(ctx, "payroll calculation failed for every staff member",
			"run_id", run.ID, "records", len(records))
		return payroll.CalculateRunResponse{}, &payroll.AllCalculationsFailedError{RunID: run.ID, Errors: errs}
	}

	templateIDs := sortedKeys(usedBy)
	invoiceIDs := sortedKeys(billed)

	var updated payroll.PayrollRun
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.runRepo.GetForUpdate(ctx, run.ID)
		if err != nil {
			return err
		}
		// A concurrent calculate may have committed since the first check.
		if !locked.Status.CanCalculate() {
			return &payroll.StateError{RunID: locked.ID, Status: locked.Status, Operation: "calculate"}
		}

		if err := s.itemRepo.CreateBatch(ctx, items); err != nil {
			return fmt.Errorf("failed to save payroll items: %w", err)
		}
		if _, err := s.runRepo.RecalculateTotals(ctx, run.ID); err != nil {
			return err
		}

		now := s.now()
		updated, err = s.runRepo.UpdateStatus(ctx, run.ID, payroll.StatusChange{
			Status: payroll.RunStatusCalculated,
			At:     now,
		})
		if err != nil {
			return err
		}
		if err := s.usage.TouchLastUsed(ctx, templateIDs, now); err != nil {
			return err
		}
		return s.billingUsage.TouchLastUsed(ctx, invoiceIDs, now)
	})
	if err != nil {
		return payroll.CalculateRunResponse{}, err
	}

	slog.InfoContext(ctx, "payroll run calculated",
		"run_id", updated.ID,
		"client_id", updated.ClientID,
		"period", updated.Period(),
		"calculated", len(items),
		"failed", len(errs),
		"total_net", updated.TotalNet.String(),
	)

	return payroll.CalculateRunResponse{
		Run:             toRunResponse(updated),
		CalculatedCount: len(items),
		Errors:          errs,
	}, nil
}

// loadBatch fetches staff, pay grades and templates for the records so that
// the per-staff work needs no I/O. Templates are resolved once per grade code.
func (s *PayrollServiceImpl) loadBatch(ctx context.Context, run payroll.PayrollRun, records []attendance.AttendanceRecord) (*batch, error) {
	staffIDs := make([]string, 0, len(records))
	var gradeIDs []string
	seenGrade := map[string]bool{}
	for _, rec := range records {
		staffIDs = append(staffIDs, rec.StaffID)
		if rec.PayGradeStructureID != nil && !seenGrade[*rec.PayGradeStructureID] {
			seenGrade[*rec.PayGradeStructureID] = true
			gradeIDs = append(gradeIDs, *rec.PayGradeStructureID)
		}
	}

	staffByID, err := s.staffRepo.GetByIDs(ctx, staffIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	grades := map[string]grade.PayGradeStructure{}
	if len(gradeIDs) > 0 {
		grades, err = s.gradeRepo.GetByIDs(ctx, gradeIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load pay grade structures: %w", err)
		}
	}

	b := &batch{
		run:       run,
		staff:     staffByID,
		grades:    grades,
		templates: map[string]template.CalculationTemplate{},
		missing:   map[string]error{},
		billing:   map[string]*template.InvoiceTemplate{},
	}

	for _, pgsID := range gradeIDs {
		pg, ok := grades[pgsID]
		if !ok {
			continue
		}

		if _, done := b.templates[pg.GradeCode]; !done {
			if _, failed := b.missing[pg.GradeCode]; !failed {
				t, err := s.templates.Resolve(ctx, run.ClientID, pg.GradeCode)
				switch {
				case err == nil:
					b.templates[pg.GradeCode] = t
				case errors.Is(err, template.ErrTemplateNotFound):
					b.missing[pg.GradeCode] = err
				default:
					return nil, fmt.Errorf("failed to resolve template for grade %s: %w", pg.GradeCode, err)
				}
			}
		}

		id := pgsID
		inv, ok, err := s.billing.ResolveBilling(ctx, run.ClientID, &id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve invoice template: %w", err)
		}
		if ok {
			b.billing[pgsID] = &inv
		}
	}

	return b, nil
}

// settle calculates one record. It only reads b and is safe to call concurrently.
func (s *PayrollServiceImpl) settle(b *batch, rec attendance.AttendanceRecord) outcome {
	fail := func(name, component, reason string) outcome {
		return outcome{err: &payroll.CalculationError{
			StaffID:   rec.StaffID,
			StaffName: name,
			Component: component,
			Reason:    reason,
		}}
	}

	st, ok := b.staff[rec.StaffID]
	if !ok {
		return fail("", "", "staff record not found")
	}
	name := st.FullName()

	if rec.PayGradeStructureID == nil {
		return fail(name, "", "attendance record has no pay grade structure")
	}
	pg, ok := b.grades[*rec.PayGradeStructureID]
	if !ok {
		return fail(name, "", fmt.Sprintf("pay grade structure %s not found", *rec.PayGradeStructureID))
	}

	tpl, ok := b.templates[pg.GradeCode]
	if !ok {
		reason := fmt.Sprintf("no default calculation template for pay grade '%s'", pg.GradeCode)
		if err, found := b.missing[pg.GradeCode]; found {
			reason = err.Error()
		}
		return fail(name, "", reason)
	}

	rs := tpl.Ruleset()
	if inv := b.billing[pg.ID]; inv != nil {
		rs = rs.WithBilling(*inv)
	}

	line, err := s.engine.Calculate(calculation.Input{
		Staff:      st,
		PayGrade:   pg,
		Attendance: rec,
		Ruleset:    rs,
		Month:      b.run.PeriodMonth,
		Year:       b.run.PeriodYear,
	})
	if err != nil {
		var fe *calculation.FormulaEvaluationError
		if errors.As(err, &fe) {
			return fail(name, fe.Component, fe.Error())
		}
		return fail(name, "", err.Error())
	}

	if res := calculation.Validate(line); !res.Valid {
		return fail(name, "", strings.Join(res.Errors, "; "))
	}

	item := toPayrollItem(b.run.ID, st, pg, line)
	return outcome{item: &item}
}

type supersededRecord struct {
	record attendance.AttendanceRecord
	by     string
}

// latestPerStaff keeps one record per staff member, the most recently
// created one, in first-seen order. Ties go to the later record.
func latestPerStaff(records []attendance.AttendanceRecord) ([]attendance.AttendanceRecord, []supersededRecord) {
	index := make(map[string]int, len(records))
	kept := make([]attendance.AttendanceRecord, 0, len(records))
	var dropped []attendance.AttendanceRecord

	for _, rec := range records {
		i, seen := index[rec.StaffID]
		if !seen {
			index[rec.StaffID] = len(kept)
			kept = append(kept, rec)
			continue
		}
		if rec.CreatedAt.Before(kept[i].CreatedAt) {
			dropped = append(dropped, rec)
			continue
		}
		dropped = append(dropped, kept[i])
		kept[i] = rec
	}

	superseded := make([]supersededRecord, 0, len(dropped))
	for _, rec := range dropped {
		superseded = append(superseded, supersededRecord{record: rec, by: kept[index[rec.StaffID]].ID})
	}
	return kept, superseded
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toPayrollItem(runID string, st staff.Staff, pg grade.PayGradeStructure, line calculation.Line) payroll.PayrollItem {
	pgsID := pg.ID
	return payroll.PayrollItem{
		ID:                   uuid.NewString(),
		PayrollRunID:         runID,
		StaffID:              st.ID,
		StaffName:            st.FullName(),
		StaffCode:            st.StaffCode,
		BankName:             st.BankName,
		AccountNumber:        st.AccountNumber,
		PayGradeStructureID:  &pgsID,
		TemplateID:           line.TemplateID,
		DaysPresent:          line.DaysPresent,
		DaysAbsent:           line.DaysAbsent,
		TotalDays:            line.TotalDays,
		AttendanceFactor:     line.AttendanceFactor,
		GrossPay:             line.GrossPay,
		UnproratedGross:      line.UnproratedGross,
		TotalDeductions:      line.TotalDeductions,
		StatutoryTotal:       line.StatutoryTotal,
		NetPay:               line.NetPay,
		MonthlyReimbursables: line.MonthlyReimbursables,
		CreditToBank:         line.CreditToBank,
		ServiceFee:           line.ServiceFee,
		AllowancesDetail:     line.Earnings(),
		DeductionsDetail:     line.Deductions,
		StatutoryDetail:      line.Statutory,
		EmolumentsSnapshot:   line.Snapshot,
	}
}
