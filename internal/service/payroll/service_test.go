package payroll

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/master/grade"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/staff"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/formula"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"
	"github.com/cmlabs-hris/payroll-engine/internal/service/calculation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClient = "6f1c2b8e-3d4a-4e5f-9a0b-1c2d3e4f5a6b"
	testUser   = "0b1c2d3e-4f5a-4b6c-8d7e-9f0a1b2c3d4e"
	pgsGL07    = "pgs-gl07"
	pgsGL99    = "pgs-gl99"
)

var (
	manager = auth.Actor{UserID: testUser, Role: policy.RolePayrollManager}
	officer = auth.Actor{UserID: testUser, Role: policy.RolePayrollOfficer}
)

type harness struct {
	svc        payroll.PayrollRunService
	store      *fakeStore
	attendance *fakeAttendance
	staff      fakeStaff
	templates  *fakeTemplates
}

func standardTemplate() template.CalculationTemplate {
	return template.CalculationTemplate{
		ID:           "tpl-gl07",
		PayGradeCode: "GL07",
		SalaryComponents: template.ComponentMap{
			"basic": {Formula: "base_salary * 0.7"},
		},
		AllowanceComponents: template.ComponentMap{
			"housing": {Formula: "base_salary * 0.3"},
		},
		DeductionComponents: template.ComponentMap{
			"loan": {Formula: "1000"},
		},
		StatutoryComponents: template.ComponentMap{
			"pension": {Formula: "gross * 0.08"},
		},
		CalculationRules:            template.CalculationRules{},
		AnnualDivisionFactor:        12,
		AttendanceCalculationMethod: template.AttendanceWorkingDays,
		ProrateSalary:               true,
		MinimumAttendanceFactor:     decimal.NewFromFloat(0.5),
		IsActive:                    true,
		IsDefault:                   true,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	enforcer, err := policy.NewEnforcer()
	require.NoError(t, err)
	ev, err := formula.NewEvaluator(0)
	require.NoError(t, err)

	h := &harness{
		store:      newFakeStore(),
		attendance: &fakeAttendance{},
		staff:      fakeStaff{},
		templates: &fakeTemplates{
			byGrade: map[string]template.CalculationTemplate{"GL07": standardTemplate()},
			billing: map[string]template.InvoiceTemplate{},
		},
	}
	grades := fakeGrades{
		pgsGL07: {ID: pgsGL07, ClientID: testClient, GradeCode: "GL07", AnnualGross: decimal.NewFromInt(1200000)},
		pgsGL99: {ID: pgsGL99, ClientID: testClient, GradeCode: "GL99", AnnualGross: decimal.NewFromInt(2400000)},
	}

	h.svc = NewPayrollService(
		fakeTx{}, h.store, h.store, h.attendance, h.staff, grades,
		h.templates, h.templates, h.templates, h.templates,
		calculation.NewEngine(ev), enforcer, Options{Workers: 3},
	)
	return h
}

// addStaff registers a staff member with a ready attendance record for March 2024.
func (h *harness) addStaff(i int, pgsID string, daysPresent int64) {
	id := fmt.Sprintf("staff-%02d", i)
	h.staff[id] = staff.Staff{ID: id, ClientID: testClient, StaffCode: fmt.Sprintf("S%03d", i), FirstName: "Staff", LastName: fmt.Sprint(i)}
	pgs := pgsID
	h.attendance.records = append(h.attendance.records, attendance.AttendanceRecord{
		ID:                  "att-" + id,
		StaffID:             id,
		ClientID:            testClient,
		PeriodMonth:         3,
		PeriodYear:          2024,
		DaysPresent:         decimal.NewFromInt(daysPresent),
		DaysAbsent:          decimal.NewFromInt(21 - daysPresent),
		ReadyForCalculation: true,
		PayGradeStructureID: &pgs,
	})
}

func (h *harness) createRun(t *testing.T) payroll.RunResponse {
	t.Helper()
	run, err := h.svc.Create(context.Background(), officer, payroll.CreateRunRequest{ClientID: testClient, PeriodMonth: 3, PeriodYear: 2024})
	require.NoError(t, err)
	return run
}

func assertTotalsMatchItems(t *testing.T, h *harness, runID string) {
	t.Helper()
	detail, err := h.svc.Get(context.Background(), manager, runID)
	require.NoError(t, err)

	gross, deductions, net, credit := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, it := range detail.Items {
		gross = gross.Add(it.GrossPay)
		deductions = deductions.Add(it.TotalDeductions).Add(it.StatutoryTotal)
		net = net.Add(it.NetPay)
		credit = credit.Add(it.CreditToBank)
	}
	assert.Equal(t, len(detail.Items), detail.TotalStaff)
	assert.True(t, gross.Equal(detail.TotalGross), "gross %s != %s", gross, detail.TotalGross)
	assert.True(t, deductions.Equal(detail.TotalDeductions), "deductions %s != %s", deductions, detail.TotalDeductions)
	assert.True(t, net.Equal(detail.TotalNet), "net %s != %s", net, detail.TotalNet)
	assert.True(t, credit.Equal(detail.TotalCreditToBank), "credit %s != %s", credit, detail.TotalCreditToBank)
}

func TestPayrollService_Calculate_PartialSuccess(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 8; i++ {
		h.addStaff(i, pgsGL07, int64(13+i))
	}
	h.addStaff(9, pgsGL99, 21)
	h.addStaff(10, pgsGL99, 21)
	run := h.createRun(t)

	// Act
	got, err := h.svc.Calculate(context.Background(), officer, run.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 8, got.CalculatedCount)
	require.Len(t, got.Errors, 2)
	for _, e := range got.Errors {
		assert.Contains(t, []string{"staff-09", "staff-10"}, e.StaffID)
		assert.Contains(t, e.Reason, "GL99")
	}
	assert.Equal(t, string(payroll.RunStatusCalculated), got.Run.Status)
	assert.Equal(t, 8, got.Run.TotalStaff)
	assert.NotNil(t, got.Run.CalculatedAt)
	assert.Equal(t, []string{"tpl-gl07"}, h.templates.touched)

	assertTotalsMatchItems(t, h, run.ID)
}

func TestPayrollService_Calculate_NetIdentityOnItems(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 5; i++ {
		h.addStaff(i, pgsGL07, int64(i*4))
	}
	run := h.createRun(t)

	_, err := h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)

	detail, err := h.svc.Get(context.Background(), manager, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 5)
	for _, it := range detail.Items {
		assert.True(t, it.NetPay.Equal(it.GrossPay.Sub(it.TotalDeductions).Sub(it.StatutoryTotal)), it.StaffID)
		assert.Equal(t, "tpl-gl07", it.TemplateID)
		assert.NotEmpty(t, it.StaffName)
		assert.Contains(t, it.EmolumentsSnapshot, "basic")
	}
}

func TestPayrollService_Calculate_AllFailedStaysDraft(t *testing.T) {
	h := newHarness(t)
	tpl := standardTemplate()
	tpl.DeductionComponents = template.ComponentMap{"garnish": {Formula: "gross * 2"}}
	h.templates.byGrade["GL07"] = tpl
	for i := 1; i <= 3; i++ {
		h.addStaff(i, pgsGL07, 21)
	}
	run := h.createRun(t)

	// Act
	_, err := h.svc.Calculate(context.Background(), officer, run.ID)

	// Assert
	var allFailed *payroll.AllCalculationsFailedError
	require.True(t, errors.As(err, &allFailed))
	assert.Len(t, allFailed.Errors, 3)
	assert.Contains(t, allFailed.Errors[0].Reason, "Net pay is negative")

	detail, err := h.svc.Get(context.Background(), manager, run.ID)
	require.NoError(t, err)
	assert.Equal(t, string(payroll.RunStatusDraft), detail.Status)
	assert.Empty(t, detail.Items)
	assert.Equal(t, 0, h.store.batches)
}

func TestPayrollService_Calculate_FormulaErrorNamesComponent(t *testing.T) {
	h := newHarness(t)
	tpl := standardTemplate()
	tpl.AllowanceComponents["bonus"] = template.Component{Formula: "bonus_pool / 3"}
	h.templates.byGrade["GL07"] = tpl
	h.addStaff(1, pgsGL07, 21)
	run := h.createRun(t)

	_, err := h.svc.Calculate(context.Background(), officer, run.ID)

	var allFailed *payroll.AllCalculationsFailedError
	require.True(t, errors.As(err, &allFailed))
	require.Len(t, allFailed.Errors, 1)
	assert.Equal(t, "bonus", allFailed.Errors[0].Component)
	assert.Equal(t, "staff-01", allFailed.Errors[0].StaffID)
}

func TestPayrollService_Calculate_NoEligibleRecords(t *testing.T) {
	h := newHarness(t)
	run := h.createRun(t)

	_, err := h.svc.Calculate(context.Background(), officer, run.ID)

	assert.ErrorIs(t, err, payroll.ErrNoEligibleRecords)
}

func TestPayrollService_Calculate_ScopedToUpload(t *testing.T) {
	h := newHarness(t)
	h.addStaff(1, pgsGL07, 21)
	h.addStaff(2, pgsGL07, 21)
	upload := "3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e6f"
	h.attendance.records[1].AttendanceUploadID = &upload

	run, err := h.svc.Create(context.Background(), officer, payroll.CreateRunRequest{
		ClientID: testClient, PeriodMonth: 3, PeriodYear: 2024, AttendanceUploadID: &upload,
	})
	require.NoError(t, err)

	got, err := h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CalculatedCount)
}

func TestPayrollService_Calculate_DuplicateAttendanceKeepsLatest(t *testing.T) {
	h := newHarness(t)
	h.addStaff(1, pgsGL07, 10)
	h.addStaff(2, pgsGL07, 21)
	uploaded := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	h.attendance.records[0].CreatedAt = uploaded
	h.attendance.records[1].CreatedAt = uploaded
	pgs := pgsGL07
	h.attendance.records = append(h.attendance.records, attendance.AttendanceRecord{
		ID:                  "att-staff-01-reupload",
		StaffID:             "staff-01",
		ClientID:            testClient,
		PeriodMonth:         3,
		PeriodYear:          2024,
		DaysPresent:         decimal.NewFromInt(21),
		ReadyForCalculation: true,
		PayGradeStructureID: &pgs,
		CreatedAt:           uploaded.Add(time.Hour),
	})
	run := h.createRun(t)

	// Act
	got, err := h.svc.Calculate(context.Background(), officer, run.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, got.CalculatedCount)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "staff-01", got.Errors[0].StaffID)
	assert.Contains(t, got.Errors[0].Reason, "att-staff-01 ")
	assert.Contains(t, got.Errors[0].Reason, "att-staff-01-reupload")

	detail, err := h.svc.Get(context.Background(), manager, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 2)
	for _, it := range detail.Items {
		assert.True(t, it.DaysPresent.Equal(decimal.NewFromInt(21)), it.StaffID)
	}
	assertTotalsMatchItems(t, h, run.ID)
}

func TestPayrollService_Calculate_UploadScopeStaysInClient(t *testing.T) {
	h := newHarness(t)
	h.addStaff(1, pgsGL07, 21)
	h.addStaff(2, pgsGL07, 21)
	upload := "3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e6f"
	h.attendance.records[0].AttendanceUploadID = &upload
	h.attendance.records[1].AttendanceUploadID = &upload
	h.attendance.records[1].ClientID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"

	run, err := h.svc.Create(context.Background(), officer, payroll.CreateRunRequest{
		ClientID: testClient, PeriodMonth: 3, PeriodYear: 2024, AttendanceUploadID: &upload,
	})
	require.NoError(t, err)

	got, err := h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CalculatedCount)
	assert.Empty(t, got.Errors)

	detail, err := h.svc.Get(context.Background(), manager, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, "staff-01", detail.Items[0].StaffID)
}

func TestPayrollService_Calculate_RejectsSecondCalculate(t *testing.T) {
	h := newHarness(t)
	h.addStaff(1, pgsGL07, 21)
	run := h.createRun(t)

	_, err := h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)

	_, err = h.svc.Calculate(context.Background(), officer, run.ID)
	assert.ErrorIs(t, err, payroll.ErrInvalidState)
}

func TestPayrollService_Calculate_RacingCalculateLosesUnderLock(t *testing.T) {
	h := newHarness(t)
	h.addStaff(1, pgsGL07, 21)
	run := h.createRun(t)

	// Another caller commits between the first status check and the row lock.
	h.store.beforeLock = func(s *fakeStore, id string) {
		s.mu.Lock()
		r := s.runs[id]
		r.Status = payroll.RunStatusCalculated
		s.runs[id] = r
		s.mu.Unlock()
	}

	_, err := h.svc.Calculate(context.Background(), officer, run.ID)

	var stateErr *payroll.StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, payroll.RunStatusCalculated, stateErr.Status)
	assert.Equal(t, 0, h.store.batches)
}

func TestPayrollService_Create_DuplicateReturnsExisting(t *testing.T) {
	h := newHarness(t)
	first := h.createRun(t)

	_, err := h.svc.Create(context.Background(), officer, payroll.CreateRunRequest{ClientID: testClient, PeriodMonth: 3, PeriodYear: 2024})

	var dup *payroll.DuplicateRunError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.Existing.ID)
	assert.ErrorIs(t, err, payroll.ErrDuplicateRun)
}

func TestPayrollService_Create_AllowedAfterCancel(t *testing.T) {
	h := newHarness(t)
	first := h.createRun(t)
	_, err := h.svc.Cancel(context.Background(), manager, payroll.CancelRunRequest{ID: first.ID})
	require.NoError(t, err)

	second := h.createRun(t)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestPayrollService_Approve_Guard(t *testing.T) {
	h := newHarness(t)
	h.addStaff(1, pgsGL07, 21)
	run := h.createRun(t)

	_, err := h.svc.Approve(context.Background(), manager, run.ID)
	assert.ErrorIs(t, err, payroll.ErrInvalidState)

	_, err = h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)

	_, err = h.svc.Approve(context.Background(), officer, run.ID)
	assert.ErrorIs(t, err, policy.ErrForbidden)

	approved, err := h.svc.Approve(context.Background(), manager, run.ID)
	require.NoError(t, err)
	assert.Equal(t, string(payroll.RunStatusApproved), approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, testUser, *approved.ApprovedBy)

	_, err = h.svc.Approve(context.Background(), manager, run.ID)
	assert.ErrorIs(t, err, payroll.ErrInvalidState)
}

func TestPayrollService_Export(t *testing.T) {
	h := newHarness(t)
	h.addStaff(1, pgsGL07, 21)
	h.addStaff(2, pgsGL07, 21)
	run := h.createRun(t)
	_, err := h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)

	_, err = h.svc.Export(context.Background(), manager, run.ID)
	assert.ErrorIs(t, err, payroll.ErrInvalidState, "calculated runs are not exportable")

	_, err = h.svc.Approve(context.Background(), manager, run.ID)
	require.NoError(t, err)

	payload, err := h.svc.Export(context.Background(), manager, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Payroll_"+testClient+"_2024_03", payload.Filename)
	assert.Len(t, payload.Rows, 2)
	assert.Equal(t, string(payroll.RunStatusExported), payload.Run.Status)
	assert.NotEmpty(t, payload.ExportID)

	_, err = h.svc.Cancel(context.Background(), manager, payroll.CancelRunRequest{ID: run.ID})
	assert.ErrorIs(t, err, payroll.ErrInvalidState)
	err = h.svc.Delete(context.Background(), manager, run.ID)
	assert.ErrorIs(t, err, payroll.ErrInvalidState)
}

func TestPayrollService_Cancel_PurgesItemsAndZeroesTotals(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 4; i++ {
		h.addStaff(i, pgsGL07, 21)
	}
	run := h.createRun(t)
	calc, err := h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)
	require.True(t, calc.Run.TotalGross.IsPositive())

	reason := "attendance re-upload"
	cancelled, err := h.svc.Cancel(context.Background(), manager, payroll.CancelRunRequest{ID: run.ID, Reason: &reason})

	require.NoError(t, err)
	assert.Equal(t, string(payroll.RunStatusCancelled), cancelled.Status)
	assert.Equal(t, 0, cancelled.TotalStaff)
	assert.True(t, cancelled.TotalGross.IsZero())
	assert.True(t, cancelled.TotalNet.IsZero())
	assert.Equal(t, reason, *cancelled.Notes)
	assertTotalsMatchItems(t, h, run.ID)
}

func TestPayrollService_Delete(t *testing.T) {
	h := newHarness(t)
	h.addStaff(1, pgsGL07, 21)
	run := h.createRun(t)
	_, err := h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(context.Background(), manager, run.ID))

	_, err = h.svc.Get(context.Background(), manager, run.ID)
	assert.ErrorIs(t, err, payroll.ErrRunNotFound)
}

func TestPayrollService_Calculate_BillingOverlay(t *testing.T) {
	h := newHarness(t)
	h.templates.billing[pgsGL07] = template.InvoiceTemplate{ID: "inv-gl07", UseCreditToBankModel: true, ServiceFeePercentage: decimal.NewFromInt(10)}
	h.addStaff(1, pgsGL07, 21)
	run := h.createRun(t)

	_, err := h.svc.Calculate(context.Background(), officer, run.ID)
	require.NoError(t, err)

	detail, err := h.svc.Get(context.Background(), manager, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.True(t, detail.Items[0].ServiceFee.Equal(decimal.NewFromInt(10000)), detail.Items[0].ServiceFee.String())
	assert.ElementsMatch(t, []string{"tpl-gl07", "inv-gl07"}, h.templates.touched)
}

func TestPayrollService_Get_HidesOtherClients(t *testing.T) {
	h := newHarness(t)
	run := h.createRun(t)
	other := "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b"
	outsider := auth.Actor{UserID: testUser, Role: policy.RoleViewer, ClientID: &other}

	_, err := h.svc.Get(context.Background(), outsider, run.ID)
	assert.ErrorIs(t, err, payroll.ErrRunNotFound)

	list, err := h.svc.List(context.Background(), outsider, payroll.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, list.Data)
}

func TestPayrollService_List(t *testing.T) {
	h := newHarness(t)
	h.createRun(t)
	status := "draft"

	got, err := h.svc.List(context.Background(), manager, payroll.RunFilter{Status: &status})

	require.NoError(t, err)
	assert.Len(t, got.Data, 1)
	assert.Equal(t, int64(1), got.TotalCount)

	bad := "paid"
	_, err = h.svc.List(context.Background(), manager, payroll.RunFilter{Status: &bad})
	assert.Error(t, err)
}

var _ grade.PayGradeRepository = fakeGrades{}
