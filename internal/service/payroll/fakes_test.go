package payroll

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/master/grade"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/staff"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/google/uuid"
)

type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeStore implements both payroll.RunRepository and payroll.ItemRepository.
type fakeStore struct {
	mu    sync.Mutex
	runs  map[string]payroll.PayrollRun
	items map[string][]payroll.PayrollItem

	// beforeLock runs inside GetForUpdate, before the run is read.
	beforeLock func(s *fakeStore, id string)
	batches    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:  map[string]payroll.PayrollRun{},
		items: map[string][]payroll.PayrollItem{},
	}
}

func (s *fakeStore) Create(ctx context.Context, run payroll.PayrollRun) (payroll.PayrollRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ClientID == run.ClientID && r.PeriodMonth == run.PeriodMonth && r.PeriodYear == run.PeriodYear && r.Status != payroll.RunStatusCancelled {
			return payroll.PayrollRun{}, payroll.ErrDuplicateRun
		}
	}
	run.ID = uuid.NewString()
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	s.runs[run.ID] = run
	return run, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (payroll.PayrollRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return payroll.PayrollRun{}, payroll.ErrRunNotFound
	}
	return r, nil
}

func (s *fakeStore) GetForUpdate(ctx context.Context, id string) (payroll.PayrollRun, error) {
	if s.beforeLock != nil {
		s.beforeLock(s, id)
	}
	return s.GetByID(ctx, id)
}

func (s *fakeStore) FindActiveByPeriod(ctx context.Context, clientID string, month, year int) (payroll.PayrollRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ClientID == clientID && r.PeriodMonth == month && r.PeriodYear == year && r.Status != payroll.RunStatusCancelled {
			return r, nil
		}
	}
	return payroll.PayrollRun{}, payroll.ErrRunNotFound
}

func (s *fakeStore) List(ctx context.Context, filter payroll.RunFilter) ([]payroll.PayrollRun, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payroll.PayrollRun
	for _, r := range s.runs {
		if filter.ClientID != nil && r.ClientID != *filter.ClientID {
			continue
		}
		if filter.Status != nil && string(r.Status) != *filter.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, change payroll.StatusChange) (payroll.PayrollRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return payroll.PayrollRun{}, payroll.ErrRunNotFound
	}
	r.Status = change.Status
	at := change.At
	switch change.Status {
	case payroll.RunStatusCalculated:
		r.CalculatedAt = &at
	case payroll.RunStatusApproved:
		r.ApprovedAt = &at
		r.ApprovedBy = change.ApprovedBy
	case payroll.RunStatusExported:
		r.ExportedAt = &at
	case payroll.RunStatusCancelled:
		r.CancelledAt = &at
	}
	if change.Notes != nil {
		r.Notes = change.Notes
	}
	r.UpdatedAt = at
	s.runs[id] = r
	return r, nil
}

func (s *fakeStore) RecalculateTotals(ctx context.Context, id string) (payroll.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return payroll.Totals{}, payroll.ErrRunNotFound
	}
	t := payroll.TotalsFromItems(s.items[id])
	r.ApplyTotals(t)
	s.runs[id] = r
	return t, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
	delete(s.items, id)
	return nil
}

func (s *fakeStore) CreateBatch(ctx context.Context, items []payroll.PayrollItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if len(items) == 0 {
		return nil
	}
	// Mirrors the (payroll_run_id, staff_id) unique constraint.
	seen := map[string]bool{}
	for _, it := range append(append([]payroll.PayrollItem(nil), s.items[items[0].PayrollRunID]...), items...) {
		if seen[it.StaffID] {
			return fmt.Errorf("duplicate payroll item for staff %s", it.StaffID)
		}
		seen[it.StaffID] = true
	}
	for _, it := range items {
		s.items[it.PayrollRunID] = append(s.items[it.PayrollRunID], it)
	}
	return nil
}

func (s *fakeStore) ListByRun(ctx context.Context, runID string) ([]payroll.PayrollItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payroll.PayrollItem(nil), s.items[runID]...), nil
}

func (s *fakeStore) DeleteByRun(ctx context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.items[runID]))
	delete(s.items, runID)
	return n, nil
}

type fakeAttendance struct {
	records []attendance.AttendanceRecord
}

func (f *fakeAttendance) ListReady(ctx context.Context, q attendance.AttendanceQuery) ([]attendance.AttendanceRecord, error) {
	var out []attendance.AttendanceRecord
	for _, r := range f.records {
		if !r.ReadyForCalculation {
			continue
		}
		if r.ClientID != q.ClientID {
			continue
		}
		if q.UploadID != nil {
			if r.AttendanceUploadID == nil || *r.AttendanceUploadID != *q.UploadID {
				continue
			}
		} else if r.PeriodMonth != q.Month || r.PeriodYear != q.Year {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeStaff map[string]staff.Staff

func (f fakeStaff) GetByID(ctx context.Context, id string) (staff.Staff, error) {
	s, ok := f[id]
	if !ok {
		return staff.Staff{}, staff.ErrStaffNotFound
	}
	return s, nil
}

func (f fakeStaff) GetByIDs(ctx context.Context, ids []string) (map[string]staff.Staff, error) {
	out := map[string]staff.Staff{}
	for _, id := range ids {
		if s, ok := f[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

type fakeGrades map[string]grade.PayGradeStructure

func (f fakeGrades) GetByID(ctx context.Context, id string) (grade.PayGradeStructure, error) {
	g, ok := f[id]
	if !ok {
		return grade.PayGradeStructure{}, grade.ErrPayGradeNotFound
	}
	return g, nil
}

func (f fakeGrades) GetByIDs(ctx context.Context, ids []string) (map[string]grade.PayGradeStructure, error) {
	out := map[string]grade.PayGradeStructure{}
	for _, id := range ids {
		if g, ok := f[id]; ok {
			out[id] = g
		}
	}
	return out, nil
}

// fakeTemplates resolves by grade code only.
type fakeTemplates struct {
	byGrade map[string]template.CalculationTemplate
	billing map[string]template.InvoiceTemplate // by pay grade structure id

	mu      sync.Mutex
	touched []string
}

func (f *fakeTemplates) Resolve(ctx context.Context, clientID string, payGradeCode string) (template.CalculationTemplate, error) {
	t, ok := f.byGrade[payGradeCode]
	if !ok {
		return template.CalculationTemplate{}, fmt.Errorf("%w for pay grade '%s'", template.ErrTemplateNotFound, payGradeCode)
	}
	return t, nil
}

func (f *fakeTemplates) ResolveBilling(ctx context.Context, clientID string, payGradeStructureID *string) (template.InvoiceTemplate, bool, error) {
	if payGradeStructureID == nil {
		return template.InvoiceTemplate{}, false, nil
	}
	inv, ok := f.billing[*payGradeStructureID]
	return inv, ok, nil
}

func (f *fakeTemplates) TouchLastUsed(ctx context.Context, ids []string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, ids...)
	return nil
}
