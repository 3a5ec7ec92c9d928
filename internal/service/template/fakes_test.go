package template

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/google/uuid"
)

type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func sameClient(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type fakeTemplateRepo struct {
	mu        sync.Mutex
	templates map[string]template.CalculationTemplate
	order     []string
	locked    []string
	touched   []string
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{templates: map[string]template.CalculationTemplate{}}
}

func (r *fakeTemplateRepo) Create(ctx context.Context, t template.CalculationTemplate) (template.CalculationTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	r.templates[t.ID] = t
	r.order = append(r.order, t.ID)
	return t, nil
}

func (r *fakeTemplateRepo) GetByID(ctx context.Context, id string) (template.CalculationTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return template.CalculationTemplate{}, template.ErrTemplateNotFound
	}
	return t, nil
}

func (r *fakeTemplateRepo) Update(ctx context.Context, t template.CalculationTemplate) (template.CalculationTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.ID]; !ok {
		return template.CalculationTemplate{}, template.ErrTemplateNotFound
	}
	t.UpdatedAt = time.Now()
	r.templates[t.ID] = t
	return t, nil
}

func (r *fakeTemplateRepo) List(ctx context.Context, filter template.TemplateFilter) ([]template.CalculationTemplate, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []template.CalculationTemplate
	for _, id := range r.order {
		t := r.templates[id]
		if filter.ClientID != nil && !sameClient(filter.ClientID, t.ClientID) {
			continue
		}
		if filter.PayGradeCode != nil && *filter.PayGradeCode != t.PayGradeCode {
			continue
		}
		if filter.IsActive != nil && *filter.IsActive != t.IsActive {
			continue
		}
		if filter.Search != nil && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(*filter.Search)) {
			continue
		}
		out = append(out, t)
	}
	total := int64(len(out))
	start := (filter.Page - 1) * filter.Limit
	if start > len(out) {
		start = len(out)
	}
	end := start + filter.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *fakeTemplateRepo) ListActive(ctx context.Context) ([]template.CalculationTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []template.CalculationTemplate
	for _, id := range r.order {
		if t := r.templates[id]; t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTemplateRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.templates)), nil
}

func (r *fakeTemplateRepo) FindDefault(ctx context.Context, clientID *string, payGradeCode string) (template.CalculationTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		t := r.templates[id]
		if t.IsActive && t.IsDefault && t.PayGradeCode == payGradeCode && sameClient(t.ClientID, clientID) {
			return t, nil
		}
	}
	return template.CalculationTemplate{}, template.ErrTemplateNotFound
}

func (r *fakeTemplateRepo) ClearDefaults(ctx context.Context, scope template.Scope, exceptID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.templates {
		if id == exceptID || !t.IsActive || !t.IsDefault {
			continue
		}
		if t.PayGradeCode == scope.Key && sameClient(t.ClientID, scope.ClientID) {
			t.IsDefault = false
			r.templates[id] = t
			n++
		}
	}
	return n, nil
}

func (r *fakeTemplateRepo) LockScope(ctx context.Context, scope template.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = append(r.locked, scope.LockKey(lockKindTemplate))
	return nil
}

func (r *fakeTemplateRepo) Deactivate(ctx context.Context, id string, updatedBy *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return template.ErrTemplateNotFound
	}
	t.IsActive = false
	t.IsDefault = false
	t.UpdatedBy = updatedBy
	r.templates[id] = t
	return nil
}

func (r *fakeTemplateRepo) TouchLastUsed(ctx context.Context, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if t, ok := r.templates[id]; ok {
			t.LastUsedAt = &at
			r.templates[id] = t
			r.touched = append(r.touched, id)
		}
	}
	return nil
}

// defaultsIn returns the ids of active defaults in the scope.
func (r *fakeTemplateRepo) defaultsIn(clientID *string, grade string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, t := range r.templates {
		if t.IsActive && t.IsDefault && t.PayGradeCode == grade && sameClient(t.ClientID, clientID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

type fakeInvoiceRepo struct {
	mu        sync.Mutex
	templates map[string]template.InvoiceTemplate
	order     []string
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{templates: map[string]template.InvoiceTemplate{}}
}

func (r *fakeInvoiceRepo) Create(ctx context.Context, t template.InvoiceTemplate) (template.InvoiceTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.NewString()
	r.templates[t.ID] = t
	r.order = append(r.order, t.ID)
	return t, nil
}

func (r *fakeInvoiceRepo) GetByID(ctx context.Context, id string) (template.InvoiceTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return template.InvoiceTemplate{}, template.ErrInvoiceTemplateNotFound
	}
	return t, nil
}

func (r *fakeInvoiceRepo) Update(ctx context.Context, t template.InvoiceTemplate) (template.InvoiceTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return t, nil
}

func (r *fakeInvoiceRepo) List(ctx context.Context, filter template.InvoiceTemplateFilter) ([]template.InvoiceTemplate, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []template.InvoiceTemplate
	for _, id := range r.order {
		t := r.templates[id]
		if filter.ClientID != nil && *filter.ClientID != t.ClientID {
			continue
		}
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (r *fakeInvoiceRepo) FindDefault(ctx context.Context, clientID string, payGradeStructureID *string) (template.InvoiceTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		t := r.templates[id]
		if t.IsActive && t.IsDefault && t.ClientID == clientID && sameClient(t.PayGradeStructureID, payGradeStructureID) {
			return t, nil
		}
	}
	return template.InvoiceTemplate{}, template.ErrInvoiceTemplateNotFound
}

func (r *fakeInvoiceRepo) ClearDefaults(ctx context.Context, scope template.Scope, exceptID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.templates {
		if id == exceptID || !t.IsActive || !t.IsDefault {
			continue
		}
		if t.Scope().Key == scope.Key && sameClient(&t.ClientID, scope.ClientID) {
			t.IsDefault = false
			r.templates[id] = t
			n++
		}
	}
	return n, nil
}

func (r *fakeInvoiceRepo) LockScope(ctx context.Context, scope template.Scope) error { return nil }

func (r *fakeInvoiceRepo) Deactivate(ctx context.Context, id string, updatedBy *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return template.ErrInvoiceTemplateNotFound
	}
	t.IsActive = false
	t.IsDefault = false
	r.templates[id] = t
	return nil
}

func (r *fakeInvoiceRepo) TouchLastUsed(ctx context.Context, ids []string, at time.Time) error {
	return nil
}
