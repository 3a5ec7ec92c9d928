package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

const templateColumns = `id, client_id, pay_grade_code, name, description,
	salary_components, allowance_components, deduction_components, statutory_components,
	calculation_rules, annual_division_factor, attendance_calculation_method,
	prorate_salary, minimum_attendance_factor, is_active, is_default,
	created_by, updated_by, last_used_at, created_at, updated_at`

type templateRepository struct {
	db *database.DB
}

func NewTemplateRepository(db *database.DB) template.TemplateRepository {
	return &templateRepository{db: db}
}

// formulaJSON is the JSONB encoding of the component sections and rules.
type formulaJSON struct {
	salary, allowance, deduction, statutory, rules []byte
}

func encodeFormulas(salary, allowance, deduction, statutory template.ComponentMap, rules template.CalculationRules) (formulaJSON, error) {
	var (
		out formulaJSON
		err error
	)
	if out.salary, err = marshalJSONB(salary); err != nil {
		return out, err
	}
	if out.allowance, err = marshalJSONB(allowance); err != nil {
		return out, err
	}
	if out.deduction, err = marshalJSONB(deduction); err != nil {
		return out, err
	}
	if out.statutory, err = marshalJSONB(statutory); err != nil {
		return out, err
	}
	if out.rules, err = marshalJSONB(rules); err != nil {
		return out, err
	}
	return out, nil
}

func (f formulaJSON) decode(salary, allowance, deduction, statutory *template.ComponentMap, rules *template.CalculationRules) error {
	targets := []struct {
		raw []byte
		dst any
	}{
		{f.salary, salary},
		{f.allowance, allowance},
		{f.deduction, deduction},
		{f.statutory, statutory},
		{f.rules, rules},
	}
	for _, t := range targets {
		if len(t.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(t.raw, t.dst); err != nil {
			return fmt.Errorf("failed to decode template formulas: %w", err)
		}
	}
	return nil
}

// marshalJSONB encodes nil maps as an empty object.
func marshalJSONB[M ~map[K]V, K comparable, V any](m M) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template formulas: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func scanTemplate(row pgx.Row) (template.CalculationTemplate, error) {
	var (
		t    template.CalculationTemplate
		f    formulaJSON
		meth string
	)
	err := row.Scan(
		&t.ID, &t.ClientID, &t.PayGradeCode, &t.Name, &t.Description,
		&f.salary, &f.allowance, &f.deduction, &f.statutory,
		&f.rules, &t.AnnualDivisionFactor, &meth,
		&t.ProrateSalary, &t.MinimumAttendanceFactor, &t.IsActive, &t.IsDefault,
		&t.CreatedBy, &t.UpdatedBy, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return template.CalculationTemplate{}, err
	}
	t.AttendanceCalculationMethod = template.AttendanceMethod(meth)
	if err := f.decode(&t.SalaryComponents, &t.AllowanceComponents, &t.DeductionComponents, &t.StatutoryComponents, &t.CalculationRules); err != nil {
		return template.CalculationTemplate{}, err
	}
	return t, nil
}

func (r *templateRepository) Create(ctx context.Context, t template.CalculationTemplate) (template.CalculationTemplate, error) {
	q := GetQuerier(ctx, r.db)

	f, err := encodeFormulas(t.SalaryComponents, t.AllowanceComponents, t.DeductionComponents, t.StatutoryComponents, t.CalculationRules)
	if err != nil {
		return template.CalculationTemplate{}, err
	}

	query := `
		INSERT INTO calculation_templates (
			client_id, pay_grade_code, name, description,
			salary_components, allowance_components, deduction_components, statutory_components,
			calculation_rules, annual_division_factor, attendance_calculation_method,
			prorate_salary, minimum_attendance_factor, is_active, is_default, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING ` + templateColumns

	created, err := scanTemplate(q.QueryRow(ctx, query,
		t.ClientID, t.PayGradeCode, t.Name, t.Description,
		f.salary, f.allowance, f.deduction, f.statutory,
		f.rules, t.AnnualDivisionFactor, string(t.AttendanceCalculationMethod),
		t.ProrateSalary, t.MinimumAttendanceFactor, t.IsActive, t.IsDefault, t.CreatedBy, t.UpdatedBy,
	))
	if err != nil {
		if isUniqueViolation(err, "uk_calculation_template_default") {
			return template.CalculationTemplate{}, template.ErrDefaultConflict
		}
		return template.CalculationTemplate{}, fmt.Errorf("failed to create calculation template: %w", err)
	}

	return created, nil
}

func (r *templateRepository) GetByID(ctx context.Context, id string) (template.CalculationTemplate, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + templateColumns + ` FROM calculation_templates WHERE id = $1`

	t, err := scanTemplate(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return template.CalculationTemplate{}, template.ErrTemplateNotFound
		}
		return template.CalculationTemplate{}, fmt.Errorf("failed to get calculation template by id %s: %w", id, err)
	}

	return t, nil
}

func (r *templateRepository) Update(ctx context.Context, t template.CalculationTemplate) (template.CalculationTemplate, error) {
	q := GetQuerier(ctx, r.db)

	f, err := encodeFormulas(t.SalaryComponents, t.AllowanceComponents, t.DeductionComponents, t.StatutoryComponents, t.CalculationRules)
	if err != nil {
		return template.CalculationTemplate{}, err
	}

	query := `
		UPDATE calculation_templates SET
			client_id = $2, pay_grade_code = $3, name = $4, description = $5,
			salary_components = $6, allowance_components = $7, deduction_components = $8, statutory_components = $9,
			calculation_rules = $10, annual_division_factor = $11, attendance_calculation_method = $12,
			prorate_salary = $13, minimum_attendance_factor = $14, is_active = $15, is_default = $16,
			updated_by = $17, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + templateColumns

	updated, err := scanTemplate(q.QueryRow(ctx, query,
		t.ID, t.ClientID, t.PayGradeCode, t.Name, t.Description,
		f.salary, f.allowance, f.deduction, f.statutory,
		f.rules, t.AnnualDivisionFactor, string(t.AttendanceCalculationMethod),
		t.ProrateSalary, t.MinimumAttendanceFactor, t.IsActive, t.IsDefault,
		t.UpdatedBy,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return template.CalculationTemplate{}, template.ErrTemplateNotFound
		}
		if isUniqueViolation(err, "uk_calculation_template_default") {
			return template.CalculationTemplate{}, template.ErrDefaultConflict
		}
		return template.CalculationTemplate{}, fmt.Errorf("failed to update calculation template: %w", err)
	}

	return updated, nil
}

func (r *templateRepository) List(ctx context.Context, filter template.TemplateFilter) ([]template.CalculationTemplate, int64, error) {
	q := GetQuerier(ctx, r.db)

	where := sq.And{}
	if filter.ClientID != nil {
		where = append(where, sq.Eq{"client_id": *filter.ClientID})
	}
	if filter.PayGradeCode != nil {
		where = append(where, sq.Eq{"pay_grade_code": *filter.PayGradeCode})
	}
	if filter.IsActive != nil {
		where = append(where, sq.Eq{"is_active": *filter.IsActive})
	}
	if filter.Search != nil && *filter.Search != "" {
		pattern := "%" + *filter.Search + "%"
		where = append(where, sq.Or{sq.ILike{"name": pattern}, sq.ILike{"pay_grade_code": pattern}})
	}

	countQuery, countArgs, err := sq.Select("COUNT(*)").
		From("calculation_templates").
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int64
	if err := q.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count calculation templates: %w", err)
	}

	listQuery, args, err := sq.Select(templateColumns).
		From("calculation_templates").
		Where(where).
		OrderBy("pay_grade_code ASC", "is_default DESC", "updated_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64((filter.Page - 1) * filter.Limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	templates, err := r.query(ctx, q, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return templates, total, nil
}

func (r *templateRepository) ListActive(ctx context.Context) ([]template.CalculationTemplate, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + templateColumns + ` FROM calculation_templates WHERE is_active = TRUE ORDER BY pay_grade_code, created_at`
	return r.query(ctx, q, query)
}

func (r *templateRepository) query(ctx context.Context, q database.Querier, query string, args ...any) ([]template.CalculationTemplate, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calculation templates: %w", err)
	}
	defer rows.Close()

	var templates []template.CalculationTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calculation template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calculation templates: %w", err)
	}
	return templates, nil
}

func (r *templateRepository) Count(ctx context.Context) (int64, error) {
	q := GetQuerier(ctx, r.db)

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM calculation_templates`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count calculation templates: %w", err)
	}
	return total, nil
}

func (r *templateRepository) FindDefault(ctx context.Context, clientID *string, payGradeCode string) (template.CalculationTemplate, error) {
	q := GetQuerier(ctx, r.db)

	where := sq.And{
		sq.Eq{"pay_grade_code": payGradeCode},
		sq.Eq{"is_default": true},
		sq.Eq{"is_active": true},
	}
	if clientID == nil {
		where = append(where, sq.Eq{"client_id": nil})
	} else {
		where = append(where, sq.Eq{"client_id": *clientID})
	}

	query, args, err := sq.Select(templateColumns).
		From("calculation_templates").
		Where(where).
		OrderBy("updated_at DESC").
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return template.CalculationTemplate{}, fmt.Errorf("failed to build default template query: %w", err)
	}

	t, err := scanTemplate(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return template.CalculationTemplate{}, template.ErrTemplateNotFound
		}
		return template.CalculationTemplate{}, fmt.Errorf("failed to find default calculation template: %w", err)
	}
	return t, nil
}

func (r *templateRepository) ClearDefaults(ctx context.Context, scope template.Scope, exceptID string) (int64, error) {
	q := GetQuerier(ctx, r.db)

	where := sq.And{
		sq.Eq{"pay_grade_code": scope.Key},
		sq.Eq{"is_default": true},
	}
	if scope.ClientID == nil {
		where = append(where, sq.Eq{"client_id": nil})
	} else {
		where = append(where, sq.Eq{"client_id": *scope.ClientID})
	}
	if exceptID != "" {
		where = append(where, sq.NotEq{"id": exceptID})
	}

	query, args, err := sq.Update("calculation_templates").
		Set("is_default", false).
		Set("updated_at", sq.Expr("NOW()")).
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build clear defaults query: %w", err)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear default calculation templates: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *templateRepository) LockScope(ctx context.Context, scope template.Scope) error {
	return lockScope(ctx, GetQuerier(ctx, r.db), scope.LockKey("calculation_template"))
}

// lockScope takes a transaction-scoped advisory lock on key.
func lockScope(ctx context.Context, q database.Querier, key string) error {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock template scope: %w", err)
	}
	return nil
}

func (r *templateRepository) Deactivate(ctx context.Context, id string, updatedBy *string) error {
	q := GetQuerier(ctx, r.db)

	query := `
		UPDATE calculation_templates
		SET is_active = FALSE, is_default = FALSE, updated_by = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, updatedBy)
	if err != nil {
		return fmt.Errorf("failed to deactivate calculation template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return template.ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepository) TouchLastUsed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := GetQuerier(ctx, r.db)

	if _, err := q.Exec(ctx, `UPDATE calculation_templates SET last_used_at = $1 WHERE id = ANY($2)`, at, ids); err != nil {
		return fmt.Errorf("failed to mark calculation templates used: %w", err)
	}
	return nil
}
