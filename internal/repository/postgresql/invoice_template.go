package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

const invoiceTemplateColumns = `id, client_id, pay_grade_structure_id, name, description,
	salary_components, allowance_components, deduction_components, statutory_components,
	calculation_rules, annual_division_factor, attendance_calculation_method,
	prorate_salary, minimum_attendance_factor, use_credit_to_bank_model, service_fee_percentage,
	is_active, is_default, created_by, updated_by, last_used_at, created_at, updated_at`

type invoiceTemplateRepository struct {
	db *database.DB
}

func NewInvoiceTemplateRepository(db *database.DB) template.InvoiceTemplateRepository {
	return &invoiceTemplateRepository{db: db}
}

func scanInvoiceTemplate(row pgx.Row) (template.InvoiceTemplate, error) {
	var (
		t    template.InvoiceTemplate
		f    formulaJSON
		meth string
	)
	err := row.Scan(
		&t.ID, &t.ClientID, &t.PayGradeStructureID, &t.Name, &t.Description,
		&f.salary, &f.allowance, &f.deduction, &f.statutory,
		&f.rules, &t.AnnualDivisionFactor, &meth,
		&t.ProrateSalary, &t.MinimumAttendanceFactor, &t.UseCreditToBankModel, &t.ServiceFeePercentage,
		&t.IsActive, &t.IsDefault, &t.CreatedBy, &t.UpdatedBy, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return template.InvoiceTemplate{}, err
	}
	t.AttendanceCalculationMethod = template.AttendanceMethod(meth)
	if err := f.decode(&t.SalaryComponents, &t.AllowanceComponents, &t.DeductionComponents, &t.StatutoryComponents, &t.CalculationRules); err != nil {
		return template.InvoiceTemplate{}, err
	}
	return t, nil
}

func (r *invoiceTemplateRepository) Create(ctx context.Context, t template.InvoiceTemplate) (template.InvoiceTemplate, error) {
	q := GetQuerier(ctx, r.db)

	f, err := encodeFormulas(t.SalaryComponents, t.AllowanceComponents, t.DeductionComponents, t.StatutoryComponents, t.CalculationRules)
	if err != nil {
		return template.InvoiceTemplate{}, err
	}

	query := `
		INSERT INTO invoice_templates (
			client_id, pay_grade_structure_id, name, description,
			salary_components, allowance_components, deduction_components, statutory_components,
			calculation_rules, annual_division_factor, attendance_calculation_method,
			prorate_salary, minimum_attendance_factor, use_credit_to_bank_model, service_fee_percentage,
			is_active, is_default, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING ` + invoiceTemplateColumns

	created, err := scanInvoiceTemplate(q.QueryRow(ctx, query,
		t.ClientID, t.PayGradeStructureID, t.Name, t.Description,
		f.salary, f.allowance, f.deduction, f.statutory,
		f.rules, t.AnnualDivisionFactor, string(t.AttendanceCalculationMethod),
		t.ProrateSalary, t.MinimumAttendanceFactor, t.UseCreditToBankModel, t.ServiceFeePercentage,
		t.IsActive, t.IsDefault, t.CreatedBy, t.UpdatedBy,
	))
	if err != nil {
		if isUniqueViolation(err, "uk_invoice_template_default") {
			return template.InvoiceTemplate{}, template.ErrDefaultConflict
		}
		return template.InvoiceTemplate{}, fmt.Errorf("failed to create invoice template: %w", err)
	}

	return created, nil
}

func (r *invoiceTemplateRepository) GetByID(ctx context.Context, id string) (template.InvoiceTemplate, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + invoiceTemplateColumns + ` FROM invoice_templates WHERE id = $1`

	t, err := scanInvoiceTemplate(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return template.InvoiceTemplate{}, template.ErrInvoiceTemplateNotFound
		}
		return template.InvoiceTemplate{}, fmt.Errorf("failed to get invoice template by id %s: %w", id, err)
	}

	return t, nil
}

func (r *invoiceTemplateRepository) Update(ctx context.Context, t template.InvoiceTemplate) (template.InvoiceTemplate, error) {
	q := GetQuerier(ctx, r.db)

	f, err := encodeFormulas(t.SalaryComponents, t.AllowanceComponents, t.DeductionComponents, t.StatutoryComponents, t.CalculationRules)
	if err != nil {
		return template.InvoiceTemplate{}, err
	}

	query := `
		UPDATE invoice_templates SET
			pay_grade_structure_id = $2, name = $3, description = $4,
			salary_components = $5, allowance_components = $6, deduction_components = $7, statutory_components = $8,
			calculation_rules = $9, annual_division_factor = $10, attendance_calculation_method = $11,
			prorate_salary = $12, minimum_attendance_factor = $13,
			use_credit_to_bank_model = $14, service_fee_percentage = $15,
			is_active = $16, is_default = $17, updated_by = $18, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + invoiceTemplateColumns

	updated, err := scanInvoiceTemplate(q.QueryRow(ctx, query,
		t.ID, t.PayGradeStructureID, t.Name, t.Description,
		f.salary, f.allowance, f.deduction, f.statutory,
		f.rules, t.AnnualDivisionFactor, string(t.AttendanceCalculationMethod),
		t.ProrateSalary, t.MinimumAttendanceFactor,
		t.UseCreditToBankModel, t.ServiceFeePercentage,
		t.IsActive, t.IsDefault, t.UpdatedBy,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return template.InvoiceTemplate{}, template.ErrInvoiceTemplateNotFound
		}
		if isUniqueViolation(err, "uk_invoice_template_default") {
			return template.InvoiceTemplate{}, template.ErrDefaultConflict
		}
		return template.InvoiceTemplate{}, fmt.Errorf("failed to update invoice template: %w", err)
	}

	return updated, nil
}

func (r *invoiceTemplateRepository) List(ctx context.Context, filter template.InvoiceTemplateFilter) ([]template.InvoiceTemplate, int64, error) {
	q := GetQuerier(ctx, r.db)

	where := sq.And{}
	if filter.ClientID != nil {
		where = append(where, sq.Eq{"client_id": *filter.ClientID})
	}
	if filter.PayGradeStructureID != nil {
		where = append(where, sq.Eq{"pay_grade_structure_id": *filter.PayGradeStructureID})
	}
	if filter.IsActive != nil {
		where = append(where, sq.Eq{"is_active": *filter.IsActive})
	}
	if filter.Search != nil && *filter.Search != "" {
		where = append(where, sq.ILike{"name": "%" + *filter.Search + "%"})
	}

	countQuery, countArgs, err := sq.Select("COUNT(*)").
		From("invoice_templates").
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int64
	if err := q.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count invoice templates: %w", err)
	}

	listQuery, args, err := sq.Select(invoiceTemplateColumns).
		From("invoice_templates").
		Where(where).
		OrderBy("client_id", "is_default DESC", "updated_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64((filter.Page - 1) * filter.Limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := q.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list invoice templates: %w", err)
	}
	defer rows.Close()

	var templates []template.InvoiceTemplate
	for rows.Next() {
		t, err := scanInvoiceTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan invoice template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate invoice templates: %w", err)
	}

	return templates, total, nil
}

func (r *invoiceTemplateRepository) FindDefault(ctx context.Context, clientID string, payGradeStructureID *string) (template.InvoiceTemplate, error) {
	q := GetQuerier(ctx, r.db)

	where := sq.And{
		sq.Eq{"client_id": clientID},
		sq.Eq{"is_default": true},
		sq.Eq{"is_active": true},
	}
	if payGradeStructureID == nil {
		where = append(where, sq.Eq{"pay_grade_structure_id": nil})
	} else {
		where = append(where, sq.Eq{"pay_grade_structure_id": *payGradeStructureID})
	}

	query, args, err := sq.Select(invoiceTemplateColumns).
		From("invoice_templates").
		Where(where).
		OrderBy("updated_at DESC").
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return template.InvoiceTemplate{}, fmt.Errorf("failed to build default invoice template query: %w", err)
	}

	t, err := scanInvoiceTemplate(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return template.InvoiceTemplate{}, template.ErrInvoiceTemplateNotFound
		}
		return template.InvoiceTemplate{}, fmt.Errorf("failed to find default invoice template: %w", err)
	}
	return t, nil
}

func (r *invoiceTemplateRepository) ClearDefaults(ctx context.Context, scope template.Scope, exceptID string) (int64, error) {
	q := GetQuerier(ctx, r.db)

	if scope.ClientID == nil {
		return 0, fmt.Errorf("invoice template scope requires a client")
	}
	where := sq.And{
		sq.Eq{"client_id": *scope.ClientID},
		sq.Eq{"is_default": true},
	}
	if scope.Key == "" {
		where = append(where, sq.Eq{"pay_grade_structure_id": nil})
	} else {
		where = append(where, sq.Eq{"pay_grade_structure_id": scope.Key})
	}
	if exceptID != "" {
		where = append(where, sq.NotEq{"id": exceptID})
	}

	query, args, err := sq.Update("invoice_templates").
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
		return 0, fmt.Errorf("failed to clear default invoice templates: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *invoiceTemplateRepository) LockScope(ctx context.Context, scope template.Scope) error {
	return lockScope(ctx, GetQuerier(ctx, r.db), scope.LockKey("invoice_template"))
}

func (r *invoiceTemplateRepository) Deactivate(ctx context.Context, id string, updatedBy *string) error {
	q := GetQuerier(ctx, r.db)

	query := `
		UPDATE invoice_templates
		SET is_active = FALSE, is_default = FALSE, updated_by = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, updatedBy)
	if err != nil {
		return fmt.Errorf("failed to deactivate invoice template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return template.ErrInvoiceTemplateNotFound
	}
	return nil
}

func (r *invoiceTemplateRepository) TouchLastUsed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := GetQuerier(ctx, r.db)

	if _, err := q.Exec(ctx, `UPDATE invoice_templates SET last_used_at = $1 WHERE id = ANY($2)`, at, ids); err != nil {
		return fmt.Errorf("failed to mark invoice templates used: %w", err)
	}
	return nil
}
