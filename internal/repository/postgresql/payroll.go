package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const runColumns = `id, client_id, period_month, period_year, status, attendance_upload_id,
	total_staff, total_gross, total_deductions, total_net, total_credit_to_bank,
	notes, created_by, approved_by, calculated_at, approved_at, exported_at, cancelled_at,
	created_at, updated_at`

type payrollRunRepository struct {
	db *database.DB
}

func NewPayrollRunRepository(db *database.DB) payroll.RunRepository {
	return &payrollRunRepository{db: db}
}

func scanRun(row pgx.Row) (payroll.PayrollRun, error) {
	var (
		r      payroll.PayrollRun
		status string
	)
	err := row.Scan(
		&r.ID, &r.ClientID, &r.PeriodMonth, &r.PeriodYear, &status, &r.AttendanceUploadID,
		&r.TotalStaff, &r.TotalGross, &r.TotalDeductions, &r.TotalNet, &r.TotalCreditToBank,
		&r.Notes, &r.CreatedBy, &r.ApprovedBy, &r.CalculatedAt, &r.ApprovedAt, &r.ExportedAt, &r.CancelledAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return payroll.PayrollRun{}, err
	}
	r.Status = payroll.RunStatus(status)
	return r, nil
}

func (r *payrollRunRepository) Create(ctx context.Context, run payroll.PayrollRun) (payroll.PayrollRun, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		INSERT INTO payroll_runs (client_id, period_month, period_year, status, attendance_upload_id, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + runColumns

	created, err := scanRun(q.QueryRow(ctx, query,
		run.ClientID, run.PeriodMonth, run.PeriodYear, string(run.Status), run.AttendanceUploadID, run.Notes, run.CreatedBy,
	))
	if err != nil {
		if isUniqueViolation(err, "uk_payroll_run_period") {
			return payroll.PayrollRun{}, payroll.ErrDuplicateRun
		}
		return payroll.PayrollRun{}, fmt.Errorf("failed to create payroll run: %w", err)
	}

	return created, nil
}

func (r *payrollRunRepository) GetByID(ctx context.Context, id string) (payroll.PayrollRun, error) {
	return r.get(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1`, id)
}

// GetForUpdate locks the run row until the surrounding transaction ends.
func (r *payrollRunRepository) GetForUpdate(ctx context.Context, id string) (payroll.PayrollRun, error) {
	return r.get(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1 FOR UPDATE`, id)
}

func (r *payrollRunRepository) get(ctx context.Context, query, id string) (payroll.PayrollRun, error) {
	q := GetQuerier(ctx, r.db)

	run, err := scanRun(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.PayrollRun{}, payroll.ErrRunNotFound
		}
		return payroll.PayrollRun{}, fmt.Errorf("failed to get payroll run by id %s: %w", id, err)
	}
	return run, nil
}

func (r *payrollRunRepository) FindActiveByPeriod(ctx context.Context, clientID string, month, year int) (payroll.PayrollRun, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT ` + runColumns + `
		FROM payroll_runs
		WHERE client_id = $1 AND period_month = $2 AND period_year = $3 AND status <> 'cancelled'
		LIMIT 1
	`

	run, err := scanRun(q.QueryRow(ctx, query, clientID, month, year))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.PayrollRun{}, payroll.ErrRunNotFound
		}
		return payroll.PayrollRun{}, fmt.Errorf("failed to find payroll run for period: %w", err)
	}
	return run, nil
}

func (r *payrollRunRepository) List(ctx context.Context, filter payroll.RunFilter) ([]payroll.PayrollRun, int64, error) {
	q := GetQuerier(ctx, r.db)

	where := sq.And{}
	if filter.ClientID != nil {
		where = append(where, sq.Eq{"client_id": *filter.ClientID})
	}
	if filter.Status != nil {
		where = append(where, sq.Eq{"status": *filter.Status})
	}
	if filter.Month != nil {
		where = append(where, sq.Eq{"period_month": *filter.Month})
	}
	if filter.Year != nil {
		where = append(where, sq.Eq{"period_year": *filter.Year})
	}

	countQuery, countArgs, err := sq.Select("COUNT(*)").
		From("payroll_runs").
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int64
	if err := q.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payroll runs: %w", err)
	}

	listQuery, args, err := sq.Select(runColumns).
		From("payroll_runs").
		Where(where).
		OrderBy("period_year DESC", "period_month DESC", "created_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64((filter.Page - 1) * filter.Limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := q.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payroll runs: %w", err)
	}
	defer rows.Close()

	var runs []payroll.PayrollRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payroll run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate payroll runs: %w", err)
	}

	return runs, total, nil
}

// UpdateStatus sets the status and stamps the timestamp column that belongs to it.
func (r *payrollRunRepository) UpdateStatus(ctx context.Context, id string, change payroll.StatusChange) (payroll.PayrollRun, error) {
	q := GetQuerier(ctx, r.db)

	update := sq.Update("payroll_runs").
		Set("status", string(change.Status)).
		Set("updated_at", change.At)

	switch change.Status {
	case payroll.RunStatusCalculated:
		update = update.Set("calculated_at", change.At)
	case payroll.RunStatusApproved:
		update = update.Set("approved_at", change.At).Set("approved_by", change.ApprovedBy)
	case payroll.RunStatusExported:
		update = update.Set("exported_at", change.At)
	case payroll.RunStatusCancelled:
		update = update.Set("cancelled_at", change.At)
	}
	if change.Notes != nil {
		update = update.Set("notes", *change.Notes)
	}

	query, args, err := update.
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + runColumns).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return payroll.PayrollRun{}, fmt.Errorf("failed to build status update: %w", err)
	}

	run, err := scanRun(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.PayrollRun{}, payroll.ErrRunNotFound
		}
		return payroll.PayrollRun{}, fmt.Errorf("failed to update payroll run status: %w", err)
	}
	return run, nil
}

// RecalculateTotals recomputes the run totals from its items in one statement.
func (r *payrollRunRepository) RecalculateTotals(ctx context.Context, id string) (payroll.Totals, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		WITH agg AS (
			SELECT COUNT(*)::int                                          AS staff,
				   COALESCE(SUM(gross_pay), 0)                            AS gross,
				   COALESCE(SUM(total_deductions + statutory_total), 0)   AS deductions,
				   COALESCE(SUM(net_pay), 0)                              AS net,
				   COALESCE(SUM(credit_to_bank), 0)                       AS credit
			FROM payroll_items
			WHERE payroll_run_id = $1
		)
		UPDATE payroll_runs SET
			total_staff = agg.staff,
			total_gross = agg.gross,
			total_deductions = agg.deductions,
			total_net = agg.net,
			total_credit_to_bank = agg.credit,
			updated_at = NOW()
		FROM agg
		WHERE payroll_runs.id = $1
		RETURNING agg.staff, agg.gross, agg.deductions, agg.net, agg.credit
	`

	var t payroll.Totals
	err := q.QueryRow(ctx, query, id).Scan(&t.Staff, &t.Gross, &t.Deductions, &t.Net, &t.CreditToBank)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Totals{}, payroll.ErrRunNotFound
		}
		return payroll.Totals{}, fmt.Errorf("failed to recalculate payroll run totals: %w", err)
	}
	return t, nil
}

func (r *payrollRunRepository) Delete(ctx context.Context, id string) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `DELETE FROM payroll_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payroll run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrRunNotFound
	}
	return nil
}

// ========== ITEMS ==========

const itemColumns = `id, payroll_run_id, staff_id, staff_name, staff_code, bank_name, account_number,
	pay_grade_structure_id, template_id, days_present, days_absent, total_days, attendance_factor,
	gross_pay, unprorated_gross, total_deductions, statutory_total, net_pay,
	monthly_reimbursables, credit_to_bank, service_fee,
	allowances_detail, deductions_detail, statutory_detail, emoluments_snapshot, created_at`

type payrollItemRepository struct {
	db *database.DB
}

func NewPayrollItemRepository(db *database.DB) payroll.ItemRepository {
	return &payrollItemRepository{db: db}
}

// CreateBatch inserts all items in one round trip.
func (r *payrollItemRepository) CreateBatch(ctx context.Context, items []payroll.PayrollItem) error {
	if len(items) == 0 {
		return nil
	}
	q := GetQuerier(ctx, r.db)

	query := `
		INSERT INTO payroll_items (
			id, payroll_run_id, staff_id, staff_name, staff_code, bank_name, account_number,
			pay_grade_structure_id, template_id, days_present, days_absent, total_days, attendance_factor,
			gross_pay, unprorated_gross, total_deductions, statutory_total, net_pay,
			monthly_reimbursables, credit_to_bank, service_fee,
			allowances_detail, deductions_detail, statutory_detail, emoluments_snapshot
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`

	batch := &pgx.Batch{}
	for _, it := range items {
		details, err := encodeDetails(it)
		if err != nil {
			return err
		}
		batch.Queue(query,
			it.ID, it.PayrollRunID, it.StaffID, it.StaffName, it.StaffCode, it.BankName, it.AccountNumber,
			it.PayGradeStructureID, it.TemplateID, it.DaysPresent, it.DaysAbsent, it.TotalDays, it.AttendanceFactor,
			it.GrossPay, it.UnproratedGross, it.TotalDeductions, it.StatutoryTotal, it.NetPay,
			it.MonthlyReimbursables, it.CreditToBank, it.ServiceFee,
			details[0], details[1], details[2], details[3],
		)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	for _, it := range items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert payroll item for staff %s: %w", it.StaffID, err)
		}
	}
	return nil
}

func encodeDetails(it payroll.PayrollItem) ([4][]byte, error) {
	var out [4][]byte
	for i, m := range []map[string]decimal.Decimal{it.AllowancesDetail, it.DeductionsDetail, it.StatutoryDetail, it.EmolumentsSnapshot} {
		b, err := marshalJSONB(m)
		if err != nil {
			return out, err
		}
		out[i] = b
	}
	return out, nil
}

func (r *payrollItemRepository) ListByRun(ctx context.Context, runID string) ([]payroll.PayrollItem, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + itemColumns + ` FROM payroll_items WHERE payroll_run_id = $1 ORDER BY staff_name, staff_code`

	rows, err := q.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payroll items: %w", err)
	}
	defer rows.Close()

	var items []payroll.PayrollItem
	for rows.Next() {
		var (
			it                                     payroll.PayrollItem
			allowances, deductions, statutory, emo []byte
		)
		if err := rows.Scan(
			&it.ID, &it.PayrollRunID, &it.StaffID, &it.StaffName, &it.StaffCode, &it.BankName, &it.AccountNumber,
			&it.PayGradeStructureID, &it.TemplateID, &it.DaysPresent, &it.DaysAbsent, &it.TotalDays, &it.AttendanceFactor,
			&it.GrossPay, &it.UnproratedGross, &it.TotalDeductions, &it.StatutoryTotal, &it.NetPay,
			&it.MonthlyReimbursables, &it.CreditToBank, &it.ServiceFee,
			&allowances, &deductions, &statutory, &emo, &it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payroll item: %w", err)
		}

		for _, d := range []struct {
			raw []byte
			dst *map[string]decimal.Decimal
		}{
			{allowances, &it.AllowancesDetail},
			{deductions, &it.DeductionsDetail},
			{statutory, &it.StatutoryDetail},
			{emo, &it.EmolumentsSnapshot},
		} {
			if err := json.Unmarshal(d.raw, d.dst); err != nil {
				return nil, fmt.Errorf("failed to decode payroll item detail: %w", err)
			}
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payroll items: %w", err)
	}

	return items, nil
}

func (r *payrollItemRepository) DeleteByRun(ctx context.Context, runID string) (int64, error) {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `DELETE FROM payroll_items WHERE payroll_run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payroll items: %w", err)
	}
	return tag.RowsAffected(), nil
}
