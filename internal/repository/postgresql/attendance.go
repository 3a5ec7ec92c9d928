package postgresql

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
)

type attendanceRepository struct {
	db *database.DB
}

func NewAttendanceRepository(db *database.DB) attendance.AttendanceRepository {
	return &attendanceRepository{db: db}
}

// ListReady returns the client's records flagged ready for calculation. An
// upload id takes precedence over the period but never widens the client scope.
func (r *attendanceRepository) ListReady(ctx context.Context, aq attendance.AttendanceQuery) ([]attendance.AttendanceRecord, error) {
	q := GetQuerier(ctx, r.db)

	where := sq.And{
		sq.Eq{"ready_for_calculation": true},
		sq.Eq{"client_id": aq.ClientID},
	}
	if aq.UploadID != nil {
		where = append(where, sq.Eq{"attendance_upload_id": *aq.UploadID})
	} else {
		where = append(where,
			sq.Eq{"period_month": aq.Month},
			sq.Eq{"period_year": aq.Year},
		)
	}

	query, args, err := sq.Select(
		"id", "attendance_upload_id", "staff_id", "client_id", "period_month", "period_year",
		"days_present", "days_absent", "ready_for_calculation", "pay_grade_structure_id",
		"created_at", "updated_at",
	).
		From("attendance_records").
		Where(where).
		OrderBy("staff_id", "created_at", "id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build attendance query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance records: %w", err)
	}
	defer rows.Close()

	var records []attendance.AttendanceRecord
	for rows.Next() {
		var a attendance.AttendanceRecord
		if err := rows.Scan(
			&a.ID, &a.AttendanceUploadID, &a.StaffID, &a.ClientID, &a.PeriodMonth, &a.PeriodYear,
			&a.DaysPresent, &a.DaysAbsent, &a.ReadyForCalculation, &a.PayGradeStructureID,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attendance record: %w", err)
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance records: %w", err)
	}

	return records, nil
}
