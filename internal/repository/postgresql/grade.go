package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/master/grade"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

const payGradeColumns = `id, client_id, grade_code, name, emoluments, annual_gross, is_active, created_at, updated_at`

type payGradeRepository struct {
	db *database.DB
}

func NewPayGradeRepository(db *database.DB) grade.PayGradeRepository {
	return &payGradeRepository{db: db}
}

func scanPayGrade(row pgx.Row) (grade.PayGradeStructure, error) {
	var (
		g   grade.PayGradeStructure
		raw []byte
	)
	if err := row.Scan(&g.ID, &g.ClientID, &g.GradeCode, &g.Name, &raw, &g.AnnualGross, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return grade.PayGradeStructure{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &g.Emoluments); err != nil {
			return grade.PayGradeStructure{}, fmt.Errorf("failed to decode emoluments of pay grade %s: %w", g.ID, err)
		}
	}
	return g, nil
}

func (r *payGradeRepository) GetByID(ctx context.Context, id string) (grade.PayGradeStructure, error) {
	q := GetQuerier(ctx, r.db)

	g, err := scanPayGrade(q.QueryRow(ctx, `SELECT `+payGradeColumns+` FROM pay_grade_structures WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return grade.PayGradeStructure{}, grade.ErrPayGradeNotFound
		}
		return grade.PayGradeStructure{}, fmt.Errorf("failed to get pay grade structure by id %s: %w", id, err)
	}
	return g, nil
}

// GetByIDs returns the pay grades that exist among ids, keyed by id.
func (r *payGradeRepository) GetByIDs(ctx context.Context, ids []string) (map[string]grade.PayGradeStructure, error) {
	out := make(map[string]grade.PayGradeStructure, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `SELECT `+payGradeColumns+` FROM pay_grade_structures WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get pay grade structures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		g, err := scanPayGrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pay grade structure: %w", err)
		}
		out[g.ID] = g
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pay grade structures: %w", err)
	}
	return out, nil
}
