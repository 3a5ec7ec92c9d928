package grade

import "context"

type PayGradeRepository interface {
	GetByID(ctx context.Context, id string) (PayGradeStructure, error)
	// GetByIDs returns the structures found, keyed by id.
	GetByIDs(ctx context.Context, ids []string) (map[string]PayGradeStructure, error)
}
