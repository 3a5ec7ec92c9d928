package staff

import "context"

// StaffRepository is the read side of the staff directory.
type StaffRepository interface {
	GetByID(ctx context.Context, id string) (Staff, error)
	// GetByIDs returns the staff found, keyed by id. Missing ids are omitted.
	GetByIDs(ctx context.Context, ids []string) (map[string]Staff, error)
}
