package auth

import "github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"

// Actor is the authenticated caller of a mutating operation. It is passed
// explicitly into services and recorded in created_by/approved_by fields.
type Actor struct {
	UserID   string
	Role     policy.Role
	ClientID *string
}

// SystemActor is used for start-up seeding.
var SystemActor = Actor{Role: policy.RoleOwner}

// UserRef returns the user id for audit columns, nil for the system actor.
func (a Actor) UserRef() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// CanAccessClient reports whether the actor may see data of clientID. Actors
// without a client binding are staff of the payroll provider and see all clients.
func (a Actor) CanAccessClient(clientID string) bool {
	return a.ClientID == nil || *a.ClientID == clientID
}
