package staff

import (
	"strings"
	"time"
)

// Staff - a member of a client's workforce, as supplied by the staff directory
type Staff struct {
	ID            string
	ClientID      string
	StaffCode     string
	FirstName     string
	LastName      string
	BankName      *string
	AccountNumber *string
	PFACode       *string
	HireDate      *time.Time
	Status        string
}

func (s Staff) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// TenureMonths counts whole months from the hire date to at. Staff without a
// hire date, or hired after at, have zero tenure.
func (s Staff) TenureMonths(at time.Time) int {
	if s.HireDate == nil || s.HireDate.After(at) {
		return 0
	}
	h := *s.HireDate
	months := (at.Year()-h.Year())*12 + int(at.Month()) - int(h.Month())
	if at.Day() < h.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
