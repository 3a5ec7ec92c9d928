package grade

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayGradeStructure - a client's pay grade with its annual emoluments
type PayGradeStructure struct {
	ID          string
	ClientID    string
	GradeCode   string
	Name        string
	Emoluments  map[string]decimal.Decimal // {"basic": 1200000, "housing": 480000}
	AnnualGross decimal.Decimal
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EmolumentValues converts the emoluments to float64 for formula binding.
func (p PayGradeStructure) EmolumentValues() map[string]float64 {
	out := make(map[string]float64, len(p.Emoluments))
	for name, amount := range p.Emoluments {
		out[name] = amount.InexactFloat64()
	}
	return out
}
