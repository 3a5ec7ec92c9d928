package attendance

import "context"

// AttendanceRepository is the read side of attendance intake.
type AttendanceRepository interface {
	// ListReady returns records flagged ready_for_calculation that match q.
	ListReady(ctx context.Context, q AttendanceQuery) ([]AttendanceRecord, error)
}
