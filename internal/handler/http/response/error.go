package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/policy"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	var duplicate *payroll.DuplicateRunError
	if errors.As(err, &duplicate) {
		ConflictWithData(w, "A payroll run already exists for this period", map[string]interface{}{
			"existing_run_id": duplicate.Existing.ID,
			"status":          duplicate.Existing.Status,
		})
		return
	}

	var allFailed *payroll.AllCalculationsFailedError
	if errors.As(err, &allFailed) {
		UnprocessableWithData(w, "CALCULATION_FAILED", "No staff member could be calculated", map[string]interface{}{
			"errors": allFailed.Errors,
		})
		return
	}

	switch {
	// Auth errors
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrMissingActor):
		Unauthorized(w, err.Error())
	case errors.Is(err, policy.ErrForbidden):
		Forbidden(w, err.Error())

	// Payroll run errors
	case errors.Is(err, payroll.ErrRunNotFound):
		NotFound(w, "Payroll run not found")
	case errors.Is(err, payroll.ErrInvalidState):
		BadRequest(w, err.Error(), nil)
	case errors.Is(err, payroll.ErrNoEligibleRecords):
		BadRequest(w, "No attendance records are ready for calculation", nil)
	case errors.Is(err, payroll.ErrInvalidPeriod):
		BadRequest(w, "Invalid payroll period", nil)
	case errors.Is(err, payroll.ErrDuplicateRun):
		Conflict(w, "A payroll run already exists for this period")

	// Template errors
	case errors.Is(err, template.ErrTemplateNotFound):
		NotFound(w, "Calculation template not found")
	case errors.Is(err, template.ErrInvoiceTemplateNotFound):
		NotFound(w, "Invoice template not found")
	case errors.Is(err, template.ErrDefaultConflict):
		Conflict(w, "Another default template was set for this scope at the same time")

	// Default
	default:
		slog.Error("unhandled error", slog.Any("error", err))
		InternalServerError(w, "An unexpected error occurred")
	}
}
