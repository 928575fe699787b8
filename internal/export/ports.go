// Package export defines the outbound port for publishing budget reports
// outside the application.
package export

import (
	"context"

	"bilancio/internal/services"
)

// ReportWriter pushes a rendered budget report to an external destination.
type ReportWriter interface {
	// WriteReport exports the report and returns a destination reference
	// (sheet range, row marker) useful for logging.
	WriteReport(ctx context.Context, r services.BudgetReport) (ref string, err error)
}
