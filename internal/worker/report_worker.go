// Package worker consumes ledger events and keeps budget reports fresh.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/export"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
)

// ReportProvider is the slice of the report service the worker drives.
type ReportProvider interface {
	BudgetReport(ctx context.Context, budgetID int64) (services.BudgetReport, error)
	Invalidate(budgetID int64)
	RebuildAll(ctx context.Context) error
}

// ReportWorker invalidates and rebuilds budget reports when a ledger event
// lands, and pushes the fresh report to the configured destination.
type ReportWorker struct {
	reports  ReportProvider
	exporter export.ReportWriter
}

func NewReportWorker(reports ReportProvider, exporter export.ReportWriter) *ReportWorker {
	return &ReportWorker{
		reports:  reports,
		exporter: exporter,
	}
}

// HandleLedgerEvent processes a single ledger event message from AMQP.
// Returning an error makes the consumer requeue the message.
func (w *ReportWorker) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	slog.InfoContext(ctx, "Processing ledger event",
		"kind", msg.Kind,
		"budget_id", msg.BudgetID)

	if msg.BudgetID == 0 {
		// Events may arrive without a budget id when the publisher could
		// not resolve one. Nothing to refresh.
		slog.WarnContext(ctx, "Ledger event without budget id, skipping", "kind", msg.Kind)
		return nil
	}

	w.reports.Invalidate(msg.BudgetID)
	report, err := w.reports.BudgetReport(ctx, msg.BudgetID)
	if err != nil {
		return fmt.Errorf("rebuild report for budget %d: %w", msg.BudgetID, err)
	}
	slog.InfoContext(ctx, "Report recomputed",
		applog.FieldOperation, applog.OpRecompute,
		applog.FieldBudgetID, msg.BudgetID,
		applog.FieldProfileCount, len(report.Profiles))

	if msg.Kind == amqp.EventBudgetCloned && msg.SourceBudgetID != 0 {
		// A clone with balance transfer also mutates the source budget.
		w.reports.Invalidate(msg.SourceBudgetID)
		if _, err := w.reports.BudgetReport(ctx, msg.SourceBudgetID); err != nil {
			return fmt.Errorf("rebuild report for source budget %d: %w", msg.SourceBudgetID, err)
		}
	}

	return w.exportReport(ctx, report)
}

func (w *ReportWorker) exportReport(ctx context.Context, report services.BudgetReport) error {
	if w.exporter == nil {
		return nil
	}
	ref, err := w.exporter.WriteReport(ctx, report)
	if err != nil {
		// The report is already rebuilt and cached; a failed export should
		// not requeue the event.
		slog.ErrorContext(ctx, "Failed to export report",
			applog.FieldOperation, applog.OpExport,
			applog.FieldBudgetID, report.BudgetID,
			applog.FieldError, err)
		return nil
	}
	slog.InfoContext(ctx, "Exported report",
		applog.FieldOperation, applog.OpExport,
		applog.FieldBudgetID, report.BudgetID,
		applog.FieldExportRef, ref)
	return nil
}

// Run consumes ledger events until the context is canceled, refreshing all
// reports once at startup and again on every tick.
func (w *ReportWorker) Run(ctx context.Context, client *amqp.Client, refreshInterval time.Duration) error {
	if err := w.reports.RebuildAll(ctx); err != nil {
		slog.ErrorContext(ctx, "Initial report rebuild failed", "error", err)
	}

	if refreshInterval > 0 {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := w.reports.RebuildAll(ctx); err != nil {
						slog.ErrorContext(ctx, "Periodic report rebuild failed", "error", err)
					}
				}
			}
		}()
	}

	return client.ConsumeLedgerEvents(ctx, func(msg *amqp.LedgerEventMessage) error {
		return w.HandleLedgerEvent(ctx, msg)
	})
}
