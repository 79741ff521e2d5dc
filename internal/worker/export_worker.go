package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"verdeling/internal/amqp"
	"verdeling/internal/billing"
	"verdeling/internal/core"
	"verdeling/internal/metrics"
)

// Distributor computes distributions from the store.
type Distributor interface {
	Recompute(ctx context.Context, ym core.YearMonth) (billing.DistributionResult, error)
	AvailableMonths(ctx context.Context) ([]core.YearMonth, error)
}

// Exporter writes distributions to an external destination.
type Exporter interface {
	ExportDistribution(ctx context.Context, res billing.DistributionResult) error
	RemoveDistribution(ctx context.Context, ym core.YearMonth) error
}

// ExportWorker keeps the exported distributions in line with the store.
type ExportWorker struct {
	distributions Distributor
	exporter      Exporter
	metrics       *metrics.Metrics
}

func NewExportWorker(distributions Distributor, exporter Exporter, m *metrics.Metrics) *ExportWorker {
	return &ExportWorker{
		distributions: distributions,
		exporter:      exporter,
		metrics:       m,
	}
}

// HandleDistributionChanged processes a single change message from AMQP.
func (w *ExportWorker) HandleDistributionChanged(ctx context.Context, msg *amqp.DistributionChangedMessage) error {
	slog.InfoContext(ctx, "Processing distribution message",
		"period", msg.Period().String(),
		"reason", msg.Reason)

	return w.Export(ctx, msg.Period())
}

// Export recomputes ym and writes it out. A month that lost its invoice has
// its export removed instead.
func (w *ExportWorker) Export(ctx context.Context, ym core.YearMonth) error {
	res, err := w.distributions.Recompute(ctx, ym)
	if errors.Is(err, billing.ErrNoInvoiceForMonth) {
		if err := w.exporter.RemoveDistribution(ctx, ym); err != nil {
			w.metrics.IncExport("failed")
			return fmt.Errorf("remove distribution %s: %w", ym, err)
		}
		w.metrics.IncExport("removed")
		return nil
	}
	if err != nil {
		w.metrics.IncExport("failed")
		return fmt.Errorf("compute distribution %s: %w", ym, err)
	}

	if err := w.exporter.ExportDistribution(ctx, res); err != nil {
		w.metrics.IncExport("failed")
		return fmt.Errorf("export distribution %s: %w", ym, err)
	}
	w.metrics.IncExport("success")
	return nil
}

// ExportAll exports every invoiced month. It keeps going after a failure and
// returns the failures joined.
func (w *ExportWorker) ExportAll(ctx context.Context) error {
	months, err := w.distributions.AvailableMonths(ctx)
	if err != nil {
		return fmt.Errorf("list invoiced months: %w", err)
	}

	var errs []error
	for _, ym := range months {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Export(ctx, ym); err != nil {
			slog.ErrorContext(ctx, "Failed to export distribution", "period", ym.String(), "error", err)
			errs = append(errs, err)
		}
	}

	slog.InfoContext(ctx, "Distribution export completed",
		"months", len(months),
		"errors", len(errs))
	return errors.Join(errs...)
}
