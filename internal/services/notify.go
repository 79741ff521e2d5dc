package services

import (
	"context"
	"log/slog"

	"verdeling/internal/core"
)

// Publisher announces that a month's distribution inputs changed.
type Publisher interface {
	PublishDistributionChanged(ctx context.Context, ym core.YearMonth, reason string) error
}

// ChangeNotifier is told about every write that affects a distribution.
type ChangeNotifier interface {
	MonthChanged(ctx context.Context, ym core.YearMonth, reason string)
	TenantsChanged(ctx context.Context)
}

type nopNotifier struct{}

func (nopNotifier) MonthChanged(context.Context, core.YearMonth, string) {}
func (nopNotifier) TenantsChanged(context.Context)                      {}

func notifierOrNop(n ChangeNotifier) ChangeNotifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

// publish never fails the caller: the write already succeeded.
func publish(ctx context.Context, p Publisher, ym core.YearMonth, reason string) {
	if p == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping distribution message", "period", ym.String())
		return
	}
	if err := p.PublishDistributionChanged(ctx, ym, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to publish distribution message",
			"period", ym.String(),
			"reason", reason,
			"error", err)
	}
}
