package billing

import (
	"errors"
	"fmt"
	"sort"

	"verdeling/internal/core"
)

var (
	// ErrNotFound marks a month that has nothing to show. Callers render it
	// as "no data".
	ErrNotFound = errors.New("not found")

	ErrNoInvoiceForMonth = fmt.Errorf("no invoice for month: %w", ErrNotFound)
)

// DistributionRow is one tenant's part of a month's invoice.
type DistributionRow struct {
	TenantID         string
	TenantName       string
	Color            string
	OwnConsumption   float64
	GeneralShare     float64
	TotalConsumption float64
	Percentage       float64
	Amount           float64
}

// DistributionResult is the per-tenant breakdown of one invoiced month.
type DistributionResult struct {
	Period                core.YearMonth
	Invoice               core.Invoice
	AmountWithMarkup      float64
	TotalConsumption      float64
	GeneralConsumption    float64
	GeneralSharePerTenant float64
	Rows                  []DistributionRow
}

// BaseAmount is the invoiced amount before markup.
func (d DistributionResult) BaseAmount() float64 {
	return d.Invoice.TotalAmount
}

// MarkupAmount is the surcharge included in AmountWithMarkup.
func (d DistributionResult) MarkupAmount() float64 {
	return d.AmountWithMarkup - d.Invoice.TotalAmount
}

// SumAmounts adds up the amounts of all rows.
func (d DistributionResult) SumAmounts() float64 {
	var sum float64
	for _, r := range d.Rows {
		sum += r.Amount
	}
	return sum
}

// Row returns the row of one tenant.
func (d DistributionResult) Row(tenantID string) (DistributionRow, bool) {
	for _, r := range d.Rows {
		if r.TenantID == tenantID {
			return r, true
		}
	}
	return DistributionRow{}, false
}

// Filter returns a copy restricted to one tenant's row. Month totals stay
// intact so the tenant still sees what the building consumed.
func (d DistributionResult) Filter(tenantID string) DistributionResult {
	out := d
	out.Rows = nil
	if r, ok := d.Row(tenantID); ok {
		out.Rows = []DistributionRow{r}
	}
	return out
}

// FindInvoice returns the invoice of ym.
func FindInvoice(ym core.YearMonth, invoices []core.Invoice) (core.Invoice, bool) {
	for _, inv := range invoices {
		if inv.Period() == ym {
			return inv, true
		}
	}
	return core.Invoice{}, false
}

// ComputeDistribution splits the marked-up invoice of ym over the tenants in
// proportion to their effective consumption (own plus general share).
//
// The denominator is the month total, where the general consumption is
// counted once. Tenants with zero effective consumption are left out. It
// returns ErrNoInvoiceForMonth when ym has no invoice.
func ComputeDistribution(ym core.YearMonth, tenants []core.Tenant, readings []core.MeterReading, invoices []core.Invoice) (DistributionResult, error) {
	inv, ok := FindInvoice(ym, invoices)
	if !ok {
		return DistributionResult{}, fmt.Errorf("distribute %s: %w", ym, ErrNoInvoiceForMonth)
	}

	agg := AggregateMonth(ym, readings)
	share := GeneralSharePerTenant(agg)
	amount := inv.EffectiveAmount()

	res := DistributionResult{
		Period:                ym,
		Invoice:               inv,
		AmountWithMarkup:      amount,
		TotalConsumption:      agg.TotalConsumption,
		GeneralConsumption:    agg.GeneralConsumption,
		GeneralSharePerTenant: share,
	}

	for _, t := range SortTenants(tenants) {
		own := agg.Own(t.ID)
		var general float64
		if own > 0 {
			general = share
		}
		total := own + general
		if total <= 0 {
			continue
		}
		var pct, amt float64
		if agg.TotalConsumption > 0 {
			pct = total / agg.TotalConsumption * 100
			amt = total / agg.TotalConsumption * amount
		}
		res.Rows = append(res.Rows, DistributionRow{
			TenantID:         t.ID,
			TenantName:       t.Name,
			Color:            t.Color,
			OwnConsumption:   own,
			GeneralShare:     general,
			TotalConsumption: total,
			Percentage:       pct,
			Amount:           amt,
		})
	}
	return res, nil
}

// InvoicedMonths lists the months that have an invoice, most recent first.
// Only these months can be distributed.
func InvoicedMonths(invoices []core.Invoice) []core.YearMonth {
	seen := make(map[core.YearMonth]struct{}, len(invoices))
	out := make([]core.YearMonth, 0, len(invoices))
	for _, inv := range invoices {
		ym := inv.Period()
		if _, ok := seen[ym]; ok {
			continue
		}
		seen[ym] = struct{}{}
		out = append(out, ym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}
