package billing

import (
	"sort"

	"verdeling/internal/core"
)

// TenantMonth is a tenant's effective consumption in one month.
type TenantMonth struct {
	Period       core.YearMonth
	Own          float64
	GeneralShare float64
	Total        float64
}

// TenantMonths returns, for every aggregated month, what the tenant consumed
// including its share of the general meter. Order follows aggs.
func TenantMonths(tenantID string, aggs []MonthlyAggregate) []TenantMonth {
	out := make([]TenantMonth, 0, len(aggs))
	for _, a := range aggs {
		own := a.Own(tenantID)
		share := ShareFor(a, tenantID)
		out = append(out, TenantMonth{
			Period:       a.Period,
			Own:          own,
			GeneralShare: share,
			Total:        own + share,
		})
	}
	return out
}

// AvailableYears lists the years with readings, most recent first.
func AvailableYears(readings []core.MeterReading) []int {
	seen := make(map[int]struct{})
	for _, r := range readings {
		seen[r.Year] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// ReadingsForYear keeps the readings of one year.
func ReadingsForYear(readings []core.MeterReading, year int) []core.MeterReading {
	var out []core.MeterReading
	for _, r := range readings {
		if r.Year == year {
			out = append(out, r)
		}
	}
	return out
}

// ReadingsForTenant keeps the readings of one tenant.
func ReadingsForTenant(readings []core.MeterReading, tenantID string) []core.MeterReading {
	var out []core.MeterReading
	for _, r := range readings {
		if r.TenantID != nil && *r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

// Stats are the headline figures of the dashboard.
type Stats struct {
	TotalConsumption  float64
	Latest            *MonthlyAggregate
	LatestConsumption float64
	InvoicedMonths    int
}

// BuildStats computes the dashboard figures. With a tenant id the figures
// are that tenant's effective consumption; otherwise the building totals.
func BuildStats(aggs []MonthlyAggregate, invoices []core.Invoice, tenantID string) Stats {
	s := Stats{InvoicedMonths: len(InvoicedMonths(invoices))}
	for i, a := range aggs {
		c := a.TotalConsumption
		if tenantID != "" {
			c = a.Own(tenantID) + ShareFor(a, tenantID)
		}
		s.TotalConsumption += c
		if i == 0 {
			latest := aggs[0]
			s.Latest = &latest
			s.LatestConsumption = c
		}
	}
	return s
}
