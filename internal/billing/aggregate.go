// Package billing implements the cost allocation core: monthly consumption
// aggregation, the equal split of the general meter, and the distribution of
// an invoice over tenants. Every function here is pure and works on
// snapshots that the caller has already loaded.
package billing

import (
	"sort"

	"verdeling/internal/core"
)

// MonthlyAggregate is the consumption of one month split into the general
// meter and per-tenant buckets.
type MonthlyAggregate struct {
	Period             core.YearMonth
	TotalConsumption   float64
	GeneralConsumption float64
	TenantConsumption  map[string]float64
}

// Own returns the tenant's own consumption, 0 when it has none.
func (a MonthlyAggregate) Own(tenantID string) float64 {
	return a.TenantConsumption[tenantID]
}

// AggregateIndex buckets readings by month. No reading is excluded; missing
// or invalid consumption counts as zero.
func AggregateIndex(readings []core.MeterReading) map[core.YearMonth]MonthlyAggregate {
	out := make(map[core.YearMonth]MonthlyAggregate)
	for _, r := range readings {
		ym := r.Period()
		agg, ok := out[ym]
		if !ok {
			agg = MonthlyAggregate{Period: ym, TenantConsumption: make(map[string]float64)}
		}
		c := core.SanitizeReading(r.Consumption)
		agg.TotalConsumption += c
		if r.TenantID == nil {
			agg.GeneralConsumption += c
		} else {
			agg.TenantConsumption[*r.TenantID] += c
		}
		out[ym] = agg
	}
	return out
}

// Aggregate returns one aggregate per month, most recent first.
func Aggregate(readings []core.MeterReading) []MonthlyAggregate {
	idx := AggregateIndex(readings)
	out := make([]MonthlyAggregate, 0, len(idx))
	for _, agg := range idx {
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period.After(out[j].Period)
	})
	return out
}

// AggregateMonth aggregates only the readings of ym. The result is an empty
// aggregate when the month has no readings.
func AggregateMonth(ym core.YearMonth, readings []core.MeterReading) MonthlyAggregate {
	month := make([]core.MeterReading, 0, len(readings))
	for _, r := range readings {
		if r.Period() == ym {
			month = append(month, r)
		}
	}
	if agg, ok := AggregateIndex(month)[ym]; ok {
		return agg
	}
	return MonthlyAggregate{Period: ym, TenantConsumption: map[string]float64{}}
}
