package http

import (
	"net/http"

	"verdeling/internal/billing"
	"verdeling/internal/core"
	applog "verdeling/internal/log"
)

// readingRow is one meter reading as the tables show it.
type readingRow struct {
	ID          string
	Period      core.YearMonth
	Tenant      string
	Color       string
	Space       string
	General     bool
	Previous    float64
	Current     float64
	Consumption float64
}

func readingRows(readings []core.MeterReading, tenants []core.Tenant) []readingRow {
	names := billing.TenantNames(tenants)
	colors := make(map[string]string, len(tenants))
	for _, t := range tenants {
		colors[t.ID] = t.Color
	}
	out := make([]readingRow, 0, len(readings))
	for _, r := range readings {
		id := core.StrVal(r.TenantID)
		row := readingRow{
			ID:          r.ID,
			Period:      r.Period(),
			Tenant:      names[id],
			Color:       colors[id],
			Space:       r.Space,
			General:     r.IsGeneral(),
			Previous:    r.PreviousReading,
			Current:     r.CurrentReading,
			Consumption: r.Consumption,
		}
		if row.General {
			row.Tenant = core.GeneralSpace
		}
		out = append(out, row)
	}
	return out
}

// monthRow is one month of building totals with each tenant's own use in
// tenant order.
type monthRow struct {
	Period    core.YearMonth
	Total     float64
	General   float64
	PerTenant []float64
}

type dashboardView struct {
	Admin        bool
	Tenant       *core.Tenant
	Stats        billing.Stats
	Tenants      []core.Tenant
	Months       []monthRow
	TenantMonths []billing.TenantMonth
	Years        []int
	Year         int
	Readings     []readingRow
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	v := viewerFrom(r.Context())
	d, err := s.distributions.Dashboard(ctx, v.Profile, ParseYear(r.URL.Query()))
	if err != nil {
		s.writeError(w, r, applog.ComponentDistribution, applog.OpRead, err)
		return
	}

	view := dashboardView{
		Admin:        v.IsAdmin(),
		Tenant:       d.Tenant,
		Stats:        d.Stats,
		Tenants:      d.Tenants,
		TenantMonths: d.TenantMonths,
		Years:        d.Years,
		Year:         d.Year,
	}
	if view.Admin {
		for _, a := range d.Aggregates {
			row := monthRow{Period: a.Period, Total: a.TotalConsumption, General: a.GeneralConsumption}
			for _, t := range d.Tenants {
				row.PerTenant = append(row.PerTenant, a.Own(t.ID))
			}
			view.Months = append(view.Months, row)
		}
	}
	view.Readings = readingRows(d.YearReadings, d.Tenants)

	s.renderPage(w, r, "dashboard_page", "Dashboard", "dashboard", view)
}
