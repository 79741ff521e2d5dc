package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"verdeling/internal/billing"
	"verdeling/internal/core"
	applog "verdeling/internal/log"
)

type distributionView struct {
	Admin    bool
	Months   []core.YearMonth
	Selected core.YearMonth
	// Result is nil when the selected month has no invoice.
	Result *billing.DistributionResult
}

// selectedMonth resolves ?period= (or ?year&month=) against the invoiced
// months, defaulting to the most recent one.
func (s *Server) selectedMonth(ctx context.Context, r *http.Request) ([]core.YearMonth, core.YearMonth, error) {
	months, err := s.distributions.AvailableMonths(ctx)
	if err != nil {
		return nil, core.YearMonth{}, err
	}
	fallback := core.CurrentYearMonth(time.Now())
	if len(months) > 0 {
		fallback = months[0]
	}
	ym, err := ParsePeriod(r.URL.Query(), fallback)
	if err != nil {
		return nil, core.YearMonth{}, err
	}
	return months, ym, nil
}

func (s *Server) distributionFor(ctx context.Context, r *http.Request, ym core.YearMonth) (*billing.DistributionResult, error) {
	v := viewerFrom(r.Context())
	res, err := s.distributions.ComputeFor(ctx, ym, v.Profile)
	if errors.Is(err, billing.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// handleDistributionPage renders the month selector with the selected
// month's distribution already filled in.
func (s *Server) handleDistributionPage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	months, ym, err := s.selectedMonth(ctx, r)
	if err != nil {
		s.writeError(w, r, applog.ComponentDistribution, applog.OpParse, err)
		return
	}
	res, err := s.distributionFor(ctx, r, ym)
	if err != nil {
		s.writeError(w, r, applog.ComponentDistribution, applog.OpCompute, err)
		return
	}

	s.renderPage(w, r, "verdeling_page", "Verdeling", "verdeling", distributionView{
		Admin:    viewerFrom(r.Context()).IsAdmin(),
		Months:   months,
		Selected: ym,
		Result:   res,
	})
}

// handleDistributionPanel is the htmx partial behind the month selector.
// A month without invoice renders the "no data" panel.
func (s *Server) handleDistributionPanel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	months, ym, err := s.selectedMonth(ctx, r)
	if err != nil {
		s.writeError(w, r, applog.ComponentDistribution, applog.OpParse, err)
		return
	}
	res, err := s.distributionFor(ctx, r, ym)
	if err != nil {
		s.writeError(w, r, applog.ComponentDistribution, applog.OpCompute, err)
		return
	}

	s.render(w, r, http.StatusOK, "verdeling_panel", distributionView{
		Admin:    viewerFrom(r.Context()).IsAdmin(),
		Months:   months,
		Selected: ym,
		Result:   res,
	})
}
