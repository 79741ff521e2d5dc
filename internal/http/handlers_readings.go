package http

import (
	"fmt"
	"net/http"

	"verdeling/internal/billing"
	"verdeling/internal/core"
	applog "verdeling/internal/log"
)

type monthGroup struct {
	Period      core.YearMonth
	IsInitial   bool
	Consumption float64
	Readings    []readingRow
}

type chainBreakRow struct {
	Period   core.YearMonth
	Tenant   string
	Space    string
	Previous float64
	Expected float64
}

type readingsView struct {
	Initial     core.YearMonth
	NextMonth   core.YearMonth
	HasInitial  bool
	Months      []monthGroup
	ChainBreaks []chainBreakRow
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	ov, err := s.readings.Overview(ctx)
	if err != nil {
		s.writeError(w, r, applog.ComponentReadings, applog.OpList, err)
		return
	}

	view := readingsView{
		Initial:    ov.Initial,
		NextMonth:  ov.NextMonth,
		HasInitial: ov.HasInitial,
	}
	for _, m := range ov.Months {
		view.Months = append(view.Months, monthGroup{
			Period:      m.Period,
			IsInitial:   m.IsInitial,
			Consumption: m.Consumption(),
			Readings:    readingRows(m.Readings, ov.Tenants),
		})
	}
	names := billing.TenantNames(ov.Tenants)
	for _, b := range ov.ChainBreaks {
		tenant := names[core.StrVal(b.Reading.TenantID)]
		if b.Reading.IsGeneral() {
			tenant = core.GeneralSpace
		}
		view.ChainBreaks = append(view.ChainBreaks, chainBreakRow{
			Period:   b.Reading.Period(),
			Tenant:   tenant,
			Space:    b.Reading.Space,
			Previous: b.Reading.PreviousReading,
			Expected: b.Expected,
		})
	}

	s.renderPage(w, r, "readings_page", "Meterstanden", "readings", view)
}

type entryFormView struct {
	Form   billing.EntryForm
	Action string
	// Recorded is set when the month already has readings; saving edits them.
	Recorded bool
}

func (s *Server) renderEntryForm(w http.ResponseWriter, r *http.Request, form billing.EntryForm) {
	view := entryFormView{Form: form, Action: "/readings"}
	if form.Initial {
		view.Action = "/readings/initial"
	}
	for _, e := range form.Entries {
		if e.ExistingID != "" {
			view.Recorded = true
			break
		}
	}

	if isHTMX(r) {
		s.render(w, r, http.StatusOK, "reading_form", view)
		return
	}
	title := "Meterstanden " + form.Period.Label()
	if form.Initial {
		title = "Beginstanden"
	}
	s.renderPage(w, r, "reading_form_page", title, "readings", view)
}

// handleReadingForm renders the entry form for ?period= (or ?year&month=),
// defaulting to the next month to record.
func (s *Server) handleReadingForm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	ym, err := ParsePeriod(r.URL.Query(), core.YearMonth{})
	if err != nil {
		s.writeError(w, r, applog.ComponentReadings, applog.OpParse, err)
		return
	}
	if ym == (core.YearMonth{}) {
		ov, err := s.readings.Overview(ctx)
		if err != nil {
			s.writeError(w, r, applog.ComponentReadings, applog.OpRead, err)
			return
		}
		ym = ov.NextMonth
	}

	form, err := s.readings.EntryForm(ctx, ym)
	if err != nil {
		s.writeError(w, r, applog.ComponentReadings, applog.OpRead, err)
		return
	}
	s.renderEntryForm(w, r, form)
}

func (s *Server) handleInitialForm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	form, err := s.readings.EntryForm(ctx, s.readings.Initial())
	if err != nil {
		s.writeError(w, r, applog.ComponentReadings, applog.OpRead, err)
		return
	}
	s.renderEntryForm(w, r, form)
}

func (s *Server) handleSaveReadings(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	ym, err := ParsePeriod(r.PostForm, core.YearMonth{})
	if err == nil && ym == (core.YearMonth{}) {
		err = core.ErrInvalidMonth
	}
	if err != nil {
		s.writeError(w, r, applog.ComponentReadings, applog.OpParse, err)
		return
	}
	s.saveReadings(w, r, ym)
}

func (s *Server) handleSaveInitial(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	s.saveReadings(w, r, s.readings.Initial())
}

func (s *Server) saveReadings(w http.ResponseWriter, r *http.Request, ym core.YearMonth) {
	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	values := ParseMeterValues(r.PostForm)
	var (
		form billing.EntryForm
		err  error
	)
	if ym == s.readings.Initial() {
		form, err = s.readings.SaveInitial(ctx, values)
	} else {
		form, err = s.readings.SaveMonth(ctx, ym, values)
	}
	if err != nil {
		s.writeError(w, r, applog.ComponentReadings, applog.OpUpdate, err)
		return
	}
	s.events.LogReadingsSaved(ctx, ym.String(), len(form.Entries))

	if !isHTMX(r) {
		http.Redirect(w, r, "/readings", http.StatusSeeOther)
		return
	}
	msg := "Meterstanden opgeslagen voor " + ym.Label()
	if form.Initial {
		msg = "Beginstanden opgeslagen"
	}
	NewHTMXResponse().
		TriggerReadingsSaved(ym).
		TriggerDistributionRefresh(ym).
		TriggerSuccessNotification(msg).
		BodyHTML(`<div class="success">` + escape(msg) + `</div>`).
		Write(w)
}

func (s *Server) handleDeleteReadings(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	ym, err := ParsePeriod(r.PostForm, core.YearMonth{})
	if err == nil && ym == (core.YearMonth{}) {
		err = core.ErrInvalidMonth
	}
	if err != nil {
		s.writeError(w, r, applog.ComponentReadings, applog.OpParse, err)
		return
	}

	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	n, err := s.readings.DeleteMonth(ctx, ym)
	if err != nil {
		if n > 0 {
			applog.FromContext(ctx).WarnContext(ctx, "Month partially deleted",
				applog.FieldPeriod, ym.String(),
				"deleted", n)
		}
		s.writeError(w, r, applog.ComponentReadings, applog.OpDelete, err)
		return
	}

	if !isHTMX(r) {
		http.Redirect(w, r, "/readings", http.StatusSeeOther)
		return
	}
	msg := fmt.Sprintf("%d meterstanden verwijderd voor %s", n, ym.Label())
	NewHTMXResponse().
		TriggerReadingsDeleted(ym).
		TriggerDistributionRefresh(ym).
		TriggerSuccessNotification(msg).
		BodyHTML(`<div class="success">` + escape(msg) + `</div>`).
		Write(w)
}
