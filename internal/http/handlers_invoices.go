package http

import (
	"bytes"
	"net/http"
	"net/url"
	"time"

	"verdeling/internal/core"
	applog "verdeling/internal/log"
)

type invoicesView struct {
	Invoices []core.Invoice
	// Suggested prefills the period of the create form.
	Suggested core.YearMonth
	Statuses  []core.InvoiceStatus
}

func (s *Server) loadInvoicesView(r *http.Request) (invoicesView, error) {
	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	invoices, err := s.invoices.List(ctx)
	if err != nil {
		return invoicesView{}, err
	}
	return invoicesView{
		Invoices:  invoices,
		Suggested: core.CurrentYearMonth(time.Now()).Prev(),
		Statuses:  []core.InvoiceStatus{core.InvoiceFinal, core.InvoiceDraft},
	}, nil
}

func (s *Server) handleInvoices(w http.ResponseWriter, r *http.Request) {
	view, err := s.loadInvoicesView(r)
	if err != nil {
		s.writeError(w, r, applog.ComponentInvoices, applog.OpList, err)
		return
	}
	s.renderPage(w, r, "invoices_page", "Facturen", "invoices", view)
}

// invoiceInput is the validated body of a create or update request.
type invoiceInput struct {
	ID     string
	Period core.YearMonth
	Amount float64
	Status core.InvoiceStatus
}

func parseInvoiceInput(values url.Values) (invoiceInput, error) {
	ym, err := ParsePeriod(values, core.YearMonth{})
	if err == nil && ym == (core.YearMonth{}) {
		err = core.ErrInvalidMonth
	}
	if err != nil {
		return invoiceInput{}, err
	}
	amount, err := core.ParseAmount(values.Get("amount"))
	if err != nil {
		return invoiceInput{}, err
	}
	return invoiceInput{
		ID:     sanitizeInput(values.Get("id")),
		Period: ym,
		Amount: amount,
		Status: core.InvoiceStatus(sanitizeInput(values.Get("status"))),
	}, nil
}

func (s *Server) readInvoiceBody(r *http.Request) (url.Values, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return nil, err
	}
	return p.Values(), nil
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	values, err := s.readInvoiceBody(r)
	if err != nil {
		BadRequestError("Ongeldig verzoek").Write(w)
		return
	}
	in, err := parseInvoiceInput(values)
	if err != nil {
		s.writeError(w, r, applog.ComponentInvoices, applog.OpParse, err)
		return
	}

	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	inv, err := s.invoices.Create(ctx, in.Period, in.Amount, in.Status)
	if err != nil {
		s.writeError(w, r, applog.ComponentInvoices, applog.OpCreate, err)
		return
	}
	s.events.LogInvoiceSaved(ctx, applog.OpCreate, inv.Period().String(), inv.Ref, inv.TotalAmount)
	s.respondInvoices(w, r, "Factuur "+inv.Ref+" opgeslagen", func(b *HTMXResponseBuilder) {
		b.TriggerInvoiceSaved(inv.Period()).TriggerDistributionRefresh(inv.Period())
	})
}

func (s *Server) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	values, err := s.readInvoiceBody(r)
	if err != nil {
		BadRequestError("Ongeldig verzoek").Write(w)
		return
	}
	in, err := parseInvoiceInput(values)
	if err != nil {
		s.writeError(w, r, applog.ComponentInvoices, applog.OpParse, err)
		return
	}
	if in.ID == "" {
		UnprocessableEntityError("Factuur ontbreekt").Write(w)
		return
	}

	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	inv, err := s.invoices.Update(ctx, in.ID, in.Period, in.Amount, in.Status)
	if err != nil {
		s.writeError(w, r, applog.ComponentInvoices, applog.OpUpdate, err)
		return
	}
	s.events.LogInvoiceSaved(ctx, applog.OpUpdate, inv.Period().String(), inv.Ref, inv.TotalAmount)
	s.respondInvoices(w, r, "Factuur "+inv.Ref+" bijgewerkt", func(b *HTMXResponseBuilder) {
		b.TriggerInvoiceSaved(inv.Period()).TriggerDistributionRefresh(inv.Period())
	})
}

func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	values, err := s.readInvoiceBody(r)
	if err != nil {
		BadRequestError("Ongeldig verzoek").Write(w)
		return
	}
	id := sanitizeInput(values.Get("id"))
	if id == "" {
		UnprocessableEntityError("Factuur ontbreekt").Write(w)
		return
	}

	ctx, cancel := withStoreTimeout(r)
	defer cancel()

	if err := s.invoices.Delete(ctx, id); err != nil {
		s.writeError(w, r, applog.ComponentInvoices, applog.OpDelete, err)
		return
	}
	// the form sends the period along so open panels can refresh
	ym, _ := ParsePeriod(values, core.YearMonth{})
	s.respondInvoices(w, r, "Factuur verwijderd", func(b *HTMXResponseBuilder) {
		if ym != (core.YearMonth{}) {
			b.TriggerInvoiceDeleted(ym).TriggerDistributionRefresh(ym)
		}
	})
}

// respondInvoices redirects plain form posts and re-renders the invoice
// list for htmx.
func (s *Server) respondInvoices(w http.ResponseWriter, r *http.Request, msg string, triggers func(*HTMXResponseBuilder)) {
	if !isHTMX(r) {
		http.Redirect(w, r, "/invoices", http.StatusSeeOther)
		return
	}
	view, err := s.loadInvoicesView(r)
	if err != nil {
		s.writeError(w, r, applog.ComponentInvoices, applog.OpList, err)
		return
	}
	if s.templates == nil {
		InternalServerError("templates not loaded").Write(w)
		return
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, "invoice_list", view); err != nil {
		s.events.LogError(r.Context(), "Template execution failed", err, applog.ComponentTemplate, applog.OpRender, nil)
		InternalServerError("Er ging iets mis bij het tonen van deze pagina.").Write(w)
		return
	}

	resp := NewHTMXResponse().TriggerSuccessNotification(msg).TriggerFormReset()
	triggers(resp)
	resp.BodyHTML(body.String()).Write(w)
}
