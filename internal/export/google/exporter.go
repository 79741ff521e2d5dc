// Package google mirrors computed distributions into a Google Sheets
// spreadsheet, one sheet per invoiced month.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"verdeling/internal/billing"
	"verdeling/internal/core"
)

const DefaultSheetPrefix = "Verdeling"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	prefix        string
}

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, prefix string) *Client {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultSheetPrefix
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, prefix: prefix}
}

// NewFromEnv builds a client from GOOGLE_SPREADSHEET_ID, GOOGLE_SHEET_PREFIX
// and the service account variables read by newSheetsService.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("GOOGLE_SPREADSHEET_ID not set")
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, spreadsheetID, os.Getenv("GOOGLE_SHEET_PREFIX")), nil
}

// newSheetsService initializes a Sheets service using service account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading service account credentials", "path", serviceAccountFile)
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// SheetTitle names the sheet holding the distribution of ym, e.g.
// "Verdeling 2025-09".
func SheetTitle(prefix string, ym core.YearMonth) string {
	return prefix + " " + ym.String()
}

// quoteSheet quotes a sheet title for A1 notation.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// BuildRows lays out a distribution as sheet rows: a summary block, a blank
// line, the per-tenant table and a totals footer. Amounts are rounded to
// cents.
func BuildRows(res billing.DistributionResult) [][]interface{} {
	rows := [][]interface{}{
		{"Periode", res.Period.Label()},
		{"Factuur", res.Invoice.Ref},
		{"Bedrag", core.RoundCents(res.BaseAmount())},
		{"Bedrag + 10%", core.RoundCents(res.AmountWithMarkup)},
		{"Verbruik Algemeen (kWh)", res.GeneralConsumption, "Per huurder", res.GeneralSharePerTenant},
		{},
		{"Huurder", "Eigen verbruik (kWh)", "Aandeel Algemeen (kWh)", "Totaal (kWh)", "Aandeel (%)", "Bedrag (€)"},
	}

	var own, share, total, pct, amount float64
	for _, r := range res.Rows {
		rows = append(rows, []interface{}{
			r.TenantName,
			r.OwnConsumption,
			r.GeneralShare,
			r.TotalConsumption,
			core.RoundCents(r.Percentage),
			core.RoundCents(r.Amount),
		})
		own += r.OwnConsumption
		share += r.GeneralShare
		total += r.TotalConsumption
		pct += r.Percentage
		amount += r.Amount
	}
	rows = append(rows, []interface{}{
		"Totaal", own, share, total, core.RoundCents(pct), core.RoundCents(amount),
	})
	return rows
}

// ExportDistribution replaces the content of the month's sheet with res,
// creating the sheet when needed.
func (c *Client) ExportDistribution(ctx context.Context, res billing.DistributionResult) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	title := SheetTitle(c.prefix, res.Period)

	if _, ok, err := c.sheetID(ctx, title); err != nil {
		return err
	} else if !ok {
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}}}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("add sheet %s: %w", title, err)
		}
		slog.InfoContext(ctx, "Created distribution sheet", "sheet", title)
	}

	rng := quoteSheet(title)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", title, err)
	}

	vr := &gsheet.ValueRange{Values: BuildRows(res)}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng+"!A1", vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write sheet %s: %w", title, err)
	}

	slog.InfoContext(ctx, "Exported distribution",
		"sheet", title,
		"tenants", len(res.Rows))
	return nil
}

// RemoveDistribution deletes the sheet of ym. A missing sheet is not an error.
func (c *Client) RemoveDistribution(ctx context.Context, ym core.YearMonth) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	title := SheetTitle(c.prefix, ym)
	id, ok, err := c.sheetID(ctx, title)
	if err != nil || !ok {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		DeleteSheet: &gsheet.DeleteSheetRequest{SheetId: id},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete sheet %s: %w", title, err)
	}
	slog.InfoContext(ctx, "Removed distribution sheet", "sheet", title)
	return nil
}

func (c *Client) sheetID(ctx context.Context, title string) (int64, bool, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return s.Properties.SheetId, true, nil
		}
	}
	return 0, false, nil
}
