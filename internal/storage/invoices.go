package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"verdeling/internal/core"
)

const invoiceColumns = `id, year, month, total_amount, amount_with_markup, ref, status, created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (core.Invoice, error) {
	var (
		inv              core.Invoice
		status           string
		created, updated string
	)
	if err := row.Scan(&inv.ID, &inv.Year, &inv.Month, &inv.TotalAmount, &inv.AmountWithMarkup,
		&inv.Ref, &status, &created, &updated); err != nil {
		return core.Invoice{}, err
	}
	inv.Status = core.InvoiceStatus(status)
	inv.CreatedAt = parseTime(created)
	inv.UpdatedAt = parseTime(updated)
	return inv, nil
}

// ListInvoices returns every invoice, most recent month first.
func (r *SQLiteRepository) ListInvoices(ctx context.Context) ([]core.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices ORDER BY year DESC, month DESC`)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []core.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetInvoiceByMonth(ctx context.Context, ym core.YearMonth) (core.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE year = ? AND month = ?`, ym.Year, ym.Month)
	inv, err := scanInvoice(row)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("get invoice %s: %w", ym, mapErr(err))
	}
	return inv, nil
}

func (r *SQLiteRepository) InsertInvoice(ctx context.Context, inv core.Invoice) (string, error) {
	if err := inv.Validate(); err != nil {
		return "", err
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := r.now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Year, inv.Month, inv.TotalAmount, inv.AmountWithMarkup,
		inv.Ref, string(inv.Status), formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt))
	if err != nil {
		return "", fmt.Errorf("insert invoice %s: %w", inv.Period(), mapErr(err))
	}

	slog.InfoContext(ctx, "Invoice saved to SQLite",
		"id", inv.ID,
		"ref", inv.Ref,
		"period", inv.Period().String(),
		"amount_with_markup", inv.AmountWithMarkup)
	return inv.ID, nil
}

// UpdateInvoice rewrites amounts, period and status. Ref and CreatedAt are
// kept as stored.
func (r *SQLiteRepository) UpdateInvoice(ctx context.Context, inv core.Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET year = ?, month = ?, total_amount = ?, amount_with_markup = ?,
		 status = ?, updated_at = ? WHERE id = ?`,
		inv.Year, inv.Month, inv.TotalAmount, inv.AmountWithMarkup,
		string(inv.Status), formatTime(r.now()), inv.ID)
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, mapErr(err))
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteInvoice(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete invoice %s: %w", id, mapErr(err))
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("delete invoice %s: %w", id, err)
	}
	return nil
}
