package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"verdeling/internal/core"
	"verdeling/internal/ports"
)

const readingColumns = `id, year, month, tenant_id, space, previous_reading, current_reading, consumption, updated_at`

func (r *SQLiteRepository) ListReadings(ctx context.Context, f ports.ReadingFilter) ([]core.MeterReading, error) {
	var (
		where []string
		args  []any
	)
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		where = append(where, "month = ?")
		args = append(args, f.Month)
	}
	if f.GeneralOnly {
		where = append(where, "tenant_id IS NULL")
	}
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}

	q := `SELECT ` + readingColumns + ` FROM meter_readings`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY year, month, COALESCE(tenant_id, ''), space`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var out []core.MeterReading
	for rows.Next() {
		var (
			m        core.MeterReading
			tenantID sql.NullString
			updated  string
		)
		if err := rows.Scan(&m.ID, &m.Year, &m.Month, &tenantID, &m.Space,
			&m.PreviousReading, &m.CurrentReading, &m.Consumption, &updated); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		m.TenantID = stringPtr(tenantID)
		m.UpdatedAt = parseTime(updated)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	return out, nil
}

// normalize recomputes derived fields so stored consumption never drifts
// from the two meter values.
func normalize(m core.MeterReading) core.MeterReading {
	m.PreviousReading = core.SanitizeReading(m.PreviousReading)
	m.CurrentReading = core.SanitizeReading(m.CurrentReading)
	m.Consumption = core.Consumption(m.CurrentReading, m.PreviousReading)
	return m
}

func (r *SQLiteRepository) InsertReading(ctx context.Context, m core.MeterReading) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	m = normalize(m)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO meter_readings (`+readingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Year, m.Month, nullString(m.TenantID), m.Space,
		m.PreviousReading, m.CurrentReading, m.Consumption, formatTime(m.UpdatedAt))
	if err != nil {
		return "", fmt.Errorf("insert reading %s %s: %w", m.Period(), m.MeterKey(), mapErr(err))
	}

	slog.DebugContext(ctx, "Reading saved to SQLite",
		"id", m.ID,
		"period", m.Period().String(),
		"meter", m.MeterKey().String(),
		"consumption", m.Consumption)
	return m.ID, nil
}

func (r *SQLiteRepository) UpdateReading(ctx context.Context, m core.MeterReading) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m = normalize(m)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = r.now()
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE meter_readings SET year = ?, month = ?, tenant_id = ?, space = ?,
		 previous_reading = ?, current_reading = ?, consumption = ?, updated_at = ?
		 WHERE id = ?`,
		m.Year, m.Month, nullString(m.TenantID), m.Space,
		m.PreviousReading, m.CurrentReading, m.Consumption, formatTime(m.UpdatedAt), m.ID)
	if err != nil {
		return fmt.Errorf("update reading %s: %w", m.ID, mapErr(err))
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("update reading %s: %w", m.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteReading(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM meter_readings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reading %s: %w", id, mapErr(err))
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("delete reading %s: %w", id, err)
	}
	return nil
}
