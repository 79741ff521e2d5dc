package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"verdeling/internal/core"
)

const tenantColumns = `id, name, slug, color, sort_order, spaces`

func scanTenant(row interface{ Scan(...any) error }) (core.Tenant, error) {
	var (
		t      core.Tenant
		spaces string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Color, &t.SortOrder, &spaces); err != nil {
		return core.Tenant{}, err
	}
	if err := json.Unmarshal([]byte(spaces), &t.Spaces); err != nil {
		return core.Tenant{}, fmt.Errorf("decode spaces of tenant %s: %w", t.ID, err)
	}
	return t, nil
}

func encodeSpaces(spaces []string) (string, error) {
	if spaces == nil {
		spaces = []string{}
	}
	b, err := json.Marshal(spaces)
	if err != nil {
		return "", fmt.Errorf("encode spaces: %w", err)
	}
	return string(b), nil
}

func (r *SQLiteRepository) ListTenants(ctx context.Context) ([]core.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []core.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetTenant(ctx context.Context, id string) (core.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if err != nil {
		return core.Tenant{}, fmt.Errorf("get tenant %s: %w", id, mapErr(err))
	}
	return t, nil
}

func (r *SQLiteRepository) CreateTenant(ctx context.Context, t core.Tenant) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	spaces, err := encodeSpaces(t.Spaces)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug, color, sort_order, spaces, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Slug, t.Color, t.SortOrder, spaces, formatTime(r.now()))
	if err != nil {
		return "", fmt.Errorf("create tenant: %w", mapErr(err))
	}

	slog.InfoContext(ctx, "Tenant saved to SQLite", "id", t.ID, "name", t.Name, "spaces", len(t.Spaces))
	return t.ID, nil
}

func (r *SQLiteRepository) UpdateTenant(ctx context.Context, t core.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	spaces, err := encodeSpaces(t.Spaces)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET name = ?, slug = ?, color = ?, sort_order = ?, spaces = ? WHERE id = ?`,
		t.Name, t.Slug, t.Color, t.SortOrder, spaces, t.ID)
	if err != nil {
		return fmt.Errorf("update tenant %s: %w", t.ID, mapErr(err))
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("update tenant %s: %w", t.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTenant(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tenant %s: %w", id, mapErr(err))
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("delete tenant %s: %w", id, err)
	}
	slog.WarnContext(ctx, "Tenant deleted with its readings", "id", id)
	return nil
}

