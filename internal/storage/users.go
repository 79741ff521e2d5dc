package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"verdeling/internal/core"
)

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("create user: %w", mapErr(err))
	}
	return u.ID, nil
}

func (r *SQLiteRepository) getUser(ctx context.Context, where string, arg any) (core.User, error) {
	var (
		u       core.User
		created string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &created)
	if err != nil {
		return core.User{}, mapErr(err)
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	u, err := r.getUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return core.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (core.User, error) {
	u, err := r.getUser(ctx, "id = ?", id)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

const profileColumns = `user_id, email, display_name, role, tenant_id`

func scanProfile(row interface{ Scan(...any) error }) (core.Profile, error) {
	var (
		p        core.Profile
		role     string
		tenantID sql.NullString
	)
	if err := row.Scan(&p.UserID, &p.Email, &p.DisplayName, &role, &tenantID); err != nil {
		return core.Profile{}, err
	}
	p.Role = core.Role(role)
	p.TenantID = stringPtr(tenantID)
	return p, nil
}

func (r *SQLiteRepository) GetProfile(ctx context.Context, userID string) (core.Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile %s: %w", userID, mapErr(err))
	}
	return p, nil
}

func (r *SQLiteRepository) UpsertProfile(ctx context.Context, p core.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   email = excluded.email,
		   display_name = excluded.display_name,
		   role = excluded.role,
		   tenant_id = excluded.tenant_id`,
		p.UserID, p.Email, p.DisplayName, string(p.Role), nullString(p.TenantID))
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, mapErr(err))
	}
	return nil
}

func (r *SQLiteRepository) ListProfiles(ctx context.Context) ([]core.Profile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []core.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}
