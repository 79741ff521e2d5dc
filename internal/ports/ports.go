package ports

import (
	"context"
	"errors"

	"verdeling/internal/core"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// ReadingFilter narrows ListReadings. Zero values match everything.
type ReadingFilter struct {
	Year     int
	Month    int
	TenantID string
	// GeneralOnly keeps only readings of the general meter.
	GeneralOnly bool
}

// Matches reports whether r passes the filter.
func (f ReadingFilter) Matches(r core.MeterReading) bool {
	if f.Year != 0 && r.Year != f.Year {
		return false
	}
	if f.Month != 0 && r.Month != f.Month {
		return false
	}
	if f.GeneralOnly && r.TenantID != nil {
		return false
	}
	if f.TenantID != "" && core.StrVal(r.TenantID) != f.TenantID {
		return false
	}
	return true
}

// Ports for outbound adapters.
type (
	TenantStore interface {
		ListTenants(ctx context.Context) ([]core.Tenant, error)
		GetTenant(ctx context.Context, id string) (core.Tenant, error)
		CreateTenant(ctx context.Context, t core.Tenant) (id string, err error)
		UpdateTenant(ctx context.Context, t core.Tenant) error
		DeleteTenant(ctx context.Context, id string) error
	}

	// ReadingStore lists readings ordered by year, month, tenant and space.
	ReadingStore interface {
		ListReadings(ctx context.Context, filter ReadingFilter) ([]core.MeterReading, error)
		InsertReading(ctx context.Context, r core.MeterReading) (id string, err error)
		UpdateReading(ctx context.Context, r core.MeterReading) error
		DeleteReading(ctx context.Context, id string) error
	}

	InvoiceStore interface {
		ListInvoices(ctx context.Context) ([]core.Invoice, error)
		GetInvoiceByMonth(ctx context.Context, ym core.YearMonth) (core.Invoice, error)
		InsertInvoice(ctx context.Context, inv core.Invoice) (id string, err error)
		UpdateInvoice(ctx context.Context, inv core.Invoice) error
		DeleteInvoice(ctx context.Context, id string) error
	}

	ProfileStore interface {
		GetProfile(ctx context.Context, userID string) (core.Profile, error)
		UpsertProfile(ctx context.Context, p core.Profile) error
		ListProfiles(ctx context.Context) ([]core.Profile, error)
	}

	UserStore interface {
		CreateUser(ctx context.Context, u core.User) (id string, err error)
		GetUserByEmail(ctx context.Context, email string) (core.User, error)
		GetUserByID(ctx context.Context, id string) (core.User, error)
	}

	// Store is everything the application persists.
	Store interface {
		TenantStore
		ReadingStore
		InvoiceStore
		ProfileStore
		UserStore
		Ping(ctx context.Context) error
		Close() error
	}
)
