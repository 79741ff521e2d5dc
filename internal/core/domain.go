package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GeneralSpace is the canonical space name of the shared building meter.
const GeneralSpace = "Algemeen"

const (
	RoleAdmin  Role = "admin"
	RoleTenant Role = "tenant"
)

const (
	InvoiceFinal InvoiceStatus = "final"
	InvoiceDraft InvoiceStatus = "draft"
)

type (
	Role          string
	InvoiceStatus string

	Tenant struct {
		ID        string
		Name      string
		Slug      string
		Color     string
		SortOrder int // 0 means unset and sorts last
		Spaces    []string
	}

	// MeterReading is one meter value for one month. TenantID is nil for the
	// general meter.
	MeterReading struct {
		ID              string
		Year            int
		Month           int // 1-12
		TenantID        *string
		Space           string
		PreviousReading float64
		CurrentReading  float64
		Consumption     float64
		UpdatedAt       time.Time
	}

	Invoice struct {
		ID               string
		Year             int
		Month            int
		TotalAmount      float64
		AmountWithMarkup float64
		Ref              string
		Status           InvoiceStatus
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	// Profile links an authenticated user to a role and, for tenant users,
	// to the tenant whose data they may see.
	Profile struct {
		UserID      string
		Email       string
		DisplayName string
		Role        Role
		TenantID    *string
	}

	User struct {
		ID           string
		Email        string
		PasswordHash string
		CreatedAt    time.Time
	}
)

var (
	ErrInvalidYear    = errors.New("invalid year")
	ErrInvalidMonth   = errors.New("invalid month")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrEmptyName      = errors.New("empty name")
	ErrEmptySpace     = errors.New("empty space name")
	ErrDuplicateSpace = errors.New("duplicate space name")
	ErrReservedSpace  = errors.New("space name is reserved for the general meter")
	ErrInvalidRole    = errors.New("invalid role")
	ErrMissingTenant  = errors.New("tenant profile requires a tenant")
	ErrInvalidStatus  = errors.New("invalid invoice status")
)

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StrVal dereferences p, returning "" for nil.
func StrVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (t Tenant) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	if len(t.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	seen := make(map[string]struct{}, len(t.Spaces))
	for _, s := range t.Spaces {
		s = strings.TrimSpace(s)
		if s == "" {
			return ErrEmptySpace
		}
		if strings.EqualFold(s, GeneralSpace) {
			return ErrReservedSpace
		}
		if _, ok := seen[s]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateSpace, s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// IsGeneral reports whether the reading belongs to the shared meter.
func (r MeterReading) IsGeneral() bool {
	return r.TenantID == nil
}

// Period returns the reading's year and month.
func (r MeterReading) Period() YearMonth {
	return YearMonth{Year: r.Year, Month: r.Month}
}

// MeterKey identifies the physical meter the reading was taken from.
func (r MeterReading) MeterKey() MeterKey {
	return MeterKey{TenantID: StrVal(r.TenantID), Space: r.Space}
}

func (r MeterReading) Validate() error {
	if err := r.Period().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Space) == "" {
		return ErrEmptySpace
	}
	if r.TenantID == nil && r.Space != GeneralSpace {
		return fmt.Errorf("general meter must use space %q", GeneralSpace)
	}
	return nil
}

func (i Invoice) Period() YearMonth {
	return YearMonth{Year: i.Year, Month: i.Month}
}

// MarkupAmount is the surcharge on top of the base amount.
func (i Invoice) MarkupAmount() float64 {
	return i.EffectiveAmount() - i.TotalAmount
}

// EffectiveAmount is the amount to distribute. It falls back to computing
// the markup when the persisted value is missing.
func (i Invoice) EffectiveAmount() float64 {
	if i.AmountWithMarkup > 0 {
		return i.AmountWithMarkup
	}
	return WithMarkup(i.TotalAmount)
}

func (i Invoice) Validate() error {
	if err := i.Period().Validate(); err != nil {
		return err
	}
	if i.TotalAmount < 0 {
		return ErrInvalidAmount
	}
	switch i.Status {
	case InvoiceFinal, InvoiceDraft:
	default:
		return ErrInvalidStatus
	}
	return nil
}

func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Profile) Validate() error {
	switch p.Role {
	case RoleAdmin:
	case RoleTenant:
		if p.TenantID == nil || *p.TenantID == "" {
			return ErrMissingTenant
		}
	default:
		return ErrInvalidRole
	}
	return nil
}

// MeterKey identifies a meter: a tenant's space, or the general meter when
// TenantID is empty.
type MeterKey struct {
	TenantID string
	Space    string
}

func (k MeterKey) IsGeneral() bool {
	return k.TenantID == ""
}

func (k MeterKey) String() string {
	if k.IsGeneral() {
		return "general_" + k.Space
	}
	return k.TenantID + "_" + k.Space
}
