// Package memory is an in-process ports.Store used for development and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"verdeling/internal/core"
	"verdeling/internal/ports"
)

type Store struct {
	mu       sync.Mutex
	tenants  []core.Tenant
	readings []core.MeterReading
	invoices []core.Invoice
	users    []core.User
	profiles map[string]core.Profile
	now      func() time.Time
}

var _ ports.Store = (*Store)(nil)

func New(tenants []core.Tenant) *Store {
	s := &Store{profiles: make(map[string]core.Profile), now: time.Now}
	for _, t := range tenants {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		s.tenants = append(s.tenants, t)
	}
	return s
}

// NewFromFiles seeds tenants from base/seed_tenants.txt. Each line reads
// "Name|Space, Space|#color"; blank lines and # comments are skipped.
func NewFromFiles(base string) *Store {
	var tenants []core.Tenant
	for i, line := range readLines(filepath.Join(base, "seed_tenants.txt")) {
		t, ok := parseTenantLine(line)
		if !ok {
			continue
		}
		t.SortOrder = i + 1
		tenants = append(tenants, t)
	}
	return New(tenants)
}

func parseTenantLine(line string) (core.Tenant, bool) {
	parts := strings.Split(line, "|")
	t := core.Tenant{Name: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		t.Spaces = dedupe(strings.Split(parts[1], ","))
	}
	if len(parts) > 2 {
		t.Color = strings.TrimSpace(parts[2])
	}
	t.Slug = strings.ToLower(strings.ReplaceAll(t.Name, " ", "-"))
	return t, t.Validate() == nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) ListTenants(context.Context) ([]core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Tenant, len(s.tenants))
	for i, t := range s.tenants {
		t.Spaces = append([]string(nil), t.Spaces...)
		out[i] = t
	}
	return out, nil
}

func (s *Store) GetTenant(_ context.Context, id string) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.ID == id {
			t.Spaces = append([]string(nil), t.Spaces...)
			return t, nil
		}
	}
	return core.Tenant{}, fmt.Errorf("get tenant %s: %w", id, ports.ErrNotFound)
}

func (s *Store) CreateTenant(_ context.Context, t core.Tenant) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Spaces = append([]string(nil), t.Spaces...)
	s.tenants = append(s.tenants, t)
	return t.ID, nil
}

func (s *Store) UpdateTenant(_ context.Context, t core.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tenants {
		if s.tenants[i].ID == t.ID {
			t.Spaces = append([]string(nil), t.Spaces...)
			s.tenants[i] = t
			return nil
		}
	}
	return fmt.Errorf("update tenant %s: %w", t.ID, ports.ErrNotFound)
}

// DeleteTenant also removes the tenant's readings.
func (s *Store) DeleteTenant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tenants {
		if s.tenants[i].ID != id {
			continue
		}
		s.tenants = append(s.tenants[:i], s.tenants[i+1:]...)
		kept := s.readings[:0]
		for _, r := range s.readings {
			if core.StrVal(r.TenantID) != id {
				kept = append(kept, r)
			}
		}
		s.readings = kept
		return nil
	}
	return fmt.Errorf("delete tenant %s: %w", id, ports.ErrNotFound)
}

func (s *Store) ListReadings(_ context.Context, f ports.ReadingFilter) ([]core.MeterReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MeterReading
	for _, r := range s.readings {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Period() != b.Period() {
			return a.Period().Before(b.Period())
		}
		if ta, tb := core.StrVal(a.TenantID), core.StrVal(b.TenantID); ta != tb {
			return ta < tb
		}
		return a.Space < b.Space
	})
	return out, nil
}

func normalize(r core.MeterReading) core.MeterReading {
	r.PreviousReading = core.SanitizeReading(r.PreviousReading)
	r.CurrentReading = core.SanitizeReading(r.CurrentReading)
	r.Consumption = core.Consumption(r.CurrentReading, r.PreviousReading)
	if r.TenantID != nil && *r.TenantID == "" {
		r.TenantID = nil
	}
	return r
}

// conflictLocked reports whether another reading already occupies r's key.
func (s *Store) conflictLocked(r core.MeterReading) bool {
	for _, o := range s.readings {
		if o.ID != r.ID && o.Period() == r.Period() && o.MeterKey() == r.MeterKey() {
			return true
		}
	}
	return false
}

func (s *Store) InsertReading(_ context.Context, r core.MeterReading) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	r = normalize(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if s.conflictLocked(r) {
		return "", fmt.Errorf("insert reading %s %s: %w", r.Period(), r.MeterKey(), ports.ErrConflict)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.now()
	}
	s.readings = append(s.readings, r)
	return r.ID, nil
}

func (s *Store) UpdateReading(_ context.Context, r core.MeterReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r = normalize(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictLocked(r) {
		return fmt.Errorf("update reading %s: %w", r.ID, ports.ErrConflict)
	}
	for i := range s.readings {
		if s.readings[i].ID == r.ID {
			if r.UpdatedAt.IsZero() {
				r.UpdatedAt = s.now()
			}
			s.readings[i] = r
			return nil
		}
	}
	return fmt.Errorf("update reading %s: %w", r.ID, ports.ErrNotFound)
}

func (s *Store) DeleteReading(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.readings {
		if s.readings[i].ID == id {
			s.readings = append(s.readings[:i], s.readings[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete reading %s: %w", id, ports.ErrNotFound)
}

func (s *Store) ListInvoices(context.Context) ([]core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.Invoice(nil), s.invoices...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period().After(out[j].Period()) })
	return out, nil
}

func (s *Store) GetInvoiceByMonth(_ context.Context, ym core.YearMonth) (core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.Period() == ym {
			return inv, nil
		}
	}
	return core.Invoice{}, fmt.Errorf("get invoice %s: %w", ym, ports.ErrNotFound)
}

func (s *Store) InsertInvoice(_ context.Context, inv core.Invoice) (string, error) {
	if err := inv.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.invoices {
		if o.Period() == inv.Period() {
			return "", fmt.Errorf("insert invoice %s: %w", inv.Period(), ports.ErrConflict)
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := s.now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	s.invoices = append(s.invoices, inv)
	return inv.ID, nil
}

// UpdateInvoice keeps the stored ref and creation time.
func (s *Store) UpdateInvoice(_ context.Context, inv core.Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, o := range s.invoices {
		if o.ID == inv.ID {
			idx = i
		} else if o.Period() == inv.Period() {
			return fmt.Errorf("update invoice %s: %w", inv.ID, ports.ErrConflict)
		}
	}
	if idx < 0 {
		return fmt.Errorf("update invoice %s: %w", inv.ID, ports.ErrNotFound)
	}
	inv.Ref = s.invoices[idx].Ref
	inv.CreatedAt = s.invoices[idx].CreatedAt
	inv.UpdatedAt = s.now()
	s.invoices[idx] = inv
	return nil
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.invoices {
		if s.invoices[i].ID == id {
			s.invoices = append(s.invoices[:i], s.invoices[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete invoice %s: %w", id, ports.ErrNotFound)
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func (s *Store) CreateUser(_ context.Context, u core.User) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = normalizeEmail(u.Email)
	for _, o := range s.users {
		if o.Email == u.Email {
			return "", fmt.Errorf("create user: %w", ports.ErrConflict)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users = append(s.users, u)
	return u.ID, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = normalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return core.User{}, fmt.Errorf("get user by email: %w", ports.ErrNotFound)
}

func (s *Store) GetUserByID(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return core.User{}, fmt.Errorf("get user %s: %w", id, ports.ErrNotFound)
}

func (s *Store) GetProfile(_ context.Context, userID string) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return core.Profile{}, fmt.Errorf("get profile %s: %w", userID, ports.ErrNotFound)
	}
	return p, nil
}

func (s *Store) UpsertProfile(_ context.Context, p core.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *Store) ListProfiles(context.Context) ([]core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// dedupe trims and drops empty or repeated values, preserving order.
func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
