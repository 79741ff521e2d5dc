package services

import (
	"context"
	"fmt"
	"strings"

	"verdeling/internal/billing"
	"verdeling/internal/core"
	"verdeling/internal/ports"
)

// TenantService manages tenants and their sub-meters.
type TenantService struct {
	store    ports.TenantStore
	notifier ChangeNotifier
}

func NewTenantService(store ports.TenantStore, notifier ChangeNotifier) *TenantService {
	return &TenantService{store: store, notifier: notifierOrNop(notifier)}
}

// List returns tenants in display order.
func (s *TenantService) List(ctx context.Context) ([]core.Tenant, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return billing.SortTenants(tenants), nil
}

func (s *TenantService) Create(ctx context.Context, t core.Tenant) (core.Tenant, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Slug == "" {
		t.Slug = slugify(t.Name)
	}
	id, err := s.store.CreateTenant(ctx, t)
	if err != nil {
		return core.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	t.ID = id
	s.notifier.TenantsChanged(ctx)
	return t, nil
}

func (s *TenantService) Update(ctx context.Context, t core.Tenant) error {
	if err := s.store.UpdateTenant(ctx, t); err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	s.notifier.TenantsChanged(ctx)
	return nil
}

// Delete removes the tenant together with its readings.
func (s *TenantService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteTenant(ctx, id); err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	s.notifier.TenantsChanged(ctx)
	return nil
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
