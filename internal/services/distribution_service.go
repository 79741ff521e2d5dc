package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"verdeling/internal/billing"
	"verdeling/internal/cache"
	"verdeling/internal/core"
	"verdeling/internal/ports"
)

// SnapshotStore is what a snapshot is loaded from.
type SnapshotStore interface {
	ports.TenantStore
	ports.ReadingStore
	ports.InvoiceStore
}

// Snapshot is an immutable copy of everything the billing core needs.
type Snapshot struct {
	Tenants  []core.Tenant
	Readings []core.MeterReading
	Invoices []core.Invoice
	LoadedAt time.Time
}

// DistributionService computes distributions from store snapshots and keeps
// the results cached per month until that month's inputs change.
type DistributionService struct {
	store     SnapshotStore
	publisher Publisher
	cache     *cache.LRUCache[billing.DistributionResult]
	onCompute func(hit bool)

	// gen is bumped on every invalidation; results computed from a snapshot
	// loaded under an older generation are not cached.
	mu  sync.Mutex
	gen uint64
}

func NewDistributionService(store SnapshotStore, publisher Publisher, ttl time.Duration) *DistributionService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DistributionService{
		store:     store,
		publisher: publisher,
		cache:     cache.NewLRUCache[billing.DistributionResult](120, ttl),
	}
}

// Cache exposes the result cache for periodic cleanup.
func (s *DistributionService) Cache() cache.Cleaner {
	return s.cache
}

// ObserveCompute registers a hook called on every Compute with whether the
// result came from cache.
func (s *DistributionService) ObserveCompute(fn func(hit bool)) {
	s.onCompute = fn
}

// LoadSnapshot reads tenants, readings and invoices concurrently.
func (s *DistributionService) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tenants, err := s.store.ListTenants(gctx)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		snap.Tenants = tenants
		return nil
	})
	g.Go(func() error {
		readings, err := s.store.ListReadings(gctx, ports.ReadingFilter{})
		if err != nil {
			return fmt.Errorf("list readings: %w", err)
		}
		snap.Readings = readings
		return nil
	})
	g.Go(func() error {
		invoices, err := s.store.ListInvoices(gctx)
		if err != nil {
			return fmt.Errorf("list invoices: %w", err)
		}
		snap.Invoices = invoices
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.LoadedAt = time.Now()
	return snap, nil
}

// Compute returns the distribution of ym. A month without invoice yields
// billing.ErrNoInvoiceForMonth.
func (s *DistributionService) Compute(ctx context.Context, ym core.YearMonth) (billing.DistributionResult, error) {
	if err := ym.Validate(); err != nil {
		return billing.DistributionResult{}, err
	}
	if res, ok := s.cache.Get(ym.String()); ok {
		s.observe(true)
		return res, nil
	}
	s.observe(false)

	gen := s.generation()
	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		return billing.DistributionResult{}, err
	}
	res, err := billing.ComputeDistribution(ym, snap.Tenants, snap.Readings, snap.Invoices)
	if err != nil {
		return billing.DistributionResult{}, err
	}
	s.cacheIfCurrent(ym.String(), gen, res)
	return res, nil
}

func (s *DistributionService) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *DistributionService) cacheIfCurrent(key string, gen uint64, res billing.DistributionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cache.Set(key, res)
	}
}

func (s *DistributionService) invalidate(drop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	drop()
}

// ComputeFor restricts the distribution to what profile may see.
func (s *DistributionService) ComputeFor(ctx context.Context, ym core.YearMonth, profile core.Profile) (billing.DistributionResult, error) {
	res, err := s.Compute(ctx, ym)
	if err != nil {
		return res, err
	}
	if profile.IsAdmin() {
		return res, nil
	}
	return res.Filter(core.StrVal(profile.TenantID)), nil
}

func (s *DistributionService) observe(hit bool) {
	if s.onCompute != nil {
		s.onCompute(hit)
	}
}

// AvailableMonths lists the invoiced months, most recent first.
func (s *DistributionService) AvailableMonths(ctx context.Context) ([]core.YearMonth, error) {
	invoices, err := s.store.ListInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return billing.InvoicedMonths(invoices), nil
}

// Dashboard is the data behind the dashboard page.
type Dashboard struct {
	Profile      core.Profile
	Tenant       *core.Tenant
	Stats        billing.Stats
	Aggregates   []billing.MonthlyAggregate
	TenantMonths []billing.TenantMonth
	Years        []int
	Year         int
	YearReadings []core.MeterReading
	Tenants      []core.Tenant
}

// Dashboard builds the admin view (building totals, readings per year) or
// the tenant view (own months including general share, own readings of the
// year).
func (s *DistributionService) Dashboard(ctx context.Context, profile core.Profile, year int) (Dashboard, error) {
	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	aggs := billing.Aggregate(snap.Readings)
	d := Dashboard{
		Profile:    profile,
		Aggregates: aggs,
		Years:      billing.AvailableYears(snap.Readings),
		Tenants:    billing.SortTenants(snap.Tenants),
	}

	d.Year = year
	if d.Year == 0 && len(d.Years) > 0 {
		d.Year = d.Years[0]
	}
	yearReadings := billing.ReadingsForYear(snap.Readings, d.Year)

	if !profile.IsAdmin() {
		tenantID := core.StrVal(profile.TenantID)
		for i := range snap.Tenants {
			if snap.Tenants[i].ID == tenantID {
				t := snap.Tenants[i]
				d.Tenant = &t
			}
		}
		d.Stats = billing.BuildStats(aggs, snap.Invoices, tenantID)
		d.TenantMonths = billing.TenantMonths(tenantID, aggs)
		d.YearReadings = billing.SortReadings(billing.ReadingsForTenant(yearReadings, tenantID), snap.Tenants)
		return d, nil
	}

	d.Stats = billing.BuildStats(aggs, snap.Invoices, "")
	d.YearReadings = billing.SortReadings(yearReadings, snap.Tenants)
	return d, nil
}

// MonthChanged drops the cached distribution of ym and announces the change.
func (s *DistributionService) MonthChanged(ctx context.Context, ym core.YearMonth, reason string) {
	s.invalidate(func() { s.cache.Delete(ym.String()) })
	publish(ctx, s.publisher, ym, reason)
}

// TenantsChanged drops every cached distribution.
func (s *DistributionService) TenantsChanged(ctx context.Context) {
	s.invalidate(s.cache.Clear)
	slog.DebugContext(ctx, "Distribution cache cleared after tenant change")
}

// Recompute drops any cached result for ym and computes it from the store.
// Processes that do not see the writes themselves use it.
func (s *DistributionService) Recompute(ctx context.Context, ym core.YearMonth) (billing.DistributionResult, error) {
	s.invalidate(func() { s.cache.Delete(ym.String()) })
	return s.Compute(ctx, ym)
}
