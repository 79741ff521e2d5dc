package services

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"verdeling/internal/amqp"
	"verdeling/internal/billing"
	"verdeling/internal/core"
	"verdeling/internal/memory"
	"verdeling/internal/ports"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishDistributionChanged(ctx context.Context, ym core.YearMonth, reason string) error {
	return m.Called(ym, reason).Error(0)
}

var (
	aug = core.NewYearMonth(2025, 8)
	sep = core.NewYearMonth(2025, 9)
	oct = core.NewYearMonth(2025, 10)
)

type fixture struct {
	store        *memory.Store
	publisher    *mockPublisher
	distribution *DistributionService
	readings     *ReadingService
	invoices     *InvoiceService
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New([]core.Tenant{
		{ID: "a", Name: "Atelier", SortOrder: 1, Spaces: []string{"x"}},
		{ID: "b", Name: "Bakkerij", SortOrder: 2, Spaces: []string{"y"}},
	})
	pub := &mockPublisher{}
	pub.On("PublishDistributionChanged", mock.Anything, mock.Anything).Return(nil)
	dist := NewDistributionService(store, pub, 0)
	return fixture{
		store:        store,
		publisher:    pub,
		distribution: dist,
		readings:     NewReadingService(store, aug, dist),
		invoices:     NewInvoiceService(store, dist),
	}
}

func (f fixture) recordTwoMonths(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.readings.SaveInitial(ctx, map[string]float64{
		"general_Algemeen": 1000,
		"a_x":              100,
		"b_y":              200,
	})
	require.NoError(t, err)
	_, err = f.readings.SaveMonth(ctx, sep, map[string]float64{
		"general_Algemeen": 1200,
		"a_x":              200,
		"b_y":              500,
	})
	require.NoError(t, err)
}

func TestReadingWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	state, err := f.readings.State(ctx, sep)
	require.NoError(t, err)
	assert.Equal(t, billing.NoInitialReadings, state)

	_, err = f.readings.EntryForm(ctx, sep)
	assert.ErrorIs(t, err, billing.ErrInvalidTransition, "months cannot be opened before initial readings exist")

	_, err = f.readings.EntryForm(ctx, core.NewYearMonth(2025, 7))
	assert.ErrorIs(t, err, ErrBeforeInitial)

	f.recordTwoMonths(t)

	state, err = f.readings.State(ctx, sep)
	require.NoError(t, err)
	assert.Equal(t, billing.ReadingMonthRecorded, state)

	overview, err := f.readings.Overview(ctx)
	require.NoError(t, err)
	assert.True(t, overview.HasInitial)
	assert.Equal(t, oct, overview.NextMonth)
	require.Len(t, overview.Months, 2)
	assert.InDelta(t, 600, overview.Months[0].Consumption(), 1e-9)
	assert.Empty(t, overview.ChainBreaks)

	form, err := f.readings.EntryForm(ctx, oct)
	require.NoError(t, err)
	require.Len(t, form.Entries, 3)
	assert.InDelta(t, 1200, form.Entries[0].Previous, 1e-9)

	f.publisher.AssertCalled(t, "PublishDistributionChanged", aug, amqp.ReasonReadingsSaved)
	f.publisher.AssertCalled(t, "PublishDistributionChanged", sep, amqp.ReasonReadingsSaved)
}

func TestEditingEarlierMonthReportsChainBreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordTwoMonths(t)

	// re-saving August changes the start of September's chain
	_, err := f.readings.SaveInitial(ctx, map[string]float64{"a_x": 150})
	require.NoError(t, err)

	breaks, err := f.readings.ChainBreaks(ctx)
	require.NoError(t, err)
	require.Len(t, breaks, 1)
	assert.Equal(t, "a", core.StrVal(breaks[0].Reading.TenantID))
	assert.InDelta(t, 150, breaks[0].Expected, 1e-9)

	// re-saving September with its own form repairs the chain
	_, err = f.readings.SaveMonth(ctx, sep, nil)
	require.NoError(t, err)
	breaks, err = f.readings.ChainBreaks(ctx)
	require.NoError(t, err)
	assert.Empty(t, breaks)
}

func TestDeleteMonth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordTwoMonths(t)

	_, err := f.readings.DeleteMonth(ctx, aug)
	assert.ErrorIs(t, err, billing.ErrInvalidTransition, "initial readings stay while later months exist")

	_, err = f.readings.DeleteMonth(ctx, oct)
	assert.ErrorIs(t, err, billing.ErrInvalidTransition, "nothing recorded to delete")

	n, err := f.readings.DeleteMonth(ctx, sep)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	f.publisher.AssertCalled(t, "PublishDistributionChanged", sep, amqp.ReasonReadingsDeleted)

	n, err = f.readings.DeleteMonth(ctx, aug)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	state, err := f.readings.State(ctx, sep)
	require.NoError(t, err)
	assert.Equal(t, billing.NoInitialReadings, state)
}

type failingDeletes struct {
	*memory.Store
	failID string
}

func (s failingDeletes) DeleteReading(ctx context.Context, id string) error {
	if id == s.failID {
		return errors.New("disk on fire")
	}
	return s.Store.DeleteReading(ctx, id)
}

func TestDeleteMonthReportsPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordTwoMonths(t)

	sepReadings, err := f.store.ListReadings(ctx, ports.ReadingFilter{Year: 2025, Month: 9})
	require.NoError(t, err)
	svc := NewReadingService(failingDeletes{Store: f.store, failID: sepReadings[0].ID}, aug, nil)

	n, err := svc.DeleteMonth(ctx, sep)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.Contains(t, err.Error(), "1 of 3")
}

func TestInvoiceLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.invoices.Create(ctx, sep, 0, core.InvoiceFinal)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	inv, err := f.invoices.Create(ctx, sep, 1000, "")
	require.NoError(t, err)
	assert.InDelta(t, 1100, inv.AmountWithMarkup, 1e-9)
	assert.Equal(t, core.InvoiceFinal, inv.Status)
	assert.Regexp(t, regexp.MustCompile(`^202509-[0-9A-Z]{6}$`), inv.Ref)

	_, err = f.invoices.Create(ctx, sep, 10, "")
	assert.ErrorIs(t, err, ports.ErrConflict)

	updated, err := f.invoices.Update(ctx, inv.ID, oct, 2000, core.InvoiceDraft)
	require.NoError(t, err)
	assert.Equal(t, inv.Ref, updated.Ref)
	assert.InDelta(t, 2200, updated.AmountWithMarkup, 1e-9)
	f.publisher.AssertCalled(t, "PublishDistributionChanged", oct, amqp.ReasonInvoiceSaved)
	f.publisher.AssertCalled(t, "PublishDistributionChanged", sep, amqp.ReasonInvoiceDeleted)

	require.NoError(t, f.invoices.Delete(ctx, inv.ID))
	assert.ErrorIs(t, f.invoices.Delete(ctx, inv.ID), ports.ErrNotFound)
}

func TestNewInvoiceRef(t *testing.T) {
	ref, err := NewInvoiceRef(core.NewYearMonth(2026, 1), bytes.NewReader(make([]byte, 64)))
	require.NoError(t, err)
	assert.Equal(t, "202601-000000", ref)

	_, err = NewInvoiceRef(sep, bytes.NewReader(nil))
	assert.Error(t, err)

	a, err := NewInvoiceRef(sep, nil)
	require.NoError(t, err)
	b, err := NewInvoiceRef(sep, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDistributionComputeAndCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordTwoMonths(t)

	_, err := f.distribution.Compute(ctx, sep)
	assert.ErrorIs(t, err, billing.ErrNoInvoiceForMonth)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, err = f.invoices.Create(ctx, sep, 1000, core.InvoiceFinal)
	require.NoError(t, err)

	var hits []bool
	f.distribution.ObserveCompute(func(hit bool) { hits = append(hits, hit) })

	// general 200 split over two tenants: a = 100+100, b = 300+100
	res, err := f.distribution.Compute(ctx, sep)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.InDelta(t, 1100.0/3, res.Rows[0].Amount, 1e-6)
	assert.InDelta(t, 2200.0/3, res.Rows[1].Amount, 1e-6)

	_, err = f.distribution.Compute(ctx, sep)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, hits)

	// a write to the month invalidates the cached result
	_, err = f.readings.SaveMonth(ctx, sep, map[string]float64{"b_y": 200})
	require.NoError(t, err)
	res, err = f.distribution.Compute(ctx, sep)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "a", res.Rows[0].TenantID)
	assert.Equal(t, []bool{false, true, false}, hits)

	tenantID := "a"
	mine, err := f.distribution.ComputeFor(ctx, sep, core.Profile{Role: core.RoleTenant, TenantID: &tenantID})
	require.NoError(t, err)
	require.Len(t, mine.Rows, 1)

	other := "b"
	theirs, err := f.distribution.ComputeFor(ctx, sep, core.Profile{Role: core.RoleTenant, TenantID: &other})
	require.NoError(t, err)
	assert.Empty(t, theirs.Rows)

	months, err := f.distribution.AvailableMonths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.YearMonth{sep}, months)
}

// writeDuringList runs a write once, after the readings were read but before
// they are returned, so the caller holds a snapshot older than the write.
type writeDuringList struct {
	*memory.Store
	write func()
	once  sync.Once
}

func (s *writeDuringList) ListReadings(ctx context.Context, f ports.ReadingFilter) ([]core.MeterReading, error) {
	readings, err := s.Store.ListReadings(ctx, f)
	s.once.Do(s.write)
	return readings, err
}

func TestComputeDoesNotCacheResultOlderThanWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordTwoMonths(t)
	_, err := f.invoices.Create(ctx, sep, 1000, core.InvoiceFinal)
	require.NoError(t, err)

	store := &writeDuringList{Store: f.store}
	dist := NewDistributionService(store, nil, 0)
	readings := NewReadingService(f.store, aug, dist)
	store.write = func() {
		_, err := readings.SaveMonth(ctx, sep, map[string]float64{"b_y": 200})
		assert.NoError(t, err)
	}

	stale, err := dist.Compute(ctx, sep)
	require.NoError(t, err)
	assert.Len(t, stale.Rows, 2, "computed from the snapshot read before the write")

	res, err := dist.Compute(ctx, sep)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "a", res.Rows[0].TenantID)

	fresh, err := NewDistributionService(f.store, nil, 0).Compute(ctx, sep)
	require.NoError(t, err)
	assert.Equal(t, fresh.Rows, res.Rows)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	pub := &mockPublisher{}
	pub.On("PublishDistributionChanged", sep, amqp.ReasonInvoiceSaved).Return(errors.New("broker down"))
	svc := NewInvoiceService(store, NewDistributionService(store, pub, 0))

	_, err := svc.Create(ctx, sep, 50, core.InvoiceFinal)
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordTwoMonths(t)

	admin, err := f.distribution.Dashboard(ctx, core.Profile{Role: core.RoleAdmin}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2025, admin.Year)
	assert.Len(t, admin.YearReadings, 6)
	assert.True(t, admin.YearReadings[0].IsGeneral())
	assert.InDelta(t, 600, admin.Stats.TotalConsumption, 1e-9)

	tenantID := "b"
	mine, err := f.distribution.Dashboard(ctx, core.Profile{Role: core.RoleTenant, TenantID: &tenantID}, 0)
	require.NoError(t, err)
	require.NotNil(t, mine.Tenant)
	assert.Equal(t, "Bakkerij", mine.Tenant.Name)
	assert.InDelta(t, 400, mine.Stats.TotalConsumption, 1e-9)
	assert.Equal(t, 2025, mine.Year)
	require.Len(t, mine.YearReadings, 2)
	for _, r := range mine.YearReadings {
		assert.Equal(t, "b", core.StrVal(r.TenantID))
	}
}

func TestTenantServiceClearsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewTenantService(f.store, f.distribution)

	created, err := svc.Create(ctx, core.Tenant{Name: "  Koffie & Co ", Spaces: []string{"bar"}})
	require.NoError(t, err)
	assert.Equal(t, "koffie-co", created.Slug)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Koffie & Co", list[2].Name, "unset order sorts last")

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), ports.ErrNotFound)
}
