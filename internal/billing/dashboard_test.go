package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdeling/internal/core"
)

func TestSortTenants(t *testing.T) {
	in := []core.Tenant{
		tenant("c", "charlie", 0),
		tenant("b", "Bravo", 2),
		tenant("a", "alpha", 0),
		tenant("d", "Delta", 1),
	}
	got := SortTenants(in)
	ids := make([]string, len(got))
	for i, tt := range got {
		ids[i] = tt.ID
	}
	assert.Equal(t, []string{"d", "b", "a", "c"}, ids)
	assert.Equal(t, "c", in[0].ID, "input is not reordered")
}

func TestSortReadings(t *testing.T) {
	tenants := []core.Tenant{tenant("a", "A", 2), tenant("b", "B", 1)}
	readings := []core.MeterReading{
		consumed(sep2025, "a", "y", 1),
		consumed(sep2025, "zz", "x", 1),
		consumed(sep2025, "a", "x", 1),
		general(sep2025, 1),
		consumed(sep2025, "b", "x", 1),
	}
	got := SortReadings(readings, tenants)
	keys := make([]string, len(got))
	for i, r := range got {
		keys[i] = r.MeterKey().String()
	}
	assert.Equal(t, []string{"general_Algemeen", "b_x", "a_x", "a_y", "zz_x"}, keys)
}

func TestTenantMonths(t *testing.T) {
	readings := []core.MeterReading{
		consumed(sep2025, "a", "x", 100),
		consumed(sep2025, "b", "x", 50),
		general(sep2025, 40),
		consumed(sep2025.Next(), "b", "x", 10),
		general(sep2025.Next(), 8),
	}
	months := TenantMonths("a", Aggregate(readings))
	require.Len(t, months, 2)

	assert.Equal(t, sep2025.Next(), months[0].Period)
	assert.Zero(t, months[0].Total, "no own consumption means no general share")

	assert.InDelta(t, 100, months[1].Own, tolerance)
	assert.InDelta(t, 20, months[1].GeneralShare, tolerance)
	assert.InDelta(t, 120, months[1].Total, tolerance)
}

func TestBuildStats(t *testing.T) {
	readings := []core.MeterReading{
		consumed(sep2025, "a", "x", 100),
		general(sep2025, 20),
		consumed(sep2025.Next(), "a", "x", 30),
		consumed(sep2025.Next(), "b", "x", 30),
		general(sep2025.Next(), 10),
	}
	aggs := Aggregate(readings)
	invoices := []core.Invoice{invoice(sep2025, 10), invoice(sep2025.Next(), 10)}

	all := BuildStats(aggs, invoices, "")
	assert.InDelta(t, 190, all.TotalConsumption, tolerance)
	assert.InDelta(t, 70, all.LatestConsumption, tolerance)
	require.NotNil(t, all.Latest)
	assert.Equal(t, sep2025.Next(), all.Latest.Period)
	assert.Equal(t, 2, all.InvoicedMonths)

	mine := BuildStats(aggs, invoices, "a")
	assert.InDelta(t, 155, mine.TotalConsumption, tolerance)
	assert.InDelta(t, 35, mine.LatestConsumption, tolerance)

	empty := BuildStats(nil, nil, "")
	assert.Nil(t, empty.Latest)
	assert.Zero(t, empty.TotalConsumption)
}

func TestAvailableYears(t *testing.T) {
	readings := []core.MeterReading{
		consumed(core.NewYearMonth(2025, 9), "a", "x", 1),
		consumed(core.NewYearMonth(2026, 1), "a", "x", 1),
		consumed(core.NewYearMonth(2025, 12), "a", "x", 1),
	}
	assert.Equal(t, []int{2026, 2025}, AvailableYears(readings))
	assert.Len(t, ReadingsForYear(readings, 2025), 2)
	assert.Len(t, ReadingsForTenant(append(readings, general(sep2025, 1)), "a"), 3)
}
