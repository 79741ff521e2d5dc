package billing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdeling/internal/core"
)

const tolerance = 1e-6

var sep2025 = core.NewYearMonth(2025, 9)

func tenant(id, name string, order int, spaces ...string) core.Tenant {
	return core.Tenant{ID: id, Name: name, SortOrder: order, Spaces: spaces}
}

// consumed builds a reading with the given consumption for ym.
func consumed(ym core.YearMonth, tenantID, space string, consumption float64) core.MeterReading {
	return core.MeterReading{
		Year:            ym.Year,
		Month:           ym.Month,
		TenantID:        core.StrPtr(tenantID),
		Space:           space,
		PreviousReading: 1000,
		CurrentReading:  1000 + consumption,
		Consumption:     consumption,
	}
}

func general(ym core.YearMonth, consumption float64) core.MeterReading {
	return consumed(ym, "", core.GeneralSpace, consumption)
}

func invoice(ym core.YearMonth, base float64) core.Invoice {
	return core.Invoice{
		Year:             ym.Year,
		Month:            ym.Month,
		TotalAmount:      base,
		AmountWithMarkup: core.WithMarkup(base),
		Status:           core.InvoiceFinal,
	}
}

func TestComputeDistribution_TwoTenants(t *testing.T) {
	tenants := []core.Tenant{tenant("a", "A", 1, "x"), tenant("b", "B", 2, "y")}
	readings := []core.MeterReading{
		consumed(sep2025, "a", "x", 100),
		consumed(sep2025, "b", "y", 300),
		general(sep2025, 200),
	}

	res, err := ComputeDistribution(sep2025, tenants, readings, []core.Invoice{invoice(sep2025, 1000)})
	require.NoError(t, err)

	assert.InDelta(t, 1100, res.AmountWithMarkup, tolerance)
	assert.InDelta(t, 100, res.MarkupAmount(), tolerance)
	assert.InDelta(t, 600, res.TotalConsumption, tolerance)
	assert.InDelta(t, 200, res.GeneralConsumption, tolerance)
	assert.InDelta(t, 100, res.GeneralSharePerTenant, tolerance)
	require.Len(t, res.Rows, 2)

	a, b := res.Rows[0], res.Rows[1]
	assert.Equal(t, "a", a.TenantID)
	assert.InDelta(t, 100, a.GeneralShare, tolerance)
	assert.InDelta(t, 200, a.TotalConsumption, tolerance)
	assert.InDelta(t, 100.0/3, a.Percentage, tolerance)
	assert.InDelta(t, 1100.0/3, a.Amount, tolerance)

	assert.Equal(t, "b", b.TenantID)
	assert.InDelta(t, 400, b.TotalConsumption, tolerance)
	assert.InDelta(t, 200.0/3, b.Percentage, tolerance)
	assert.InDelta(t, 2200.0/3, b.Amount, tolerance)

	assert.InDelta(t, res.AmountWithMarkup, res.SumAmounts(), tolerance)
}

func TestComputeDistribution_SingleTenantGetsWholeGeneral(t *testing.T) {
	tenants := []core.Tenant{tenant("a", "A", 1, "x"), tenant("b", "B", 2, "y")}
	readings := []core.MeterReading{
		consumed(sep2025, "a", "x", 50),
		consumed(sep2025, "b", "y", 0),
		general(sep2025, 50),
	}

	res, err := ComputeDistribution(sep2025, tenants, readings, []core.Invoice{invoice(sep2025, 200)})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.Equal(t, "a", row.TenantID)
	assert.InDelta(t, 50, row.GeneralShare, tolerance)
	assert.InDelta(t, 100, row.TotalConsumption, tolerance)
	assert.InDelta(t, 100, row.Percentage, tolerance)
	assert.InDelta(t, res.AmountWithMarkup, row.Amount, tolerance)
}

func TestComputeDistribution_NoInvoice(t *testing.T) {
	readings := []core.MeterReading{consumed(sep2025, "a", "x", 10)}

	_, err := ComputeDistribution(sep2025, []core.Tenant{tenant("a", "A", 1, "x")}, readings,
		[]core.Invoice{invoice(sep2025.Next(), 100)})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoInvoiceForMonth))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestComputeDistribution_ZeroConsumptionTenantExcluded(t *testing.T) {
	tenants := []core.Tenant{tenant("a", "A", 1, "x"), tenant("b", "B", 2, "y"), tenant("c", "C", 3, "z")}
	readings := []core.MeterReading{
		consumed(sep2025, "a", "x", 120),
		consumed(sep2025, "b", "y", 0),
		general(sep2025, 90),
	}

	res, err := ComputeDistribution(sep2025, tenants, readings, []core.Invoice{invoice(sep2025, 500)})
	require.NoError(t, err)

	_, hasB := res.Row("b")
	_, hasC := res.Row("c")
	assert.False(t, hasB, "tenant with zero consumption must not get a row")
	assert.False(t, hasC, "tenant without readings must not get a row")

	agg := AggregateMonth(sep2025, readings)
	assert.Zero(t, ShareFor(agg, "b"))
	assert.Zero(t, ShareFor(agg, "c"))
}

func TestComputeDistribution_ZeroTotalNoNaN(t *testing.T) {
	tenants := []core.Tenant{tenant("a", "A", 1, "x")}

	res, err := ComputeDistribution(sep2025, tenants, nil, []core.Invoice{invoice(sep2025, 100)})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Zero(t, res.TotalConsumption)
	assert.Zero(t, res.GeneralSharePerTenant)
}

func TestComputeDistribution_FallbackMarkup(t *testing.T) {
	inv := invoice(sep2025, 1000)
	inv.AmountWithMarkup = 0
	readings := []core.MeterReading{consumed(sep2025, "a", "x", 10)}

	res, err := ComputeDistribution(sep2025, []core.Tenant{tenant("a", "A", 1, "x")}, readings, []core.Invoice{inv})
	require.NoError(t, err)
	assert.InDelta(t, 1100, res.AmountWithMarkup, tolerance)
	assert.InDelta(t, 1100, res.SumAmounts(), tolerance)
}

func TestComputeDistribution_IgnoresOtherMonths(t *testing.T) {
	tenants := []core.Tenant{tenant("a", "A", 1, "x"), tenant("b", "B", 2, "y")}
	readings := []core.MeterReading{
		consumed(sep2025, "a", "x", 10),
		consumed(sep2025.Next(), "b", "y", 500),
		general(sep2025.Prev(), 1000),
	}

	res, err := ComputeDistribution(sep2025, tenants, readings, []core.Invoice{invoice(sep2025, 100)})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.InDelta(t, 100, res.Rows[0].Percentage, tolerance)
}

func TestAmountsSumToMarkedUpInvoice(t *testing.T) {
	tests := []struct {
		name    string
		own     map[string]float64
		general float64
		base    float64
	}{
		{"three tenants", map[string]float64{"a": 10, "b": 20, "c": 30}, 60, 999.99},
		{"uneven general", map[string]float64{"a": 1, "b": 1000}, 7, 123.45},
		{"no general", map[string]float64{"a": 5, "b": 15}, 0, 80},
		{"fractional", map[string]float64{"a": 0.3, "b": 0.7, "c": 1.1}, 0.9, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tenants []core.Tenant
			readings := []core.MeterReading{general(sep2025, tt.general)}
			for id, c := range tt.own {
				tenants = append(tenants, tenant(id, id, 0, "s"))
				readings = append(readings, consumed(sep2025, id, "s", c))
			}

			res, err := ComputeDistribution(sep2025, tenants, readings, []core.Invoice{invoice(sep2025, tt.base)})
			require.NoError(t, err)
			assert.Len(t, res.Rows, len(tt.own))
			assert.InDelta(t, core.WithMarkup(tt.base), res.SumAmounts(), tolerance)

			var pct float64
			for _, r := range res.Rows {
				pct += r.Percentage
			}
			assert.InDelta(t, 100, pct, tolerance)
		})
	}
}

func TestDistributionFilter(t *testing.T) {
	tenants := []core.Tenant{tenant("a", "A", 1, "x"), tenant("b", "B", 2, "y")}
	readings := []core.MeterReading{consumed(sep2025, "a", "x", 10), consumed(sep2025, "b", "y", 30)}
	res, err := ComputeDistribution(sep2025, tenants, readings, []core.Invoice{invoice(sep2025, 100)})
	require.NoError(t, err)

	mine := res.Filter("b")
	require.Len(t, mine.Rows, 1)
	assert.Equal(t, "b", mine.Rows[0].TenantID)
	assert.Equal(t, res.AmountWithMarkup, mine.AmountWithMarkup)
	assert.Len(t, res.Rows, 2, "filter must not modify the original")

	assert.Empty(t, res.Filter("unknown").Rows)
}

func TestInvoicedMonths(t *testing.T) {
	invoices := []core.Invoice{
		invoice(core.NewYearMonth(2025, 9), 1),
		invoice(core.NewYearMonth(2026, 1), 1),
		invoice(core.NewYearMonth(2025, 11), 1),
	}
	assert.Equal(t, []core.YearMonth{
		core.NewYearMonth(2026, 1),
		core.NewYearMonth(2025, 11),
		core.NewYearMonth(2025, 9),
	}, InvoicedMonths(invoices))
}
