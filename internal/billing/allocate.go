package billing

// ContributingTenants counts the tenants with nonzero own consumption.
func ContributingTenants(agg MonthlyAggregate) int {
	n := 0
	for _, c := range agg.TenantConsumption {
		if c > 0 {
			n++
		}
	}
	return n
}

// GeneralSharePerTenant splits the general consumption equally over the
// contributing tenants. Tenants without own consumption get nothing, so the
// share is 0 when nobody consumed anything.
func GeneralSharePerTenant(agg MonthlyAggregate) float64 {
	n := ContributingTenants(agg)
	if n == 0 {
		return 0
	}
	return agg.GeneralConsumption / float64(n)
}

// ShareFor returns the general share allocated to one tenant.
func ShareFor(agg MonthlyAggregate, tenantID string) float64 {
	if agg.Own(tenantID) <= 0 {
		return 0
	}
	return GeneralSharePerTenant(agg)
}
