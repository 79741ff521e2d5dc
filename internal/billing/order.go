package billing

import (
	"sort"
	"strings"

	"verdeling/internal/core"
)

// unsetOrder places tenants without an explicit sort order after the others.
const unsetOrder = 999

func tenantRank(t core.Tenant) int {
	if t.SortOrder <= 0 {
		return unsetOrder
	}
	return t.SortOrder
}

// SortTenants returns a copy of tenants ordered by sort order, then name.
func SortTenants(tenants []core.Tenant) []core.Tenant {
	out := append([]core.Tenant(nil), tenants...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := tenantRank(out[i]), tenantRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// SortReadings returns a copy of readings with the general meter first,
// then by tenant order and space name. Unknown tenants go last.
func SortReadings(readings []core.MeterReading, tenants []core.Tenant) []core.MeterReading {
	rank := make(map[string]int, len(tenants))
	for i, t := range SortTenants(tenants) {
		rank[t.ID] = i
	}
	pos := func(r core.MeterReading) int {
		if r.TenantID == nil {
			return -1
		}
		if p, ok := rank[*r.TenantID]; ok {
			return p
		}
		return len(tenants)
	}
	out := append([]core.MeterReading(nil), readings...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := pos(out[i]), pos(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i].Space < out[j].Space
	})
	return out
}

// TenantNames maps tenant ids to display names.
func TenantNames(tenants []core.Tenant) map[string]string {
	out := make(map[string]string, len(tenants))
	for _, t := range tenants {
		out[t.ID] = t.Name
	}
	return out
}
