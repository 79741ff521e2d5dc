package billing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"verdeling/internal/core"
)

// EntryState is the position of a month in the reading entry workflow.
type EntryState int

const (
	NoInitialReadings EntryState = iota
	HasInitialReadings
	ReadingMonthOpenForEntry
	ReadingMonthRecorded
)

func (s EntryState) String() string {
	switch s {
	case NoInitialReadings:
		return "no_initial_readings"
	case HasInitialReadings:
		return "has_initial_readings"
	case ReadingMonthOpenForEntry:
		return "open_for_entry"
	case ReadingMonthRecorded:
		return "recorded"
	default:
		return "unknown"
	}
}

// EntryEvent drives EntryState transitions.
type EntryEvent string

const (
	EventSaveInitial   EntryEvent = "save_initial"
	EventDeleteInitial EntryEvent = "delete_initial"
	EventOpenMonth     EntryEvent = "open_month"
	EventSaveMonth     EntryEvent = "save_month"
	EventEditMonth     EntryEvent = "edit_month"
	EventDeleteMonth   EntryEvent = "delete_month"
)

var ErrInvalidTransition = errors.New("invalid entry transition")

var transitions = map[EntryState]map[EntryEvent]EntryState{
	NoInitialReadings: {
		EventSaveInitial: HasInitialReadings,
	},
	HasInitialReadings: {
		EventSaveInitial:   HasInitialReadings,
		EventDeleteInitial: NoInitialReadings,
		EventOpenMonth:     ReadingMonthOpenForEntry,
	},
	ReadingMonthOpenForEntry: {
		EventSaveMonth: ReadingMonthRecorded,
	},
	ReadingMonthRecorded: {
		EventEditMonth:   ReadingMonthOpenForEntry,
		EventSaveMonth:   ReadingMonthRecorded,
		EventDeleteMonth: HasInitialReadings,
	},
}

// Transition applies ev to s.
func Transition(s EntryState, ev EntryEvent) (EntryState, error) {
	if next, ok := transitions[s][ev]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, s)
}

// StateFor derives the workflow state of target from the stored readings.
// The initial month itself reports HasInitialReadings once it is recorded.
func StateFor(initial core.YearMonth, readings []core.MeterReading, target core.YearMonth) EntryState {
	hasInitial := false
	hasTarget := false
	for _, r := range readings {
		switch r.Period() {
		case initial:
			hasInitial = true
		case target:
			hasTarget = true
		}
	}
	switch {
	case !hasInitial:
		return NoInitialReadings
	case target == initial:
		return HasInitialReadings
	case hasTarget:
		return ReadingMonthRecorded
	default:
		return ReadingMonthOpenForEntry
	}
}

// MeterEntry is one row of an entry form.
type MeterEntry struct {
	Key        core.MeterKey
	TenantID   *string
	TenantName string
	Color      string
	Space      string
	Previous   float64
	Current    float64
	HasCurrent bool
	ExistingID string
}

// Field is the form field name of the entry.
func (e MeterEntry) Field() string {
	return e.Key.String()
}

// EntryForm holds the meters to record for one month.
type EntryForm struct {
	Period  core.YearMonth
	Initial bool
	Entries []MeterEntry
}

func meterEntries(tenants []core.Tenant) []MeterEntry {
	out := []MeterEntry{{
		Key:        core.MeterKey{Space: core.GeneralSpace},
		TenantName: core.GeneralSpace,
		Space:      core.GeneralSpace,
	}}
	for _, t := range SortTenants(tenants) {
		for _, space := range t.Spaces {
			id := t.ID
			out = append(out, MeterEntry{
				Key:        core.MeterKey{TenantID: t.ID, Space: space},
				TenantID:   &id,
				TenantName: t.Name,
				Color:      t.Color,
				Space:      space,
			})
		}
	}
	return out
}

// BuildEntryForm prefills the form of ym. Previous values come from the
// latest earlier reading of each meter (0 when none exists); current values
// come from readings already saved for ym.
func BuildEntryForm(ym core.YearMonth, tenants []core.Tenant, readings []core.MeterReading) EntryForm {
	idx := NewReadingIndex(readings)
	entries := meterEntries(tenants)
	for i := range entries {
		e := &entries[i]
		e.Previous = idx.Previous(e.Key, ym)
		if r, ok := idx.At(e.Key, ym); ok {
			e.Current = r.CurrentReading
			e.HasCurrent = true
			e.ExistingID = r.ID
		}
	}
	return EntryForm{Period: ym, Entries: entries}
}

// BuildInitialForm prefills the opening readings. Previous is always 0.
func BuildInitialForm(initial core.YearMonth, tenants []core.Tenant, readings []core.MeterReading) EntryForm {
	idx := NewReadingIndex(readings)
	entries := meterEntries(tenants)
	for i := range entries {
		e := &entries[i]
		if r, ok := idx.At(e.Key, initial); ok {
			e.Current = r.CurrentReading
			e.HasCurrent = true
			e.ExistingID = r.ID
		}
	}
	return EntryForm{Period: initial, Initial: true, Entries: entries}
}

// SetCurrent stores a submitted value for the meter whose field name is
// field. Unknown fields are ignored.
func (f *EntryForm) SetCurrent(field string, value float64) bool {
	for i := range f.Entries {
		if f.Entries[i].Field() == field {
			f.Entries[i].Current = core.SanitizeReading(value)
			f.Entries[i].HasCurrent = true
			return true
		}
	}
	return false
}

// Readings converts the form into readings ready to be stored. Opening
// readings carry previous 0 and consumption 0.
func (f EntryForm) Readings(now time.Time) []core.MeterReading {
	out := make([]core.MeterReading, 0, len(f.Entries))
	for _, e := range f.Entries {
		cur := core.SanitizeReading(e.Current)
		r := core.MeterReading{
			ID:             e.ExistingID,
			Year:           f.Period.Year,
			Month:          f.Period.Month,
			TenantID:       e.TenantID,
			Space:          e.Space,
			CurrentReading: cur,
			UpdatedAt:      now,
		}
		if !f.Initial {
			r.PreviousReading = core.SanitizeReading(e.Previous)
			r.Consumption = core.Consumption(cur, r.PreviousReading)
		}
		out = append(out, r)
	}
	return out
}

// TotalConsumption sums the consumption the form would record.
func (f EntryForm) TotalConsumption() float64 {
	if f.Initial {
		return 0
	}
	var sum float64
	for _, e := range f.Entries {
		sum += core.Consumption(e.Current, e.Previous)
	}
	return sum
}

// NextEntryMonth is the month after the latest recorded one, or the month
// after the opening readings when nothing is recorded yet.
func NextEntryMonth(initial core.YearMonth, readings []core.MeterReading) core.YearMonth {
	latest := initial
	for _, r := range readings {
		if p := r.Period(); p.After(latest) {
			latest = p
		}
	}
	return latest.Next()
}

// MonthReadings groups the readings of one month.
type MonthReadings struct {
	Period    core.YearMonth
	IsInitial bool
	Readings  []core.MeterReading
}

// Consumption sums the month's recorded consumption.
func (m MonthReadings) Consumption() float64 {
	var sum float64
	for _, r := range m.Readings {
		sum += core.SanitizeReading(r.Consumption)
	}
	return sum
}

// GroupByMonth groups readings per month, most recent first.
func GroupByMonth(initial core.YearMonth, readings []core.MeterReading) []MonthReadings {
	byMonth := make(map[core.YearMonth][]core.MeterReading)
	for _, r := range readings {
		byMonth[r.Period()] = append(byMonth[r.Period()], r)
	}
	out := make([]MonthReadings, 0, len(byMonth))
	for ym, rs := range byMonth {
		out = append(out, MonthReadings{Period: ym, IsInitial: ym == initial, Readings: rs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.After(out[j].Period) })
	return out
}
