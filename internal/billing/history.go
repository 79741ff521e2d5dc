package billing

import (
	"math"
	"sort"

	"verdeling/internal/core"
)

// ReadingIndex holds, per meter, the readings in chronological order. Build
// it once per pass and query it for every meter of a form.
type ReadingIndex struct {
	byMeter map[core.MeterKey][]core.MeterReading
}

// NewReadingIndex sorts a copy of readings per meter by (year, month).
func NewReadingIndex(readings []core.MeterReading) *ReadingIndex {
	idx := &ReadingIndex{byMeter: make(map[core.MeterKey][]core.MeterReading)}
	for _, r := range readings {
		k := r.MeterKey()
		idx.byMeter[k] = append(idx.byMeter[k], r)
	}
	for k, seq := range idx.byMeter {
		sort.SliceStable(seq, func(i, j int) bool {
			return seq[i].Period().Before(seq[j].Period())
		})
		idx.byMeter[k] = seq
	}
	return idx
}

// Meters returns the keys of all indexed meters.
func (idx *ReadingIndex) Meters() []core.MeterKey {
	out := make([]core.MeterKey, 0, len(idx.byMeter))
	for k := range idx.byMeter {
		out = append(out, k)
	}
	return out
}

// Sequence returns the chronological readings of one meter.
func (idx *ReadingIndex) Sequence(key core.MeterKey) []core.MeterReading {
	return idx.byMeter[key]
}

// Before returns the latest reading of key strictly before ym.
func (idx *ReadingIndex) Before(key core.MeterKey, ym core.YearMonth) (core.MeterReading, bool) {
	seq := idx.byMeter[key]
	// first position whose period is not before ym
	i := sort.Search(len(seq), func(i int) bool {
		return !seq[i].Period().Before(ym)
	})
	if i == 0 {
		return core.MeterReading{}, false
	}
	return seq[i-1], true
}

// Previous returns the current value of the latest reading of key before
// ym, or 0 when the meter has no earlier reading.
func (idx *ReadingIndex) Previous(key core.MeterKey, ym core.YearMonth) float64 {
	r, ok := idx.Before(key, ym)
	if !ok {
		return 0
	}
	return r.CurrentReading
}

// At returns the reading of key in exactly ym.
func (idx *ReadingIndex) At(key core.MeterKey, ym core.YearMonth) (core.MeterReading, bool) {
	seq := idx.byMeter[key]
	i := sort.Search(len(seq), func(i int) bool {
		return !seq[i].Period().Before(ym)
	})
	if i < len(seq) && seq[i].Period() == ym {
		return seq[i], true
	}
	return core.MeterReading{}, false
}

// ChainBreak is a reading whose previous value no longer matches the current
// value of the meter's preceding reading, usually because an earlier month
// was edited afterwards.
type ChainBreak struct {
	Reading  core.MeterReading
	Expected float64
}

// FindChainBreaks reports every reading whose previous value differs from
// the preceding reading of the same meter. Results are ordered by month.
func FindChainBreaks(readings []core.MeterReading) []ChainBreak {
	idx := NewReadingIndex(readings)
	var out []ChainBreak
	for _, seq := range idx.byMeter {
		for i := 1; i < len(seq); i++ {
			want := seq[i-1].CurrentReading
			if math.Abs(seq[i].PreviousReading-want) > 1e-9 {
				out = append(out, ChainBreak{Reading: seq[i], Expected: want})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Reading.Period(), out[j].Reading.Period()
		if pi != pj {
			return pi.Before(pj)
		}
		return out[i].Reading.MeterKey().String() < out[j].Reading.MeterKey().String()
	})
	return out
}
