package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// YearMonth is a calendar month. Month is 1-based.
type YearMonth struct {
	Year  int
	Month int
}

func NewYearMonth(year, month int) YearMonth {
	return YearMonth{Year: year, Month: month}
}

// CurrentYearMonth returns the month containing t.
func CurrentYearMonth(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: int(t.Month())}
}

// ParseYearMonth parses "2025-08".
func ParseYearMonth(s string) (YearMonth, error) {
	y, m, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return YearMonth{}, fmt.Errorf("parse year-month %q: expected YYYY-MM", s)
	}
	year, err := strconv.Atoi(y)
	if err != nil {
		return YearMonth{}, fmt.Errorf("parse year-month %q: %w", s, ErrInvalidYear)
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return YearMonth{}, fmt.Errorf("parse year-month %q: %w", s, ErrInvalidMonth)
	}
	ym := YearMonth{Year: year, Month: month}
	if err := ym.Validate(); err != nil {
		return YearMonth{}, fmt.Errorf("parse year-month %q: %w", s, err)
	}
	return ym, nil
}

func (ym YearMonth) Validate() error {
	if ym.Year < 2000 || ym.Year > 2100 {
		return ErrInvalidYear
	}
	if ym.Month < 1 || ym.Month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Index maps the month onto a monotonically increasing integer.
func (ym YearMonth) Index() int {
	return ym.Year*12 + ym.Month - 1
}

func (ym YearMonth) Before(o YearMonth) bool { return ym.Index() < o.Index() }
func (ym YearMonth) After(o YearMonth) bool  { return ym.Index() > o.Index() }

func (ym YearMonth) Next() YearMonth {
	if ym.Month == 12 {
		return YearMonth{Year: ym.Year + 1, Month: 1}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

func (ym YearMonth) Prev() YearMonth {
	if ym.Month == 1 {
		return YearMonth{Year: ym.Year - 1, Month: 12}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month - 1}
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// Compact renders the month as YYYYMM, used in invoice references.
func (ym YearMonth) Compact() string {
	return fmt.Sprintf("%04d%02d", ym.Year, ym.Month)
}

// Label renders the month in Dutch, e.g. "Augustus 2025".
func (ym YearMonth) Label() string {
	return MonthName(ym.Month) + " " + strconv.Itoa(ym.Year)
}

var monthsNL = [12]string{
	"Januari", "Februari", "Maart", "April", "Mei", "Juni",
	"Juli", "Augustus", "September", "Oktober", "November", "December",
}

// MonthName returns the Dutch month name for a 1-based month.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthsNL[month-1]
}
