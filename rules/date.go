package rules

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date (payroll periods never need more)
// =============================================================================

// DateLayout is the wire format for dates.
const DateLayout = "2006-01-02"

// Date is a calendar day in UTC. The zero value is "no date".
type Date struct {
	t time.Time
}

// NewDate builds a Date from its parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals in presets and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current UTC date.
func Today() Date { return DateOf(time.Now().UTC()) }

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) IsZero() bool      { return d.t.IsZero() }
func (d Date) Time() time.Time   { return d.t }

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// WINDOW - Inclusive validity range, open-ended when To is nil
// =============================================================================

// Window is the inclusive range [From, To]. A nil To never ends.
type Window struct {
	From Date
	To   *Date
}

// Contains reports whether d falls inside the window.
func (w Window) Contains(d Date) bool {
	if d.Before(w.From) {
		return false
	}
	if w.To != nil && d.After(*w.To) {
		return false
	}
	return true
}

// Overlaps reports whether two windows share at least one day.
func (w Window) Overlaps(o Window) bool {
	if w.To != nil && w.To.Before(o.From) {
		return false
	}
	if o.To != nil && o.To.Before(w.From) {
		return false
	}
	return true
}

func (w Window) String() string {
	if w.To == nil {
		return "[" + w.From.String() + ", open)"
	}
	return "[" + w.From.String() + ", " + w.To.String() + "]"
}
