// Package recurrence describes recurring event series and expands them into
// concrete occurrence instants. All arithmetic happens in the pattern's IANA
// zone, so wall-clock times survive DST transitions.
package recurrence

import (
	"fmt"
	"time"
)

// Frequency selects the recurrence rule family.
type Frequency int

const (
	Daily Frequency = iota
	Weekly
	Monthly    // fixed day of month, clamped to month length
	MonthlyNth // Nth weekday of month, e.g. third Tuesday
	Yearly     // fixed month + day of month, clamped
	YearlyNth  // Nth weekday of a fixed month
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case MonthlyNth:
		return "monthlynth"
	case Yearly:
		return "yearly"
	case YearlyNth:
		return "yearlynth"
	}
	return fmt.Sprintf("frequency(%d)", int(f))
}

// Pattern describes one recurring series. The series start instant is not
// part of the pattern; it is supplied to Generate by the owning event.
type Pattern struct {
	Freq     Frequency
	Interval int // repetition step, unit depends on Freq

	DaysOfWeek  []time.Weekday // Weekly and Nth variants
	WeekOfMonth int            // Nth variants: 1..5, -1 = last
	DayOfMonth  int            // Monthly/Yearly: 1..31, clamped per month
	MonthOfYear time.Month     // Yearly variants

	TimeZone string // IANA identifier, required

	// At most one of Count/Until bounds the series; both zero-valued means
	// the series has no end date.
	Count int
	Until *time.Time
}

// Location resolves the pattern's zone.
func (p *Pattern) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", p.TimeZone, err)
	}
	return loc, nil
}

// Bounded reports whether the series terminates on its own.
func (p *Pattern) Bounded() bool {
	return p.Count > 0 || p.Until != nil
}

// Validate checks the pattern for internal consistency. It is called before
// any graph mutation so a malformed pattern never reaches storage.
func (p *Pattern) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", p.Interval)
	}
	if p.Count > 0 && p.Until != nil {
		return fmt.Errorf("occurrence count and end time are mutually exclusive")
	}
	if p.Count < 0 {
		return fmt.Errorf("occurrence count must be positive, got %d", p.Count)
	}
	if p.TimeZone == "" {
		return fmt.Errorf("time zone is required")
	}
	if _, err := p.Location(); err != nil {
		return err
	}

	switch p.Freq {
	case Daily:
		// interval is the only knob
	case Weekly:
		for _, wd := range p.DaysOfWeek {
			if wd < time.Sunday || wd > time.Saturday {
				return fmt.Errorf("invalid weekday %d", int(wd))
			}
		}
	case Monthly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return fmt.Errorf("day of month must be 1..31, got %d", p.DayOfMonth)
		}
	case MonthlyNth:
		if len(p.DaysOfWeek) == 0 {
			return fmt.Errorf("nth-weekday pattern requires at least one weekday")
		}
		if err := validWeekOfMonth(p.WeekOfMonth); err != nil {
			return err
		}
	case Yearly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return fmt.Errorf("day of month must be 1..31, got %d", p.DayOfMonth)
		}
		if p.MonthOfYear < time.January || p.MonthOfYear > time.December {
			return fmt.Errorf("month of year must be 1..12, got %d", int(p.MonthOfYear))
		}
	case YearlyNth:
		if len(p.DaysOfWeek) == 0 {
			return fmt.Errorf("nth-weekday pattern requires at least one weekday")
		}
		if err := validWeekOfMonth(p.WeekOfMonth); err != nil {
			return err
		}
		if p.MonthOfYear < time.January || p.MonthOfYear > time.December {
			return fmt.Errorf("month of year must be 1..12, got %d", int(p.MonthOfYear))
		}
	default:
		return fmt.Errorf("unknown frequency %d", int(p.Freq))
	}
	return nil
}

func validWeekOfMonth(n int) error {
	if n == -1 || (n >= 1 && n <= 5) {
		return nil
	}
	return fmt.Errorf("week of month must be 1..5 or -1, got %d", n)
}

// Equal reports whether two patterns generate the same rule. Nil patterns
// compare equal to each other.
func (p *Pattern) Equal(o *Pattern) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Freq != o.Freq || p.Interval != o.Interval ||
		p.WeekOfMonth != o.WeekOfMonth || p.DayOfMonth != o.DayOfMonth ||
		p.MonthOfYear != o.MonthOfYear || p.TimeZone != o.TimeZone ||
		p.Count != o.Count {
		return false
	}
	if (p.Until == nil) != (o.Until == nil) {
		return false
	}
	if p.Until != nil && !p.Until.Equal(*o.Until) {
		return false
	}
	if len(p.DaysOfWeek) != len(o.DaysOfWeek) {
		return false
	}
	for i, wd := range p.DaysOfWeek {
		if o.DaysOfWeek[i] != wd {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	c := *p
	if p.Until != nil {
		u := *p.Until
		c.Until = &u
	}
	c.DaysOfWeek = append([]time.Weekday(nil), p.DaysOfWeek...)
	return &c
}
