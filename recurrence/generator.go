package recurrence

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// Generate expands the series anchored at start into the ordered occurrence
// start instants intersecting [windowStart, windowEnd). Count is consumed
// from the series start regardless of the window, so a windowed read never
// shifts which instants exist. Unbounded patterns are expanded lazily up to
// the window only.
func (p *Pattern) Generate(start, windowStart, windowEnd time.Time) ([]time.Time, error) {
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}
	if !windowEnd.After(windowStart) {
		return nil, nil
	}
	start = start.In(loc)

	switch p.Freq {
	case Monthly, Yearly:
		return p.generateClamped(start, windowStart, windowEnd, loc), nil
	default:
		return p.generateRule(start, windowStart, windowEnd, loc)
	}
}

// generateRule covers the families rrule expresses faithfully: daily, weekly
// and the Nth-weekday variants.
func (p *Pattern) generateRule(start, windowStart, windowEnd time.Time, loc *time.Location) ([]time.Time, error) {
	opt := rrule.ROption{
		Dtstart:  start,
		Interval: p.Interval,
	}
	if p.Count > 0 {
		opt.Count = p.Count
	}
	if p.Until != nil {
		opt.Until = p.Until.In(loc)
	}

	switch p.Freq {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = nthWeekdays(p.weekdaysOr(start.Weekday()), 0)
	case MonthlyNth:
		opt.Freq = rrule.MONTHLY
		opt.Byweekday = nthWeekdays(p.DaysOfWeek, p.WeekOfMonth)
	case YearlyNth:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(p.MonthOfYear)}
		opt.Byweekday = nthWeekdays(p.DaysOfWeek, p.WeekOfMonth)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}

	var out []time.Time
	for _, t := range r.Between(windowStart, windowEnd, true) {
		t = t.In(loc)
		if !t.Before(windowEnd) {
			continue
		}
		// rrule treats UNTIL as inclusive; the series bound is exclusive.
		if p.Until != nil && !t.Before(*p.Until) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// generateClamped steps through months directly so a day-of-month larger
// than the candidate month lands on that month's last day instead of being
// skipped, which RRULE cannot express.
func (p *Pattern) generateClamped(start, windowStart, windowEnd time.Time, loc *time.Location) []time.Time {
	stepMonths := p.Interval
	if p.Freq == Yearly {
		stepMonths = p.Interval * 12
	}
	day := p.DayOfMonth
	if day == 0 {
		day = start.Day()
	}
	month := start.Month()
	if p.Freq == Yearly && p.MonthOfYear != 0 {
		month = p.MonthOfYear
	}
	hour, min, sec := start.Clock()

	var out []time.Time
	n := 0
	for i := 0; ; i++ {
		y, m := addMonths(start.Year(), month, i*stepMonths)
		d := day
		if last := daysIn(y, m); d > last {
			d = last
		}
		t := time.Date(y, m, d, hour, min, sec, start.Nanosecond(), loc)
		// The anchor month can resolve to an instant before the series
		// start (day of month earlier than the start's day); instants
		// before the start are not occurrences and do not consume Count.
		if t.Before(start) {
			continue
		}
		n++
		if p.Count > 0 && n > p.Count {
			break
		}
		if p.Until != nil && !t.Before(*p.Until) {
			break
		}
		if !t.Before(windowEnd) {
			break
		}
		if !t.Before(windowStart) {
			out = append(out, t)
		}
	}
	return out
}

// Contains reports whether instant is one of the series' generated
// occurrence starts.
func (p *Pattern) Contains(start, instant time.Time) (bool, error) {
	occ, err := p.Generate(start, instant, instant.Add(time.Second))
	if err != nil {
		return false, err
	}
	for _, t := range occ {
		if t.Equal(instant) {
			return true, nil
		}
	}
	return false, nil
}

// OccurrenceEnd derives the end instant of the occurrence starting at
// occStart. The master's start and end are read as wall-clock values in the
// pattern zone and re-anchored on the occurrence date, so an occurrence on
// the far side of a DST transition keeps its local end time rather than a
// fixed UTC duration.
func (p *Pattern) OccurrenceEnd(masterStart, masterEnd, occStart time.Time) time.Time {
	loc, err := p.Location()
	if err != nil {
		return occStart.Add(masterEnd.Sub(masterStart))
	}
	s := masterStart.In(loc)
	e := masterEnd.In(loc)
	o := occStart.In(loc)
	days := calendarDays(s, e)
	hour, min, sec := e.Clock()
	return time.Date(o.Year(), o.Month(), o.Day()+days, hour, min, sec, e.Nanosecond(), loc)
}

// weekdaysOr returns the configured weekday set, defaulting to the single
// fallback day when empty.
func (p *Pattern) weekdaysOr(fallback time.Weekday) []time.Weekday {
	if len(p.DaysOfWeek) > 0 {
		return p.DaysOfWeek
	}
	return []time.Weekday{fallback}
}

var rruleWeekdays = [...]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

func nthWeekdays(days []time.Weekday, nth int) []rrule.Weekday {
	sorted := append([]time.Weekday(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]rrule.Weekday, 0, len(sorted))
	for _, wd := range sorted {
		rw := rruleWeekdays[wd]
		if nth != 0 {
			rw = rw.Nth(nth)
		}
		out = append(out, rw)
	}
	return out
}

func addMonths(year int, month time.Month, add int) (int, time.Month) {
	m := int(month) - 1 + add
	return year + m/12, time.Month(m%12 + 1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// calendarDays counts whole calendar-day boundaries between a and b, both
// interpreted in the zone they carry.
func calendarDays(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}
