package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var weekdayCodes = [...]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

var weekdayByCode = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday,
	"WE": time.Wednesday, "TH": time.Thursday, "FR": time.Friday,
	"SA": time.Saturday,
}

// RRule renders the pattern as an RFC 5545 RRULE value (without the
// property name). Monthly and Yearly patterns export their day of month as
// BYMONTHDAY; the clamp-to-last-day behavior for short months is a
// generation-side extension that plain RRULE consumers will interpret as
// skipping those months.
func (p *Pattern) RRule() string {
	var b strings.Builder
	switch p.Freq {
	case Daily:
		b.WriteString("FREQ=DAILY")
	case Weekly:
		b.WriteString("FREQ=WEEKLY")
	case Monthly, MonthlyNth:
		b.WriteString("FREQ=MONTHLY")
	case Yearly, YearlyNth:
		b.WriteString("FREQ=YEARLY")
	}
	if p.Interval > 1 {
		fmt.Fprintf(&b, ";INTERVAL=%d", p.Interval)
	}
	switch p.Freq {
	case Weekly:
		if len(p.DaysOfWeek) > 0 {
			fmt.Fprintf(&b, ";BYDAY=%s", joinWeekdays(p.DaysOfWeek, 0))
		}
	case Monthly:
		fmt.Fprintf(&b, ";BYMONTHDAY=%d", p.DayOfMonth)
	case MonthlyNth:
		fmt.Fprintf(&b, ";BYDAY=%s", joinWeekdays(p.DaysOfWeek, p.WeekOfMonth))
	case Yearly:
		fmt.Fprintf(&b, ";BYMONTH=%d;BYMONTHDAY=%d", int(p.MonthOfYear), p.DayOfMonth)
	case YearlyNth:
		fmt.Fprintf(&b, ";BYMONTH=%d;BYDAY=%s", int(p.MonthOfYear), joinWeekdays(p.DaysOfWeek, p.WeekOfMonth))
	}
	if p.Count > 0 {
		fmt.Fprintf(&b, ";COUNT=%d", p.Count)
	}
	if p.Until != nil {
		fmt.Fprintf(&b, ";UNTIL=%s", p.Until.UTC().Format("20060102T150405Z"))
	}
	return b.String()
}

func joinWeekdays(days []time.Weekday, nth int) string {
	parts := make([]string, 0, len(days))
	for _, wd := range days {
		if nth != 0 {
			parts = append(parts, fmt.Sprintf("%d%s", nth, weekdayCodes[wd]))
		} else {
			parts = append(parts, weekdayCodes[wd])
		}
	}
	return strings.Join(parts, ",")
}

// ParseRRule parses the subset of RRULE values RRule emits back into a
// Pattern. timeZone becomes the pattern zone.
func ParseRRule(value, timeZone string) (*Pattern, error) {
	p := &Pattern{Interval: 1, TimeZone: timeZone}
	var freq string
	var byday []string

	for _, part := range strings.Split(value, ";") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed rrule part %q", part)
		}
		switch strings.ToUpper(key) {
		case "FREQ":
			freq = strings.ToUpper(val)
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("bad INTERVAL %q: %w", val, err)
			}
			p.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("bad COUNT %q: %w", val, err)
			}
			p.Count = n
		case "UNTIL":
			t, err := time.Parse("20060102T150405Z", val)
			if err != nil {
				return nil, fmt.Errorf("bad UNTIL %q: %w", val, err)
			}
			p.Until = &t
		case "BYDAY":
			byday = strings.Split(val, ",")
		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("bad BYMONTHDAY %q: %w", val, err)
			}
			p.DayOfMonth = n
		case "BYMONTH":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("bad BYMONTH %q: %w", val, err)
			}
			p.MonthOfYear = time.Month(n)
		}
	}

	for _, code := range byday {
		nth, wd, err := parseByday(code)
		if err != nil {
			return nil, err
		}
		if nth != 0 {
			p.WeekOfMonth = nth
		}
		p.DaysOfWeek = append(p.DaysOfWeek, wd)
	}

	switch freq {
	case "DAILY":
		p.Freq = Daily
	case "WEEKLY":
		p.Freq = Weekly
	case "MONTHLY":
		if p.WeekOfMonth != 0 {
			p.Freq = MonthlyNth
		} else {
			p.Freq = Monthly
		}
	case "YEARLY":
		if p.WeekOfMonth != 0 {
			p.Freq = YearlyNth
		} else {
			p.Freq = Yearly
		}
	default:
		return nil, fmt.Errorf("unsupported FREQ %q", freq)
	}
	return p, nil
}

func parseByday(code string) (int, time.Weekday, error) {
	code = strings.TrimSpace(code)
	if len(code) < 2 {
		return 0, 0, fmt.Errorf("malformed BYDAY entry %q", code)
	}
	dayPart := code[len(code)-2:]
	wd, ok := weekdayByCode[strings.ToUpper(dayPart)]
	if !ok {
		return 0, 0, fmt.Errorf("unknown weekday %q", dayPart)
	}
	nth := 0
	if rest := code[:len(code)-2]; rest != "" {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed BYDAY ordinal %q: %w", rest, err)
		}
		nth = n
	}
	return nth, wd, nil
}
