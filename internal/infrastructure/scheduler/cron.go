package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Common expressions, evaluated in the application timezone. The review
// digest defaults to EveryDay9AM so reviewers see the queue before the
// morning ward round.
const (
	EveryMinute = "* * * * *"
	EveryHour   = "0 * * * *"
	EveryDay9AM = "0 9 * * *"
	EveryMonday = "0 0 * * 1"
)

// CronExpression is a parsed five-field cron spec
// (minute hour day-of-month month day-of-week). Each field is expanded
// at parse time into the sorted set of values it covers. It implements
// Schedule and is handed to Register directly.
type CronExpression struct {
	raw      string
	minutes  []int
	hours    []int
	days     []int
	months   []int
	weekdays []int
}

// cronFields names the five fields and their valid ranges, in order.
var cronFields = []struct {
	name string
	lo   int
	hi   int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 6},
}

// ParseCronExpression parses a five-field cron expression. Supported
// syntax per field: "*", single values, ranges "a-b", steps "*/n" and
// "a-b/n", and comma lists. Month and weekday names ("jan", "mon") are
// not supported.
func ParseCronExpression(expr string) (*CronExpression, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("cron %q: want %d fields, got %d", expr, len(cronFields), len(parts))
	}

	expanded := make([][]int, len(cronFields))
	for i, part := range parts {
		values, err := expandField(part, cronFields[i].lo, cronFields[i].hi)
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", expr, cronFields[i].name, err)
		}
		expanded[i] = values
	}

	return &CronExpression{
		raw:      expr,
		minutes:  expanded[0],
		hours:    expanded[1],
		days:     expanded[2],
		months:   expanded[3],
		weekdays: expanded[4],
	}, nil
}

// MustParseCronExpression is ParseCronExpression for the preset
// constants; it panics on a bad expression.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

// expandField turns one cron field into the sorted, deduplicated set of
// matching values within [lo, hi].
func expandField(field string, lo, hi int) ([]int, error) {
	seen := make(map[int]struct{})

	for _, part := range strings.Split(field, ",") {
		start, end, step, err := parseRange(part, lo, hi)
		if err != nil {
			return nil, err
		}
		for v := start; v <= end; v += step {
			seen[v] = struct{}{}
		}
	}

	values := make([]int, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Ints(values)
	return values, nil
}

// parseRange decodes one comma-separated element: "*", "a" or "a-b",
// optionally followed by "/step".
func parseRange(part string, lo, hi int) (start, end, step int, err error) {
	step = 1
	if base, stepStr, found := strings.Cut(part, "/"); found {
		part = base
		step, err = strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid step %q", stepStr)
		}
	}

	switch {
	case part == "*":
		return lo, hi, step, nil

	case strings.Contains(part, "-"):
		fromStr, toStr, _ := strings.Cut(part, "-")
		if start, err = parseValue(fromStr, lo, hi); err != nil {
			return 0, 0, 0, err
		}
		if end, err = parseValue(toStr, lo, hi); err != nil {
			return 0, 0, 0, err
		}
		if end < start {
			return 0, 0, 0, fmt.Errorf("descending range %q", part)
		}
		return start, end, step, nil

	default:
		if start, err = parseValue(part, lo, hi); err != nil {
			return 0, 0, 0, err
		}
		// "a/step" counts from a to the top of the range.
		if step > 1 {
			return start, hi, step, nil
		}
		return start, start, 1, nil
	}
}

func parseValue(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %d outside %d-%d", v, lo, hi)
	}
	return v, nil
}

// String returns the expression as written.
func (c *CronExpression) String() string {
	return c.raw
}

// A year of minutes. Bounds Next against expressions that can never
// fire, like "0 0 30 2 *".
const maxScan = 366 * 24 * 60

// Next returns the first matching minute strictly after t, or the zero
// time if nothing matches within a year.
func (c *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)

	for i := 0; i < maxScan; i++ {
		if c.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// matches reports whether t is a firing minute. Day-of-month and
// day-of-week must both match; the Vixie-cron either-or rule for the
// two day fields is not implemented.
func (c *CronExpression) matches(t time.Time) bool {
	return containsInt(c.minutes, t.Minute()) &&
		containsInt(c.hours, t.Hour()) &&
		containsInt(c.days, t.Day()) &&
		containsInt(c.months, int(t.Month())) &&
		containsInt(c.weekdays, int(t.Weekday()))
}

// containsInt does a binary search over an expanded, sorted field.
func containsInt(sorted []int, v int) bool {
	i := sort.SearchInts(sorted, v)
	return i < len(sorted) && sorted[i] == v
}
