package targeting

import (
	"strconv"
	"strings"
	"time"

	"ad-decision-engine/internal/visitor"
)

// Handler decides whether a visitor context satisfies one condition.
type Handler interface {
	Matches(c visitor.Context, cond Condition, values []string) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c visitor.Context, cond Condition, values []string) bool

func (f HandlerFunc) Matches(c visitor.Context, cond Condition, values []string) bool {
	return f(c, cond, values)
}

// Text compares string attributes case-insensitively. Multi-valued
// attributes (categories, tags) match when any of their values match.
func Text(get func(visitor.Context) []string) Handler {
	return HandlerFunc(func(c visitor.Context, cond Condition, values []string) bool {
		have := get(c)
		switch cond {
		case Is, InList:
			return anyPair(have, values, strings.EqualFold)
		case IsNot, NotInList:
			return !anyPair(have, values, strings.EqualFold)
		case Contains:
			return anyPair(have, values, containsFold)
		case NotContains:
			return !anyPair(have, values, containsFold)
		default:
			return false
		}
	})
}

// Number compares a numeric attribute. A missing attribute or a rule without
// any parsable value never matches.
func Number(get func(visitor.Context) (float64, bool)) Handler {
	return HandlerFunc(func(c visitor.Context, cond Condition, values []string) bool {
		n, ok := get(c)
		if !ok {
			return false
		}
		nums := parseNumbers(values)
		if len(nums) == 0 {
			return false
		}
		switch cond {
		case Is, InList:
			return containsNum(nums, n)
		case IsNot, NotInList:
			return !containsNum(nums, n)
		case GreaterThan:
			return n > nums[0]
		case LessThan:
			return n < nums[0]
		default:
			return false
		}
	})
}

// Date compares the context timestamp on calendar-day granularity.
// Values are "2006-01-02" or RFC 3339 timestamps.
func Date() Handler {
	return HandlerFunc(func(c visitor.Context, cond Condition, values []string) bool {
		ts := c.Timestamp()
		today := dayOf(ts, ts.Location())
		var days []time.Time
		for _, v := range values {
			if d, ok := parseDay(v, ts.Location()); ok {
				days = append(days, d)
			}
		}
		if len(days) == 0 {
			return false
		}
		switch cond {
		case Is, InList:
			for _, d := range days {
				if d.Equal(today) {
					return true
				}
			}
			return false
		case IsNot, NotInList:
			for _, d := range days {
				if d.Equal(today) {
					return false
				}
			}
			return true
		case GreaterThan:
			return today.After(days[0])
		case LessThan:
			return today.Before(days[0])
		default:
			return false
		}
	})
}

func parseDay(v string, loc *time.Location) (time.Time, bool) {
	if t, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return dayOf(t, loc), true
	}
	return time.Time{}, false
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func anyPair(have, want []string, eq func(a, b string) bool) bool {
	for _, h := range have {
		for _, w := range want {
			if eq(h, w) {
				return true
			}
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	if sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func parseNumbers(values []string) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func containsNum(nums []float64, n float64) bool {
	for _, v := range nums {
		if v == n {
			return true
		}
	}
	return false
}

func one(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
