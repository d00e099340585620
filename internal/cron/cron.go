// Package cron evaluates 5-field cron expressions supporting only `*` and
// exact numeric values per field (no ranges, lists or steps).
package cron

import (
	"strconv"
	"strings"
	"time"
)

// maxSearch bounds the minute-by-minute scan to one year.
const maxSearch = 525600

type field struct {
	any   bool
	value int
}

func parseField(raw string) (field, bool) {
	if raw == "*" {
		return field{any: true}, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return field{}, false
	}
	return field{value: v}, true
}

func (f field) matches(v int) bool {
	return f.any || f.value == v
}

type expression struct {
	minute, hour, dom, month, dow field
}

func parse(expr string) (expression, bool) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return expression{}, false
	}
	var e expression
	fields := []*field{&e.minute, &e.hour, &e.dom, &e.month, &e.dow}
	for i, part := range parts {
		f, ok := parseField(part)
		if !ok {
			return expression{}, false
		}
		*fields[i] = f
	}
	return e, true
}

func (e expression) matches(t time.Time) bool {
	return e.minute.matches(t.Minute()) &&
		e.hour.matches(t.Hour()) &&
		e.dom.matches(t.Day()) &&
		e.month.matches(int(t.Month())) &&
		e.dow.matches(int(t.Weekday()))
}

// Valid reports whether expr parses as a supported 5-field expression.
func Valid(expr string) bool {
	_, ok := parse(expr)
	return ok
}

// Next returns the earliest instant after ref (truncated to the minute)
// matching expr, or nil when the expression is malformed or nothing
// matches within a year. Day-of-week uses 0 for Sunday.
func Next(expr string, ref time.Time) *time.Time {
	e, ok := parse(expr)
	if !ok {
		return nil
	}
	t := ref.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < maxSearch; i++ {
		if e.matches(t) {
			return &t
		}
		t = t.Add(time.Minute)
	}
	return nil
}
