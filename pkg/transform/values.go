package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are the date formats seen in legacy records, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"20060102",
	time.RFC3339,
}

// parseDate parses a legacy date. Blank input yields the zero time.
// Results are normalized to UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseDecimalMinor converts a decimal amount like "19.99" into minor units
// (1999). At most two fraction digits are accepted.
func parseDecimalMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if s[0] == '-' {
		negative = true
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("amount %q must have one or two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("amount %q is not a decimal number", s)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > (math.MaxInt64-99)/100 {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a decimal number", s)
	}

	minor := units*100 + cents
	if negative {
		minor = -minor
	}
	return minor, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// code normalizes a legacy code for lookup.
func code(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// collapseSpace trims s and collapses inner whitespace runs to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
