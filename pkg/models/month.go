package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidMonth is returned when a value is not a zero-padded YYYY-MM month.
var ErrInvalidMonth = errors.New("invalid month")

var monthPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// Month is a calendar month in canonical "YYYY-MM" form.
//
// The form is fixed-width and zero-padded, so plain string comparison
// orders months chronologically. Only ParseMonth and MonthOf construct
// values that keep that guarantee.
type Month string

func ParseMonth(s string) (Month, error) {
	m := monthPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	year, _ := strconv.Atoi(m[1])
	mon, _ := strconv.Atoi(m[2])
	return MonthOf(year, mon)
}

func MonthOf(year, month int) (Month, error) {
	if year < 1000 || year > 9999 || month < 1 || month > 12 {
		return "", fmt.Errorf("%w: year=%d month=%d", ErrInvalidMonth, year, month)
	}
	return Month(fmt.Sprintf("%04d-%02d", year, month)), nil
}

// MonthFromDate accepts "YYYY-MM-DD" (or anything starting with YYYY-MM)
// and truncates it to its month.
func MonthFromDate(s string) (Month, error) {
	if len(s) < 7 {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return ParseMonth(s[:7])
}

func (m Month) String() string { return string(m) }

func (m Month) Before(other Month) bool { return m < other }
