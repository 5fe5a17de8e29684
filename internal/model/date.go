package model

import (
	"fmt"
	"time"
)

// DateLayout is the stored form of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar day in YYYY-MM-DD form. The zero Date means "no day"
// and orders before every real date.
type Date string

// ParseDate validates s as a Date. The empty string is the absent date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date(s), nil
}

// DateOf returns the Date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// IsZero reports whether d is the absent date.
func (d Date) IsZero() bool { return d == "" }

// Time returns d as midnight UTC. The absent date returns the zero time.
func (d Date) Time() time.Time {
	if d == "" {
		return time.Time{}
	}
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

// Compare orders dates ascending with the absent date first.
// The fixed-width layout makes byte order chronological.
func (d Date) Compare(other Date) int {
	switch {
	case d < other:
		return -1
	case d > other:
		return 1
	default:
		return 0
	}
}
