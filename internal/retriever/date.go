package retriever

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// StartDate is the first date available in the TIGGE archive.
var StartDate = Date{Year: 2007, Month: time.March, Day: 5}

// Date is a calendar date without a time of day or location.
// The zero value reports IsZero and is treated as "unset" by options.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()

	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a date in YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}

	return DateOf(t), nil
}

// Decode implements envconfig.Decoder.
func (d *Date) Decode(value string) error {
	if value == "" {
		*d = Date{}

		return nil
	}

	parsed, err := ParseDate(value)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days after d. Out of range fields are normalised,
// so AddDays(0) on 2007-02-31 yields 2007-03-03.
func (d Date) AddDays(n int) Date {
	return DateOf(d.time().AddDate(0, 0, n))
}

// Compare returns -1, 0 or +1 as d is before, equal to or after other.
func (d Date) Compare(other Date) int {
	return d.time().Compare(other.time())
}

func (d Date) Before(other Date) bool {
	return d.Compare(other) < 0
}

func (d Date) After(other Date) bool {
	return d.Compare(other) > 0
}

// DaysUntil returns the number of whole days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.time().Sub(d.time()).Hours() / 24)
}

func (d Date) String() string {
	return d.time().Format(dateLayout)
}
