// Package temporal provides the partial-precision date value used to anchor
// spans. A Date is a year with an optional month and day and a declared
// precision; fields beyond the precision are ignored for comparison even when
// physically present (legacy records sometimes carry them).
package temporal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rich13/lifespan-beta-sub017/errors"
)

// Precision declares how much of a Date is meaningful.
type Precision string

const (
	PrecisionYear  Precision = "year"
	PrecisionMonth Precision = "month"
	PrecisionDay   Precision = "day"
)

// IsValidPrecision returns true if the string is a recognised precision.
func IsValidPrecision(s string) bool {
	switch Precision(s) {
	case PrecisionYear, PrecisionMonth, PrecisionDay:
		return true
	default:
		return false
	}
}

// Date is a partial-precision calendar date. Month and Day are 0 when unset.
type Date struct {
	Year      int       `json:"year"`
	Month     int       `json:"month,omitempty"`
	Day       int       `json:"day,omitempty"`
	Precision Precision `json:"precision"`
}

// NewYear returns a year-precision date.
func NewYear(year int) Date {
	return Date{Year: year, Precision: PrecisionYear}
}

// NewMonth returns a month-precision date.
func NewMonth(year, month int) Date {
	return Date{Year: year, Month: month, Precision: PrecisionMonth}
}

// NewDay returns a day-precision date.
func NewDay(year, month, day int) Date {
	return Date{Year: year, Month: month, Day: day, Precision: PrecisionDay}
}

// FromTime converts a time.Time to a day-precision date.
func FromTime(t time.Time) Date {
	return NewDay(t.Year(), int(t.Month()), t.Day())
}

// Today returns the current date at day precision.
func Today() Date {
	return FromTime(time.Now())
}

// Validate checks that the date denotes a real calendar instant at its
// declared precision. Leap years are respected.
func (d Date) Validate() error {
	switch d.Precision {
	case PrecisionYear:
		return nil
	case PrecisionMonth:
		if d.Month < 1 || d.Month > 12 {
			return errors.Wrapf(errors.ErrInvalidDate, "month %d out of range", d.Month)
		}
		return nil
	case PrecisionDay:
		if d.Month < 1 || d.Month > 12 {
			return errors.Wrapf(errors.ErrInvalidDate, "month %d out of range", d.Month)
		}
		if d.Day < 1 || d.Day > daysInMonth(d.Year, d.Month) {
			return errors.Wrapf(errors.ErrInvalidDate, "day %d invalid for %04d-%02d", d.Day, d.Year, d.Month)
		}
		return nil
	default:
		return errors.Wrapf(errors.ErrInvalidDate, "unknown precision %q", d.Precision)
	}
}

func daysInMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	case 2:
		if isLeapYear(year) {
			return 29
		}
		return 28
	default:
		return 0
	}
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// normalized returns the comparison key for the date: fields beyond the
// declared precision are dropped, and a missing month or day is substituted
// with 1 so a year-precision date compares as its first implied instant.
func (d Date) normalized() (year, month, day int) {
	year = d.Year
	month, day = 1, 1
	if d.Precision == PrecisionMonth || d.Precision == PrecisionDay {
		if d.Month > 0 {
			month = d.Month
		}
	}
	if d.Precision == PrecisionDay {
		if d.Day > 0 {
			day = d.Day
		}
	}
	return year, month, day
}

// Compare returns -1, 0 or 1 as d sorts before, equal to or after other
// under normalized partial-date comparison.
func (d Date) Compare(other Date) int {
	ay, am, ad := d.normalized()
	by, bm, bd := other.normalized()
	if ay != by {
		return sign(ay - by)
	}
	if am != bm {
		return sign(am - bm)
	}
	return sign(ad - bd)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// coarser returns the less precise of two precisions.
func coarser(a, b Precision) Precision {
	rank := func(p Precision) int {
		switch p {
		case PrecisionDay:
			return 3
		case PrecisionMonth:
			return 2
		default:
			return 1
		}
	}
	if rank(a) <= rank(b) {
		return a
	}
	return b
}

// truncate drops components beyond the given precision.
func (d Date) truncate(p Precision) Date {
	out := Date{Year: d.Year, Precision: p}
	if p == PrecisionMonth || p == PrecisionDay {
		out.Month = d.Month
	}
	if p == PrecisionDay {
		out.Day = d.Day
	}
	return out
}

// CompareCoarse compares two dates after truncating both to the coarser of
// their precisions. Used for the end>=start span invariant, where a
// month-precision end in the same month as a day-precision start must not be
// judged earlier than the start.
func (d Date) CompareCoarse(other Date) int {
	p := coarser(d.Precision, other.Precision)
	return d.truncate(p).Compare(other.truncate(p))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool { return d.Compare(other) > 0 }

// Equal reports whether d and other denote the same normalized instant.
func (d Date) Equal(other Date) bool { return d.Compare(other) == 0 }

// String renders the date at its precision: "1969", "1969-07" or "1969-07-20".
func (d Date) String() string {
	switch d.Precision {
	case PrecisionMonth:
		return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
	case PrecisionDay:
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	default:
		return fmt.Sprintf("%04d", d.Year)
	}
}

// Parse reads a date in one of the String() forms and validates it.
// Precision is inferred from the number of components.
func Parse(s string) (Date, error) {
	d, err := ParseLenient(s)
	if err != nil {
		return Date{}, err
	}
	if err := d.Validate(); err != nil {
		return Date{}, err
	}
	return d, nil
}

// ParseLenient reads a date without validating it as a real calendar
// instant. Storage uses this so legacy records with impossible dates can
// still be scanned; readers that care call Validate and exclude offenders.
func ParseLenient(s string) (Date, error) {
	// A leading "-" is a BC year sign, not a component separator.
	rest, negativeYear := strings.CutPrefix(s, "-")

	parts := strings.Split(rest, "-")
	if len(parts) < 1 || len(parts) > 3 {
		return Date{}, errors.Wrapf(errors.ErrInvalidDate, "cannot parse %q", s)
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, errors.Wrapf(errors.ErrInvalidDate, "cannot parse %q", s)
		}
		nums[i] = n
	}
	if negativeYear {
		nums[0] = -nums[0]
	}

	var d Date
	switch len(nums) {
	case 1:
		d = NewYear(nums[0])
	case 2:
		d = NewMonth(nums[0], nums[1])
	case 3:
		d = NewDay(nums[0], nums[1], nums[2])
	}
	return d, nil
}
