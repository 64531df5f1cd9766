// Package datetime provides the MM-DD calendar values used by train
// schedules. Arithmetic assumes a non-leap Gregorian year; only the
// summer months are exercised in practice.
package datetime

import "errors"

// MinutesPerDay is the number of minutes in a day.
const MinutesPerDay = 1440

var errBadFormat = errors.New("datetime: bad format")

var daysInMonth = [...]int{31, 31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

var daysBefore = [...]int{0, 0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

// Date represents a month-day calendar date.
type Date struct {
	Month int
	Day   int
}

// ParseDate parses a date in "MM-DD" form.
func ParseDate(s string) (Date, error) {
	if len(s) != 5 || s[2] != '-' || !twoDigits(s[0], s[1]) || !twoDigits(s[3], s[4]) {
		return Date{}, errBadFormat
	}

	return Date{
		Month: int(s[0]-'0')*10 + int(s[1]-'0'),
		Day:   int(s[3]-'0')*10 + int(s[4]-'0'),
	}, nil
}

func (d Date) String() string {
	return twoString(d.Month) + "-" + twoString(d.Day)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	d.Day += n

	for d.Day > daysInMonth[d.Month] {
		d.Day -= daysInMonth[d.Month]
		d.Month++
	}

	return d
}

// SubDays returns the date n days before d.
func (d Date) SubDays(n int) Date {
	d.Day -= n

	for d.Day < 1 {
		d.Month--
		d.Day += daysInMonth[d.Month]
	}

	return d
}

// DaysSince returns the number of days from o to d.
func (d Date) DaysSince(o Date) int {
	return d.Day - o.Day + daysBefore[d.Month] - daysBefore[o.Month]
}

// Before reports whether d is earlier than o.
func (d Date) Before(o Date) bool {
	return d.Month < o.Month || d.Month == o.Month && d.Day < o.Day
}

// Time represents a time of day as minutes since midnight.
type Time int

// ParseTime parses a time in "HH:MM" form.
func ParseTime(s string) (Time, error) {
	if len(s) != 5 || s[2] != ':' || !twoDigits(s[0], s[1]) || !twoDigits(s[3], s[4]) {
		return 0, errBadFormat
	}

	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return Time(h*60 + m), nil
}

func (t Time) String() string {
	return twoString(int(t)/60) + ":" + twoString(int(t)%60)
}

// DateTime represents a date with a time of day.
type DateTime struct {
	Date Date
	Time Time
}

// At combines a date with a minute count, carrying whole days of t into
// the date. t may exceed MinutesPerDay, as schedule offsets do.
func At(d Date, t Time) DateTime {
	if t >= MinutesPerDay {
		d = d.AddDays(int(t) / MinutesPerDay)
		t %= MinutesPerDay
	}

	return DateTime{Date: d, Time: t}
}

func (dt DateTime) String() string {
	return dt.Date.String() + " " + dt.Time.String()
}

// Sub returns the number of minutes from o to dt.
func (dt DateTime) Sub(o DateTime) int {
	return int(dt.Time) - int(o.Time) + dt.Date.DaysSince(o.Date)*MinutesPerDay
}

// Before reports whether dt is earlier than o.
func (dt DateTime) Before(o DateTime) bool {
	return dt.Date.Before(o.Date) || dt.Date == o.Date && dt.Time < o.Time
}

func twoDigits(a, b byte) bool {
	return a >= '0' && a <= '9' && b >= '0' && b <= '9'
}

func twoString(x int) string {
	return string([]byte{byte(x/10%10) + '0', byte(x%10) + '0'})
}
