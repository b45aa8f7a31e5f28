// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package hijri converts Gregorian dates to the tabular Islamic calendar and
// lists the yearly observances.
//
// The tabular calendar has a 30-year cycle with 11 leap years; odd months
// have 30 days, even months 29, and Dhu al-Hijjah gains a day in leap
// years. It may differ by a day or two from sighting-based calendars.
package hijri

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrOutOfRange is returned for dates before 1 Muharram 1 AH.
var ErrOutOfRange = errors.New("date outside the Hijri calendar")

// epochJDN is the Julian day number of 1 Muharram 1 AH (16 July 622).
const epochJDN = 1948440

// Month is a Hijri month, 1 (Muharram) to 12 (Dhu al-Hijjah).
type Month int

const (
	Muharram Month = iota + 1
	Safar
	RabiAlAwwal
	RabiAlThani
	JumadaAlUla
	JumadaAlThani
	Rajab
	Shaban
	Ramadan
	Shawwal
	DhuAlQadah
	DhuAlHijjah
)

var monthNames = [...]string{
	"Muharram", "Safar", "Rabi al-Awwal", "Rabi al-Thani",
	"Jumada al-Ula", "Jumada al-Thani", "Rajab", "Shaban",
	"Ramadan", "Shawwal", "Dhu al-Qadah", "Dhu al-Hijjah",
}

func (m Month) String() string {
	if m < Muharram || m > DhuAlHijjah {
		return fmt.Sprintf("Month(%d)", int(m))
	}
	return monthNames[m-1]
}

// Date is a day in the Hijri calendar.
type Date struct {
	Year    int          `json:"year"`
	Month   Month        `json:"month"`
	Day     int          `json:"day"`
	Weekday time.Weekday `json:"weekday"`
}

// String formats the date as "1 Ramadan 1445 AH".
func (d Date) String() string {
	return fmt.Sprintf("%d %s %d AH", d.Day, d.Month, d.Year)
}

// IsLeapYear reports whether the Hijri year has 355 days.
func IsLeapYear(year int) bool {
	return mod(11*year+14, 30) < 11
}

// MonthLength returns the number of days in a Hijri month.
func MonthLength(year int, m Month) int {
	if m == DhuAlHijjah && IsLeapYear(year) {
		return 30
	}
	if m%2 == 1 {
		return 30
	}
	return 29
}

// Convert returns the Hijri date of t's calendar day in t's location.
func Convert(t time.Time) (Date, error) {
	y, m, d := t.Date()
	return FromJDN(gregorianToJDN(y, int(m), d))
}

// FromJDN converts a Julian day number.
func FromJDN(jdn int) (Date, error) {
	if jdn < epochJDN {
		return Date{}, fmt.Errorf("%w: julian day %d", ErrOutOfRange, jdn)
	}
	l := jdn - epochJDN + 10632
	n := (l - 1) / 10631
	l = l - 10631*n + 354
	j := ((10985-l)/5316)*((50*l)/17719) + (l/5670)*((43*l)/15238)
	l = l - ((30-j)/15)*((17719*j)/50) - (j/16)*((15238*j)/43) + 29
	month := (24 * l) / 709
	day := l - (709*month)/24
	year := 30*n + j - 30

	return Date{
		Year:    year,
		Month:   Month(month),
		Day:     day,
		Weekday: time.Weekday(mod(jdn+1, 7)),
	}, nil
}

// JDN returns the Julian day number of d.
func (d Date) JDN() int {
	return d.Day +
		(59*(int(d.Month)-1)+1)/2 + // ceil(29.5 * (month - 1))
		(d.Year-1)*354 +
		(3+11*d.Year)/30 +
		epochJDN - 1
}

// Gregorian returns midnight UTC of the Gregorian day matching d.
func (d Date) Gregorian() time.Time {
	y, m, day := jdnToGregorian(d.JDN())
	return time.Date(y, time.Month(m), day, 0, 0, 0, 0, time.UTC)
}

// New validates and builds a Hijri date.
func New(year int, month Month, day int) (Date, error) {
	if year < 1 {
		return Date{}, fmt.Errorf("%w: year %d", ErrOutOfRange, year)
	}
	if month < Muharram || month > DhuAlHijjah {
		return Date{}, fmt.Errorf("%w: month %d", ErrOutOfRange, int(month))
	}
	if day < 1 || day > MonthLength(year, month) {
		return Date{}, fmt.Errorf("%w: day %d of %s %d", ErrOutOfRange, day, month, year)
	}
	d := Date{Year: year, Month: month, Day: day}
	d.Weekday = time.Weekday(mod(d.JDN()+1, 7))
	return d, nil
}

// Event is a yearly Islamic observance.
type Event struct {
	Day   int    `json:"day"`
	Month Month  `json:"month"`
	Name  string `json:"name"`
}

// IsHoliday reports whether the observance is one of the two Eids.
func (e Event) IsHoliday() bool {
	return strings.Contains(e.Name, "Eid")
}

// Events lists the observances in calendar order.
var Events = []Event{
	{1, Muharram, "Islamic New Year"},
	{10, Muharram, "Day of Ashura"},
	{12, RabiAlAwwal, "Mawlid al-Nabi"},
	{27, Rajab, "Laylat al-Miraj"},
	{15, Shaban, "Laylat al-Bara'at"},
	{1, Ramadan, "First day of Ramadan"},
	{27, Ramadan, "Laylat al-Qadr"},
	{1, Shawwal, "Eid al-Fitr"},
	{8, DhuAlHijjah, "Day of Arafah"},
	{10, DhuAlHijjah, "Eid al-Adha"},
}

// EventFor returns the observance falling on d, if any.
func EventFor(d Date) (Event, bool) {
	for _, e := range Events {
		if e.Day == d.Day && e.Month == d.Month {
			return e, true
		}
	}
	return Event{}, false
}

// Occurrence is an observance in a given year.
type Occurrence struct {
	Event
	Date      Date      `json:"date"`
	Gregorian time.Time `json:"gregorian"`
	Holiday   bool      `json:"holiday"`
}

// YearlyEvents returns every observance of a Hijri year with its Gregorian
// date.
func YearlyEvents(year int) ([]Occurrence, error) {
	out := make([]Occurrence, 0, len(Events))
	for _, e := range Events {
		d, err := New(year, e.Month, e.Day)
		if err != nil {
			return nil, err
		}
		out = append(out, Occurrence{
			Event:     e,
			Date:      d,
			Gregorian: d.Gregorian(),
			Holiday:   e.IsHoliday(),
		})
	}
	return out, nil
}

func gregorianToJDN(y, m, d int) int {
	a := (14 - m) / 12
	y2 := y + 4800 - a
	m2 := m + 12*a - 3
	return d + (153*m2+2)/5 + 365*y2 + y2/4 - y2/100 + y2/400 - 32045
}

func jdnToGregorian(jdn int) (y, m, d int) {
	a := jdn + 32044
	b := (4*a + 3) / 146097
	c := a - 146097*b/4
	dd := (4*c + 3) / 1461
	e := c - 1461*dd/4
	mm := (5*e + 2) / 153
	d = e - (153*mm+2)/5 + 1
	m = mm + 3 - 12*(mm/10)
	y = 100*b + dd - 4800 + mm/10
	return y, m, d
}

func mod(a, b int) int {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
