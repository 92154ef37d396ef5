package efi

import "time"

// Time is the EFI calendar time representation. Only the fields the
// driver populates are carried; time zone and daylight bytes are always
// left as "unspecified", which is what firmware expects from drivers
// that have no timezone source.
type Time struct {
	Year       uint16
	Month      uint8
	Day        uint8
	Hour       uint8
	Minute     uint8
	Second     uint8
	Nanosecond uint32
}

// IsZero reports whether t is the all-zero record, which the protocol
// uses in SetInfo to mean "leave this timestamp alone".
func (t Time) IsZero() bool {
	return t.Year == 0 && t.Month == 0 && t.Day == 0 &&
		t.Hour == 0 && t.Minute == 0 && t.Second == 0 && t.Nanosecond == 0
}

// FromUnixTime converts seconds since the Unix epoch to an EFI time.
// Negative values are not supported and produce the zero record, as in
// the original driver.
func FromUnixTime(sec int64) Time {
	var t Time
	if sec < 1 {
		return t
	}

	t.Second = uint8(sec % 60)
	sec /= 60
	t.Minute = uint8(sec % 60)
	sec /= 60
	t.Hour = uint8(sec % 24)
	sec /= 24

	// Civil-date conversion over the day count; January and February
	// count as months 13 and 14 of the previous year.
	a := uint32((4*sec+102032)/146097 + 15)
	b := uint32(sec + 2442113 + int64(a) - int64(a/4))
	c := (20*b - 2442) / 7305
	d := b - 365*c - c/4
	e := d * 1000 / 30601
	f := d - e*30 - e*601/1000

	if e <= 13 {
		c -= 4716
		e--
	} else {
		c -= 4715
		e -= 13
	}

	t.Year = uint16(c)
	t.Month = uint8(e)
	t.Day = uint8(f)
	return t
}

// UnixTime converts t back to seconds since the Unix epoch.
func (t Time) UnixTime() int64 {
	month, year := int64(t.Month), int64(t.Year)

	// 1..12 -> 11,12,1..10, putting February last since it has the
	// leap day.
	month -= 2
	if month <= 0 {
		month += 12
		year--
	}

	days := year/4 - year/100 + year/400 + 367*month/12 + int64(t.Day) +
		year*365 - 719499
	return ((days*24+int64(t.Hour))*60+int64(t.Minute))*60 + int64(t.Second)
}

// FromGoTime converts a Go time to an EFI time.
func FromGoTime(gt time.Time) Time {
	return FromUnixTime(gt.Unix())
}

// GoTime converts t to a Go time in UTC.
func (t Time) GoTime() time.Time {
	return time.Unix(t.UnixTime(), int64(t.Nanosecond)).UTC()
}
