package efi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromUnixTime(t *testing.T) {
	cases := []struct {
		name string
		sec  int64
		want Time
	}{
		{"epoch day one", 86400, Time{Year: 1970, Month: 1, Day: 2}},
		{"y2k", 946684800, Time{Year: 2000, Month: 1, Day: 1}},
		{"leap day", 1078012800, Time{Year: 2004, Month: 2, Day: 29}},
		{"with clock", 981173106, Time{
			Year: 2001, Month: 2, Day: 3, Hour: 4, Minute: 5, Second: 6,
		}},
		{"past 2038", 2524608000, Time{Year: 2050, Month: 1, Day: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FromUnixTime(tc.sec))
		})
	}
}

func TestUnixTimeRoundTrip(t *testing.T) {
	for _, sec := range []int64{86400, 946684800, 981173106, 1078012800, 2524608000} {
		assert.Equal(t, sec, FromUnixTime(sec).UnixTime(), "sec=%d", sec)
	}
}

func TestNegativeAndZero(t *testing.T) {
	assert.True(t, FromUnixTime(0).IsZero())
	assert.True(t, FromUnixTime(-1).IsZero())
}

func TestGoTimeConversion(t *testing.T) {
	gt := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, gt, FromGoTime(gt).GoTime())
}
