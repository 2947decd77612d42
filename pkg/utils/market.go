package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// DateLayout is the calendar date format used for trading days.
const DateLayout = "2006-01-02"

// TradingDate returns the IST calendar date of t.
func TradingDate(t time.Time) string {
	return t.In(IndiaLocation).Format(DateLayout)
}

// ClockMinutes returns minutes since IST midnight.
func ClockMinutes(t time.Time) int {
	ist := t.In(IndiaLocation)
	return ist.Hour()*60 + ist.Minute()
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsWeekday reports whether t falls on an IST weekday.
func IsWeekday(t time.Time) bool {
	wd := t.In(IndiaLocation).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsEquitySessionOpen reports whether NSE/BSE cash and F&O trade at t.
func IsEquitySessionOpen(t time.Time) bool {
	m := ClockMinutes(t)
	return IsWeekday(t) && m >= 9*60+15 && m < 15*60+30
}

// IsCommoditySessionOpen reports whether MCX trades at t.
func IsCommoditySessionOpen(t time.Time) bool {
	m := ClockMinutes(t)
	return IsWeekday(t) && m >= 9*60 && m < 23*60+30
}
