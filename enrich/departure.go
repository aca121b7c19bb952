package enrich

import (
	"time"

	"github.com/aluiziolira/otodombot/config"
)

// NextDeparture returns the next occurrence of weekday at hour:minute in loc,
// strictly after now. When now falls on weekday after that clock time, the
// result is a week later.
func NextDeparture(now time.Time, weekday time.Weekday, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	days := (int(weekday) - int(local.Weekday()) + 7) % 7
	candidate := time.Date(local.Year(), local.Month(), local.Day()+days, hour, minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+days+7, hour, minute, 0, 0, loc)
	}
	return candidate
}

// DepartureFor computes the next departure instant described by c.
func DepartureFor(now time.Time, c config.CommuteConfig) (time.Time, error) {
	hour, minute, err := c.Clock()
	if err != nil {
		return time.Time{}, err
	}
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	return NextDeparture(now, c.Weekday, hour, minute, loc), nil
}
