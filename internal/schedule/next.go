package schedule

import (
	"fmt"
	"time"
)

// Weekly returns a NextFunc firing on day at timeOfDay ("HH:MM") in loc.
func Weekly(day time.Weekday, timeOfDay string, loc *time.Location) (NextFunc, error) {
	hour, minute, err := parseClock(timeOfDay)
	if err != nil {
		return nil, err
	}
	return func(now time.Time) (time.Time, error) {
		return nextWeekday(now.In(loc), day, hour, minute), nil
	}, nil
}

func nextWeekday(now time.Time, day time.Weekday, hour, minute int) time.Time {
	offset := (int(day) - int(now.Weekday()) + 7) % 7
	run := time.Date(now.Year(), now.Month(), now.Day()+offset, hour, minute, 0, 0, now.Location())
	if !run.After(now) {
		run = run.AddDate(0, 0, 7)
	}
	return run
}

func parseClock(timeOfDay string) (int, int, error) {
	t, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	return t.Hour(), t.Minute(), nil
}
