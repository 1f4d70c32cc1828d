package util

import (
	"fmt"
	"time"
)

const unset = -1

// Window is the daily time of day a restore may start in. Either end may be
// open. A window whose end is not after its start wraps past midnight.
type Window struct {
	start, end int // minutes after midnight
	loc        *time.Location
}

// ParseWindow reads HH:MM bounds in tz (the local zone when empty).
func ParseWindow(start, end, tz string) (Window, error) {
	w := Window{start: unset, end: unset, loc: time.Local}
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Window{}, fmt.Errorf("invalid timezone: %w", err)
		}
		w.loc = loc
	}
	var err error
	if w.start, err = minuteOfDay(start); err != nil {
		return Window{}, fmt.Errorf("invalid window start: %w", err)
	}
	if w.end, err = minuteOfDay(end); err != nil {
		return Window{}, fmt.Errorf("invalid window end: %w", err)
	}
	return w, nil
}

func minuteOfDay(v string) (int, error) {
	if v == "" {
		return unset, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Unrestricted reports whether the window has no bounds.
func (w Window) Unrestricted() bool { return w.start == unset && w.end == unset }

// Contains reports whether t falls inside the window. Bounds are inclusive
// at minute resolution.
func (w Window) Contains(t time.Time) bool {
	if w.loc == nil {
		w.loc = time.Local
	}
	local := t.In(w.loc)
	m := local.Hour()*60 + local.Minute()
	switch {
	case w.Unrestricted():
		return true
	case w.end == unset:
		return m >= w.start
	case w.start == unset:
		return m <= w.end
	case w.end > w.start:
		return m >= w.start && m <= w.end
	default:
		return m >= w.start || m <= w.end
	}
}

// NextOpen returns t when the window contains it, otherwise the next time
// the window opens.
func (w Window) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	local := t.In(w.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.loc)
	if w.start == unset {
		return midnight.AddDate(0, 0, 1)
	}
	open := midnight.Add(time.Duration(w.start) * time.Minute)
	if open.Before(local) {
		open = open.AddDate(0, 0, 1)
	}
	return open
}

// InWindow parses the bounds and checks now against them.
func InWindow(now time.Time, start, end, tz string) (bool, error) {
	w, err := ParseWindow(start, end, tz)
	if err != nil {
		return false, err
	}
	return w.Contains(now), nil
}
