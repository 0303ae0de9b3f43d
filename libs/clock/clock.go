package clock

import (
	"sync"
	"time"
)

// Clock is the source of "now" for anything that depends on wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the real UTC clock.
func System() Clock { return systemClock{} }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	m.now = now.UTC()
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Today truncates t to midnight UTC.
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DateOf returns the UTC calendar date of t at 00:00.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateIn returns the calendar date of t as observed in loc, at 00:00 UTC.
// A nil loc means UTC.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return DateOf(t)
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}

// TodayIn is Today for a clinic in loc.
func TodayIn(c Clock, loc *time.Location) time.Time {
	return DateIn(c.Now(), loc)
}
