package availability

import (
	"time"

	"github.com/dteedee/medix/services/scheduling-service/internal/interval"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
)

// CivilDate reduces t to its calendar date, returned as midnight UTC.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// At places minute-of-day m of the civil date in loc. 1440 is the next midnight.
func At(date time.Time, m int, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, m, 0, 0, loc)
}

// DayBounds returns [00:00, next 00:00) of date in loc.
func DayBounds(date time.Time, loc *time.Location) interval.Range {
	return interval.Range{Start: At(date, 0, loc), End: At(date, model.MinutesPerDay, loc)}
}

// BaseWindows layers overrides on top of the weekly template for one date:
// available rules form the base, UNAVAILABILITY overrides are cut out, then
// available AVAILABILITY overrides are added and everything is merged.
// Overrides dated before today that are no longer available are ignored.
func BaseWindows(date time.Time, loc *time.Location, rules []model.WeeklyRule, overrides []model.ScheduleOverride, today time.Time) []interval.Range {
	var base []interval.Range
	for _, r := range rules {
		if !r.IsAvailable || r.Weekday != date.Weekday() || !model.ValidMinuteRange(r.StartMinute, r.EndMinute) {
			continue
		}
		base = append(base, interval.Range{Start: At(date, r.StartMinute, loc), End: At(date, r.EndMinute, loc)})
	}
	base = interval.Normalize(base)

	var extra []interval.Range
	for _, o := range overrides {
		if !CivilDate(o.Date).Equal(date) || !model.ValidMinuteRange(o.StartMinute, o.EndMinute) {
			continue
		}
		if o.Date.Before(today) && !o.IsAvailable {
			continue
		}
		rng := interval.Range{Start: At(date, o.StartMinute, loc), End: At(date, o.EndMinute, loc)}
		switch o.Kind {
		case model.OverrideUnavailability:
			base = interval.Subtract(base, rng)
		case model.OverrideAvailability:
			if o.IsAvailable {
				extra = append(extra, rng)
			}
		}
	}
	return interval.Union(base, extra)
}

// Compose subtracts the active appointments from the base windows.
func Compose(base []interval.Range, appts []model.Appointment) []interval.Range {
	cuts := make([]interval.Range, 0, len(appts))
	for _, a := range appts {
		if a.Status.Terminal() {
			continue
		}
		cuts = append(cuts, interval.Range{Start: a.StartTime, End: a.EndTime})
	}
	return interval.SubtractAll(base, cuts)
}

// SlotStarts returns start times within w where a booking of length duration fits,
// stepping by step and skipping starts before now.
func SlotStarts(w interval.Range, duration, step time.Duration, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 || w.Start.Add(duration).After(w.End) {
		return nil
	}
	var slots []time.Time
	for t := w.Start; !t.Add(duration).After(w.End); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}
