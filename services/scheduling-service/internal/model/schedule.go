package model

import (
	"fmt"
	"time"
)

const MinutesPerDay = 24 * 60

// WeeklyRule is a recurring window on one weekday, in clinic-local minutes from midnight.
type WeeklyRule struct {
	ID          string
	DoctorID    string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	IsAvailable bool
	CreatedAt   time.Time
}

type OverrideKind string

const (
	OverrideAvailability   OverrideKind = "AVAILABILITY"
	OverrideUnavailability OverrideKind = "UNAVAILABILITY"
)

func (k OverrideKind) Valid() bool {
	return k == OverrideAvailability || k == OverrideUnavailability
}

// ScheduleOverride applies to one calendar date. Date is midnight UTC of that date;
// minutes are interpreted in the clinic timezone.
type ScheduleOverride struct {
	ID          string
	DoctorID    string
	Date        time.Time
	StartMinute int
	EndMinute   int
	IsAvailable bool
	Kind        OverrideKind
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func ValidMinuteRange(start, end int) bool {
	return start >= 0 && end <= MinutesPerDay && start < end
}

// MinutesOverlap is half-open: touching windows do not overlap.
func MinutesOverlap(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// FormatMinute renders 540 as "09:00".
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseMinute accepts "HH:MM"; "24:00" is allowed as an end of day.
func ParseMinute(raw string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(raw, "%d:%d", &h, &m); err != nil || len(raw) != 5 {
		return 0, fmt.Errorf("invalid time of day %q", raw)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q", raw)
	}
	return h*60 + m, nil
}
