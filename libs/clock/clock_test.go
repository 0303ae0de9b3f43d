package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceAndToday(t *testing.T) {
	c := NewManual(time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC))
	if got := Today(c); !got.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected today: %s", got)
	}
	c.Advance(time.Hour)
	if got := Today(c); !got.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected date rollover, got %s", got)
	}
}

func TestDateOf_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2026, 3, 10, 2, 0, 0, 0, loc)
	if got := DateOf(local); !got.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %s", got)
	}
}

func TestDateIn_UsesLocalCalendar(t *testing.T) {
	la := time.FixedZone("UTC-8", -8*3600)
	tokyo := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		loc  *time.Location
		want time.Time
	}{
		{"west of utc", la, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"east of utc", tokyo, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"nil is utc", nil, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DateIn(now, tc.loc); !got.Equal(tc.want) || got.Location() != time.UTC {
				t.Fatalf("DateIn = %s, want %s", got, tc.want)
			}
		})
	}
	if got := TodayIn(NewManual(now), la); !got.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("TodayIn = %s", got)
	}
}
