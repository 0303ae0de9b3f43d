package availability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dteedee/medix/libs/clock"
	"github.com/dteedee/medix/services/scheduling-service/internal/interval"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *storage.Memory
	clock *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store: storage.NewMemory(),
		clock: clock.NewManual(monday.AddDate(0, 0, -1).Add(8 * time.Hour)),
	}
}

func (f *fixture) seed(t *testing.T, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	if err := f.store.InTx(context.Background(), storage.TxOptions{}, fn); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) resolver(cache Cache) *Resolver {
	return NewResolver(f.store, f.clock, discard(), Config{Location: time.UTC, Cache: cache})
}

func mondayRule(start, end int) model.WeeklyRule {
	return model.WeeklyRule{ID: "rule-" + model.FormatMinute(start), DoctorID: "doc-1", Weekday: time.Monday, StartMinute: start, EndMinute: end, IsAvailable: true}
}

func assertWindows(t *testing.T, got []interval.Range, want ...interval.Range) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d windows %v, want %v", len(got), got, want)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("window %d: got %v-%v, want %v-%v", i, got[i].Start, got[i].End, want[i].Start, want[i].End)
		}
	}
}

func rng(h1, m1, h2, m2 int) interval.Range {
	return interval.Range{Start: at(h1, m1), End: at(h2, m2)}
}

func seedMorningWithBooking(t *testing.T, f *fixture) {
	f.seed(t, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertWeeklyRule(ctx, mondayRule(9*60, 12*60)); err != nil {
			return err
		}
		return tx.InsertAppointment(ctx, model.Appointment{
			ID: "appt-1", PatientID: "pat-1", DoctorID: "doc-1",
			StartTime: at(10, 0), EndTime: at(10, 30), Status: model.StatusScheduled,
		})
	})
}

func TestResolveSlots_SubtractsBookedAppointment(t *testing.T) {
	f := newFixture(t)
	seedMorningWithBooking(t, f)

	got, err := f.resolver(nil).ResolveSlots(context.Background(), "doc-1", monday)
	if err != nil {
		t.Fatalf("ResolveSlots: %v", err)
	}
	assertWindows(t, got, rng(9, 0, 10, 0), rng(10, 30, 12, 0))
}

func TestResolveSlots_UnavailabilityOverrideCutsWindow(t *testing.T) {
	f := newFixture(t)
	seedMorningWithBooking(t, f)
	f.seed(t, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertOverride(ctx, model.ScheduleOverride{
			ID: "ovr-1", DoctorID: "doc-1", Date: monday, StartMinute: 11 * 60, EndMinute: 12 * 60,
			Kind: model.OverrideUnavailability,
		})
	})

	got, err := f.resolver(nil).ResolveSlots(context.Background(), "doc-1", monday)
	if err != nil {
		t.Fatalf("ResolveSlots: %v", err)
	}
	assertWindows(t, got, rng(9, 0, 10, 0), rng(10, 30, 11, 0))
}

func TestResolveSlots_OverrideOnlyDay(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertOverride(ctx, model.ScheduleOverride{
			ID: "ovr-1", DoctorID: "doc-1", Date: monday, StartMinute: 14 * 60, EndMinute: 16 * 60,
			Kind: model.OverrideAvailability, IsAvailable: true,
		})
	})
	got, err := f.resolver(nil).ResolveSlots(context.Background(), "doc-1", monday)
	if err != nil {
		t.Fatalf("ResolveSlots: %v", err)
	}
	assertWindows(t, got, rng(14, 0, 16, 0))
}

func TestResolveSlots_AvailabilityOverrideMergesWithTemplate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertWeeklyRule(ctx, mondayRule(9*60, 12*60)); err != nil {
			return err
		}
		return tx.InsertOverride(ctx, model.ScheduleOverride{
			ID: "ovr-1", DoctorID: "doc-1", Date: monday, StartMinute: 12 * 60, EndMinute: 13 * 60,
			Kind: model.OverrideAvailability, IsAvailable: true,
		})
	})
	got, _ := f.resolver(nil).ResolveSlots(context.Background(), "doc-1", monday)
	assertWindows(t, got, rng(9, 0, 13, 0))
}

func TestResolveSlots_IgnoresDeactivatedAvailabilityOverride(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertOverride(ctx, model.ScheduleOverride{
			ID: "ovr-1", DoctorID: "doc-1", Date: monday, StartMinute: 14 * 60, EndMinute: 16 * 60,
			Kind: model.OverrideAvailability, IsAvailable: false,
		})
	})
	got, _ := f.resolver(nil).ResolveSlots(context.Background(), "doc-1", monday)
	if len(got) != 0 {
		t.Fatalf("deactivated override must not add availability, got %v", got)
	}
}

func TestResolveSlots_NoRulesIsEmptyNotError(t *testing.T) {
	f := newFixture(t)
	got, err := f.resolver(nil).ResolveSlots(context.Background(), "doc-1", monday)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v (err=%v)", got, err)
	}
}

func TestResolveSlots_ClipsPast(t *testing.T) {
	f := newFixture(t)
	seedMorningWithBooking(t, f)
	f.clock.Set(at(9, 40))
	got, _ := f.resolver(nil).ResolveSlots(context.Background(), "doc-1", monday)
	assertWindows(t, got, rng(9, 40, 10, 0), rng(10, 30, 12, 0))
}

func TestResolveSlots_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver(nil).ResolveSlots(context.Background(), " ", monday)
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveSlots_ClinicTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+6", 6*3600)
	f := newFixture(t)
	f.seed(t, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertWeeklyRule(ctx, mondayRule(9*60, 10*60))
	})
	r := NewResolver(f.store, f.clock, discard(), Config{Location: loc})
	got, _ := r.ResolveSlots(context.Background(), "doc-1", monday)
	want := interval.Range{Start: at(3, 0), End: at(4, 0)}
	assertWindows(t, got, want)
	if got[0].Start.Location() != loc || got[0].End.Location() != loc {
		t.Fatalf("windows should be reported in clinic time: %v", got)
	}
}

func TestBaseWindows_RandomDisjoint(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	for i := 0; i < 300; i++ {
		var rules []model.WeeklyRule
		var overrides []model.ScheduleOverride
		var appts []model.Appointment
		for j := 0; j < rnd.Intn(4); j++ {
			s := rnd.Intn(1200)
			rules = append(rules, model.WeeklyRule{Weekday: time.Monday, StartMinute: s, EndMinute: s + 1 + rnd.Intn(200), IsAvailable: true})
		}
		for j := 0; j < rnd.Intn(4); j++ {
			s := rnd.Intn(1200)
			kind := model.OverrideAvailability
			if rnd.Intn(2) == 0 {
				kind = model.OverrideUnavailability
			}
			overrides = append(overrides, model.ScheduleOverride{Date: monday, StartMinute: s, EndMinute: s + 1 + rnd.Intn(200), Kind: kind, IsAvailable: kind == model.OverrideAvailability})
		}
		for j := 0; j < rnd.Intn(4); j++ {
			s := monday.Add(time.Duration(rnd.Intn(1400)) * time.Minute)
			appts = append(appts, model.Appointment{StartTime: s, EndTime: s.Add(30 * time.Minute), Status: model.StatusScheduled})
		}
		got := Compose(BaseWindows(monday, time.UTC, rules, overrides, monday), appts)
		for k := 1; k < len(got); k++ {
			if !got[k-1].End.Before(got[k].Start) {
				t.Fatalf("windows not disjoint and ordered: %v", got)
			}
		}
	}
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]interval.Range
	gens    map[string]int64
	hits    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]interval.Range{}, gens: map[string]int64{}}
}

func (c *fakeCache) key(doctorID string, gen int64, date time.Time) string {
	return fmt.Sprintf("%s|%d|%s", doctorID, gen, date.Format(time.DateOnly))
}

func (c *fakeCache) Get(_ context.Context, doctorID string, date time.Time) ([]interval.Range, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[doctorID]
	w, ok := c.entries[c.key(doctorID, gen, date)]
	if ok {
		c.hits++
	}
	return w, gen, ok
}

func (c *fakeCache) Set(_ context.Context, doctorID string, date time.Time, gen int64, windows []interval.Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(doctorID, gen, date)] = windows
}

func (c *fakeCache) Invalidate(_ context.Context, doctorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[doctorID]++
	return nil
}

func TestResolveSlots_CacheAndInvalidate(t *testing.T) {
	f := newFixture(t)
	seedMorningWithBooking(t, f)
	cache := newFakeCache()
	r := f.resolver(cache)
	ctx := context.Background()

	if _, err := r.ResolveSlots(ctx, "doc-1", monday); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := r.ResolveSlots(ctx, "doc-1", monday); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("expected one cache hit, got %d", cache.hits)
	}

	f.seed(t, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertAppointment(ctx, model.Appointment{
			ID: "appt-2", DoctorID: "doc-1", StartTime: at(9, 0), EndTime: at(9, 30), Status: model.StatusScheduled,
		})
	})
	r.Invalidate(ctx, "doc-1")
	got, _ := r.ResolveSlots(ctx, "doc-1", monday)
	assertWindows(t, got, rng(9, 30, 10, 0), rng(10, 30, 12, 0))
}

func TestSlotStarts(t *testing.T) {
	w := rng(9, 0, 10, 0)
	slots := SlotStarts(w, 15*time.Minute, 15*time.Minute, monday)
	if len(slots) != 4 || !slots[3].Equal(at(9, 45)) {
		t.Fatalf("unexpected slots %v", slots)
	}
	// 09:00, 09:15, 09:30 start before now.
	slots = SlotStarts(w, 15*time.Minute, 15*time.Minute, at(9, 31))
	if len(slots) != 1 || !slots[0].Equal(at(9, 45)) {
		t.Fatalf("unexpected slots after clipping %v", slots)
	}
}

func TestResolveSlotStarts(t *testing.T) {
	f := newFixture(t)
	seedMorningWithBooking(t, f)
	starts, err := f.resolver(nil).ResolveSlotStarts(context.Background(), "doc-1", monday, 30*time.Minute, 0)
	if err != nil {
		t.Fatalf("ResolveSlotStarts: %v", err)
	}
	// 09:00, 09:30, then 10:30, 11:00, 11:30.
	if len(starts) != 5 || !starts[2].Equal(at(10, 30)) {
		t.Fatalf("unexpected starts %v", starts)
	}
	if _, err := f.resolver(nil).ResolveSlotStarts(context.Background(), "doc-1", monday, 0, 0); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for zero duration, got %v", err)
	}
}

func TestBaseWindows_PastDatedInactiveOverrideIgnored(t *testing.T) {
	rules := []model.WeeklyRule{mondayRule(9*60, 12*60)}
	overrides := []model.ScheduleOverride{{
		Date: monday, StartMinute: 11 * 60, EndMinute: 12 * 60,
		Kind: model.OverrideUnavailability, IsAvailable: false,
	}}
	tuesday := monday.AddDate(0, 0, 1)
	assertWindows(t, BaseWindows(monday, time.UTC, rules, overrides, tuesday), rng(9, 0, 12, 0))
	assertWindows(t, BaseWindows(monday, time.UTC, rules, overrides, monday), rng(9, 0, 11, 0))
}
