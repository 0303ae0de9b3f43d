package availability

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dteedee/medix/libs/clock"
	"github.com/dteedee/medix/services/scheduling-service/internal/interval"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
)

// Cache stores composed windows per doctor and date. Implementations are best
// effort: a failed Get is a miss and a failed Set is dropped.
type Cache interface {
	// Get returns the cached windows and the doctor's current cache generation.
	Get(ctx context.Context, doctorID string, date time.Time) (windows []interval.Range, gen int64, ok bool)
	// Set stores windows computed while gen was current.
	Set(ctx context.Context, doctorID string, date time.Time, gen int64, windows []interval.Range)
	// Invalidate drops every cached date of the doctor.
	Invalidate(ctx context.Context, doctorID string) error
}

type Resolver struct {
	store  storage.Reader
	cache  Cache
	clock  clock.Clock
	loc    *time.Location
	logger *slog.Logger
}

type Config struct {
	// Location is the clinic timezone that rule and override minutes refer to.
	Location *time.Location
	Cache    Cache
}

func NewResolver(store storage.Reader, clk clock.Clock, logger *slog.Logger, cfg Config) *Resolver {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{store: store, cache: cfg.Cache, clock: clk, loc: loc, logger: logger}
}

func (r *Resolver) Location() *time.Location { return r.loc }

// ResolveSlots returns the ordered, disjoint windows in which doctorID can still be
// booked on date. No availability is an empty result, not an error.
func (r *Resolver) ResolveSlots(ctx context.Context, doctorID string, date time.Time) ([]interval.Range, error) {
	if err := validate(doctorID, date); err != nil {
		return nil, err
	}
	day := CivilDate(date)

	var gen int64
	if r.cache != nil {
		cached, g, ok := r.cache.Get(ctx, doctorID, day)
		if ok {
			return r.clip(cached), nil
		}
		gen = g
	}

	base, err := r.TemplateWindows(ctx, r.store, doctorID, day)
	if err != nil {
		return nil, err
	}
	bounds := DayBounds(day, r.loc)
	appts, err := r.store.ListActiveAppointments(ctx, doctorID, bounds.Start, bounds.End)
	if err != nil {
		return nil, err
	}
	windows := Compose(base, appts)

	if r.cache != nil {
		r.cache.Set(ctx, doctorID, day, gen, windows)
	}
	return r.clip(windows), nil
}

// clip drops the elapsed part of windows and reports them in clinic time.
func (r *Resolver) clip(windows []interval.Range) []interval.Range {
	return interval.In(interval.ClipBefore(windows, r.clock.Now()), r.loc)
}

// TemplateWindows is the weekly template plus overrides for date, without
// appointments. rd may be a transaction.
func (r *Resolver) TemplateWindows(ctx context.Context, rd storage.Reader, doctorID string, date time.Time) ([]interval.Range, error) {
	day := CivilDate(date)
	rules, err := rd.ListWeeklyRules(ctx, doctorID, day.Weekday())
	if err != nil {
		return nil, err
	}
	overrides, err := rd.ListOverrides(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	return BaseWindows(day, r.loc, rules, overrides, clock.TodayIn(r.clock, r.loc)), nil
}

// ResolveSlotStarts enumerates bookable start times of the given length. step
// defaults to duration.
func (r *Resolver) ResolveSlotStarts(ctx context.Context, doctorID string, date time.Time, duration, step time.Duration) ([]time.Time, error) {
	if duration <= 0 {
		return nil, model.Invalid("duration", "must be positive")
	}
	if step <= 0 {
		step = duration
	}
	windows, err := r.ResolveSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	var starts []time.Time
	for _, w := range windows {
		starts = append(starts, SlotStarts(w, duration, step, now)...)
	}
	return starts, nil
}

// Invalidate drops cached windows after a booking, transition or schedule edit.
func (r *Resolver) Invalidate(ctx context.Context, doctorID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, doctorID); err != nil {
		r.logger.Warn("slot cache invalidation failed", "doctor_id", doctorID, "err", err)
	}
}

func validate(doctorID string, date time.Time) error {
	if strings.TrimSpace(doctorID) == "" {
		return model.Invalid("doctor_id", "is required")
	}
	if date.IsZero() {
		return model.Invalid("date", "is required")
	}
	return nil
}
