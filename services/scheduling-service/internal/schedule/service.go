// Package schedule manages a doctor's weekly template and date overrides.
package schedule

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dteedee/medix/libs/clock"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
	"github.com/google/uuid"
)

const (
	maxReasonLength = 500
	// maxOverrideRange bounds ListOverrides queries.
	maxOverrideRange = 366 * 24 * time.Hour
)

type Invalidator interface {
	Invalidate(ctx context.Context, doctorID string)
}

type Service struct {
	store  storage.Store
	cache  Invalidator
	clock  clock.Clock
	loc    *time.Location
	logger *slog.Logger
}

// NewService validates override dates against the calendar of loc, the clinic
// timezone. A nil loc means UTC.
func NewService(store storage.Store, cache Invalidator, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, cache: cache, clock: clk, loc: loc, logger: logger}
}

type RuleInput struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	IsAvailable bool
}

// PutWeeklyRule adds a recurring window. Windows of one doctor and weekday never
// overlap. Existing appointments are not re-validated.
func (s *Service) PutWeeklyRule(ctx context.Context, doctorID string, in RuleInput) (model.WeeklyRule, error) {
	doctorID = strings.TrimSpace(doctorID)
	switch {
	case doctorID == "":
		return model.WeeklyRule{}, model.Invalid("doctor_id", "is required")
	case in.Weekday < time.Sunday || in.Weekday > time.Saturday:
		return model.WeeklyRule{}, model.Invalid("day_of_week", "must be between 0 and 6")
	case !model.ValidMinuteRange(in.StartMinute, in.EndMinute):
		return model.WeeklyRule{}, model.Invalid("end_time", "window must satisfy 00:00 <= start < end <= 24:00")
	}

	rule := model.WeeklyRule{
		ID:          uuid.NewString(),
		DoctorID:    doctorID,
		Weekday:     in.Weekday,
		StartMinute: in.StartMinute,
		EndMinute:   in.EndMinute,
		IsAvailable: in.IsAvailable,
		CreatedAt:   s.clock.Now(),
	}
	err := s.store.InTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockDoctor(ctx, doctorID); err != nil {
			return err
		}
		existing, err := tx.ListWeeklyRules(ctx, doctorID, in.Weekday)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if model.MinutesOverlap(r.StartMinute, r.EndMinute, rule.StartMinute, rule.EndMinute) {
				return model.Invalid("start_time", "overlaps the %s-%s window on %s",
					model.FormatMinute(r.StartMinute), model.FormatMinute(r.EndMinute), r.Weekday)
			}
		}
		return tx.InsertWeeklyRule(ctx, rule)
	})
	if err != nil {
		return model.WeeklyRule{}, err
	}
	s.changed(ctx, doctorID, "weekly rule added", "rule_id", rule.ID)
	return rule, nil
}

func (s *Service) DeleteWeeklyRule(ctx context.Context, doctorID, ruleID string) error {
	if strings.TrimSpace(doctorID) == "" || strings.TrimSpace(ruleID) == "" {
		return model.Invalid("rule_id", "doctor and rule ids are required")
	}
	err := s.store.InTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteWeeklyRule(ctx, doctorID, ruleID)
	})
	if err != nil {
		return err
	}
	s.changed(ctx, doctorID, "weekly rule deleted", "rule_id", ruleID)
	return nil
}

func (s *Service) ListWeeklyRules(ctx context.Context, doctorID string) ([]model.WeeklyRule, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, model.Invalid("doctor_id", "is required")
	}
	return s.store.ListAllWeeklyRules(ctx, doctorID)
}

type OverrideInput struct {
	Date        time.Time
	StartMinute int
	EndMinute   int
	Kind        model.OverrideKind
	Reason      string
	// IsAvailable defaults to true for AVAILABILITY and false for UNAVAILABILITY.
	IsAvailable *bool
}

// CreateOverride adds a one-date exception. Same-kind overrides of one doctor
// and date never overlap. Dates before the clinic's today are rejected.
func (s *Service) CreateOverride(ctx context.Context, doctorID string, in OverrideInput) (model.ScheduleOverride, error) {
	doctorID = strings.TrimSpace(doctorID)
	kind := model.OverrideKind(strings.ToUpper(strings.TrimSpace(string(in.Kind))))
	reason := strings.TrimSpace(in.Reason)
	now := s.clock.Now()
	date := clock.DateOf(in.Date)
	switch {
	case doctorID == "":
		return model.ScheduleOverride{}, model.Invalid("doctor_id", "is required")
	case in.Date.IsZero():
		return model.ScheduleOverride{}, model.Invalid("date", "is required")
	case date.Before(clock.DateIn(now, s.loc)):
		return model.ScheduleOverride{}, model.Invalid("date", "must not be in the past")
	case !model.ValidMinuteRange(in.StartMinute, in.EndMinute):
		return model.ScheduleOverride{}, model.Invalid("end_time", "window must satisfy 00:00 <= start < end <= 24:00")
	case !kind.Valid():
		return model.ScheduleOverride{}, model.Invalid("override_type", "must be AVAILABILITY or UNAVAILABILITY")
	case len(reason) > maxReasonLength:
		return model.ScheduleOverride{}, model.Invalid("reason", "must be at most %d characters", maxReasonLength)
	}

	available := kind == model.OverrideAvailability
	if in.IsAvailable != nil {
		available = *in.IsAvailable
	}
	o := model.ScheduleOverride{
		ID:          uuid.NewString(),
		DoctorID:    doctorID,
		Date:        date,
		StartMinute: in.StartMinute,
		EndMinute:   in.EndMinute,
		IsAvailable: available,
		Kind:        kind,
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.InTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockDoctor(ctx, doctorID); err != nil {
			return err
		}
		existing, err := tx.ListOverrides(ctx, doctorID, date)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.Kind == kind && model.MinutesOverlap(e.StartMinute, e.EndMinute, o.StartMinute, o.EndMinute) {
				return model.Invalid("start_time", "overlaps existing %s override %s-%s",
					kind, model.FormatMinute(e.StartMinute), model.FormatMinute(e.EndMinute))
			}
		}
		return tx.InsertOverride(ctx, o)
	})
	if err != nil {
		return model.ScheduleOverride{}, err
	}
	s.changed(ctx, doctorID, "schedule override created", "override_id", o.ID, "date", date.Format(time.DateOnly), "kind", string(kind))
	return o, nil
}

func (s *Service) DeleteOverride(ctx context.Context, doctorID, overrideID string) error {
	if strings.TrimSpace(doctorID) == "" || strings.TrimSpace(overrideID) == "" {
		return model.Invalid("override_id", "doctor and override ids are required")
	}
	err := s.store.InTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteOverride(ctx, doctorID, overrideID)
	})
	if err != nil {
		return err
	}
	s.changed(ctx, doctorID, "schedule override deleted", "override_id", overrideID)
	return nil
}

// ListOverrides returns the doctor's overrides dated in [from, to).
func (s *Service) ListOverrides(ctx context.Context, doctorID string, from, to time.Time) ([]model.ScheduleOverride, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, model.Invalid("doctor_id", "is required")
	}
	from, to = clock.DateOf(from), clock.DateOf(to)
	if !from.Before(to) {
		return nil, model.Invalid("to", "must be after from")
	}
	if to.Sub(from) > maxOverrideRange {
		return nil, model.Invalid("to", "range may not exceed 366 days")
	}
	return s.store.ListOverridesBetween(ctx, doctorID, from, to)
}

func (s *Service) changed(ctx context.Context, doctorID, msg string, args ...any) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, doctorID)
	}
	s.logger.Info(msg, append([]any{"doctor_id", doctorID}, args...)...)
}
