// Package booking accepts or rejects new appointments against concurrent bookings.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dteedee/medix/libs/clock"
	otelx "github.com/dteedee/medix/libs/otel"
	"github.com/dteedee/medix/services/scheduling-service/internal/availability"
	"github.com/dteedee/medix/services/scheduling-service/internal/interval"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/outbox"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxAppointmentLength = 12 * time.Hour

type Request struct {
	PatientID       string
	DoctorID        string
	Start           time.Time
	End             time.Time
	PaymentMethod   string
	Currency        string
	ConsultationFee int64
	PlatformFee     int64
	Discount        int64
}

type Config struct {
	LockTimeout time.Duration
	// MaxAttempts bounds retries of lock timeouts and deadlocks.
	MaxAttempts int
	// EnforceAvailability rejects candidates outside the template and override windows.
	EnforceAvailability bool
	InitialBackoff      time.Duration
}

type Guard struct {
	store    storage.Store
	resolver *availability.Resolver
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      Config
}

func NewGuard(store storage.Store, resolver *availability.Resolver, clk clock.Clock, logger *slog.Logger, cfg Config) *Guard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 25 * time.Millisecond
	}
	return &Guard{
		store:    store,
		resolver: resolver,
		clock:    clk,
		logger:   logger,
		tracer:   otelx.Tracer("scheduling-service/booking"),
		cfg:      cfg,
	}
}

// TryBook creates a Scheduled appointment for [req.Start, req.End) unless a
// non-terminal appointment of the same doctor overlaps it. The overlap check and
// the insert share one transaction that holds the doctor's lock; retryable store
// failures are retried with backoff and surface as ConflictError{Busy} once
// attempts run out.
func (g *Guard) TryBook(ctx context.Context, req Request, actor model.Actor) (model.Appointment, error) {
	ctx, span := g.tracer.Start(ctx, "booking.TryBook", trace.WithAttributes(
		attribute.String("doctor_id", req.DoctorID),
		attribute.String("patient_id", req.PatientID),
	))
	defer span.End()

	now := g.clock.Now()
	if err := validate(req, now); err != nil {
		otelx.RecordError(span, err)
		return model.Appointment{}, err
	}
	if actor.ID == "" {
		actor = model.Actor{ID: req.PatientID, Role: model.RolePatient}
	}
	appt := newAppointment(req, now)

	attempt := 0
	op := func() (model.Appointment, error) {
		attempt++
		err := g.store.InTx(ctx, storage.TxOptions{LockTimeout: g.cfg.LockTimeout}, func(ctx context.Context, tx storage.Tx) error {
			return g.book(ctx, tx, appt, actor, now)
		})
		if err == nil {
			return appt, nil
		}
		if errors.Is(err, storage.ErrRetryable) {
			g.logger.Debug("booking attempt hit contention", "doctor_id", req.DoctorID, "attempt", attempt, "err", err)
			return model.Appointment{}, err
		}
		return model.Appointment{}, backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.cfg.InitialBackoff
	eb.MaxInterval = 20 * g.cfg.InitialBackoff
	booked, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(g.cfg.MaxAttempts)),
	)
	if err != nil {
		err = conflictFor(err)
		otelx.RecordError(span, err)
		if errors.Is(err, model.ErrBusy) {
			g.logger.Warn("booking gave up after contention", "doctor_id", req.DoctorID, "attempts", attempt)
		}
		return model.Appointment{}, err
	}

	g.resolver.Invalidate(ctx, booked.DoctorID)
	g.logger.Info("appointment booked",
		"appointment_id", booked.ID,
		"doctor_id", booked.DoctorID,
		"patient_id", booked.PatientID,
		"start_time", booked.StartTime.Format(time.RFC3339),
	)
	return booked, nil
}

func (g *Guard) book(ctx context.Context, tx storage.Tx, appt model.Appointment, actor model.Actor, now time.Time) error {
	if err := tx.LockDoctor(ctx, appt.DoctorID); err != nil {
		return err
	}
	if g.cfg.EnforceAvailability {
		ok, err := g.withinAvailability(ctx, tx, appt)
		if err != nil {
			return err
		}
		if !ok {
			return model.Invalid("start_time", "requested time is outside the doctor's availability")
		}
	}

	existing, err := tx.ListActiveAppointments(ctx, appt.DoctorID, appt.StartTime, appt.EndTime)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return &model.ConflictError{Reason: model.SlotTaken}
	}

	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return err
	}
	if err := tx.InsertStatusHistory(ctx, model.StatusHistory{
		ID:            uuid.NewString(),
		AppointmentID: appt.ID,
		NewStatus:     model.StatusScheduled,
		ChangedBy:     actor.ID,
		ChangedByRole: actor.Role,
		Reason:        "booked",
		ChangedAt:     now,
	}); err != nil {
		return err
	}
	evt, err := outbox.AppointmentBooked(appt, actor, now)
	if err != nil {
		return err
	}
	return tx.InsertEvent(ctx, evt)
}

// withinAvailability checks the candidate against the template and override
// windows of every clinic-local date it touches.
func (g *Guard) withinAvailability(ctx context.Context, tx storage.Tx, appt model.Appointment) (bool, error) {
	loc := g.resolver.Location()
	first := availability.CivilDate(appt.StartTime.In(loc))
	last := availability.CivilDate(appt.EndTime.Add(-time.Nanosecond).In(loc))

	var windows []interval.Range
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		w, err := g.resolver.TemplateWindows(ctx, tx, appt.DoctorID, d)
		if err != nil {
			return false, err
		}
		windows = append(windows, w...)
	}
	return interval.Covers(windows, interval.Range{Start: appt.StartTime, End: appt.EndTime}), nil
}

func conflictFor(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	switch {
	case errors.Is(err, storage.ErrOverlap):
		return &model.ConflictError{Reason: model.SlotTaken, Err: err}
	case errors.Is(err, storage.ErrRetryable):
		return &model.ConflictError{Reason: model.Busy, Err: err}
	}
	return err
}

func validate(req Request, now time.Time) error {
	switch {
	case strings.TrimSpace(req.PatientID) == "":
		return model.Invalid("patient_id", "is required")
	case strings.TrimSpace(req.DoctorID) == "":
		return model.Invalid("doctor_id", "is required")
	case req.Start.IsZero() || req.End.IsZero():
		return model.Invalid("start_time", "start and end are required")
	case !req.Start.Before(req.End):
		return model.Invalid("end_time", "must be after start_time")
	case req.End.Sub(req.Start) > maxAppointmentLength:
		return model.Invalid("end_time", "appointment may not exceed %s", maxAppointmentLength)
	case !req.Start.After(now):
		return model.Invalid("start_time", "must be in the future")
	case req.ConsultationFee < 0 || req.PlatformFee < 0 || req.Discount < 0:
		return model.Invalid("fees", "amounts must not be negative")
	case model.TotalFor(req.ConsultationFee, req.PlatformFee, req.Discount) < 0:
		return model.Invalid("discount", "exceeds consultation and platform fees")
	}
	return nil
}

func newAppointment(req Request, now time.Time) model.Appointment {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}
	return model.Appointment{
		ID:              uuid.NewString(),
		PatientID:       strings.TrimSpace(req.PatientID),
		DoctorID:        strings.TrimSpace(req.DoctorID),
		StartTime:       req.Start.UTC(),
		EndTime:         req.End.UTC(),
		Status:          model.StatusScheduled,
		PaymentStatus:   model.PaymentUnpaid,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		Currency:        currency,
		ConsultationFee: req.ConsultationFee,
		PlatformFee:     req.PlatformFee,
		Discount:        req.Discount,
		TotalAmount:     model.TotalFor(req.ConsultationFee, req.PlatformFee, req.Discount),
		RefundStatus:    model.RefundNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
