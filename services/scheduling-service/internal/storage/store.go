package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/outbox"
)

var (
	ErrNotFound = model.ErrNotFound
	// ErrOverlap means the no-overlap constraint on active appointments fired.
	ErrOverlap = errors.New("storage: overlapping appointment")
	// ErrRetryable covers serialization failures, deadlocks and lock timeouts.
	ErrRetryable = errors.New("storage: retryable")
	// ErrLockHeld is returned by ExpireOverrides when another instance owns the sweep.
	ErrLockHeld = errors.New("storage: sweep lock held elsewhere")
)

// Reader is the read side shared by Store and Tx.
type Reader interface {
	// ListWeeklyRules returns every rule of doctorID on weekday, ordered by start.
	ListWeeklyRules(ctx context.Context, doctorID string, weekday time.Weekday) ([]model.WeeklyRule, error)
	// ListOverrides returns every override of doctorID dated date.
	ListOverrides(ctx context.Context, doctorID string, date time.Time) ([]model.ScheduleOverride, error)
	// ListActiveAppointments returns non-terminal appointments intersecting [from, to).
	ListActiveAppointments(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
}

// Tx is a unit of work. Writes become visible when the InTx callback returns nil.
type Tx interface {
	Reader

	// LockDoctor serializes writers of one doctor's schedule until the tx ends.
	// Reads issued after it see everything the previous holder committed.
	LockDoctor(ctx context.Context, doctorID string) error

	InsertAppointment(ctx context.Context, a model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	InsertStatusHistory(ctx context.Context, h model.StatusHistory) error
	InsertEvent(ctx context.Context, evt outbox.Event) error

	InsertWeeklyRule(ctx context.Context, r model.WeeklyRule) error
	DeleteWeeklyRule(ctx context.Context, doctorID, id string) error
	InsertOverride(ctx context.Context, o model.ScheduleOverride) error
	DeleteOverride(ctx context.Context, doctorID, id string) error
}

type TxOptions struct {
	// LockTimeout bounds lock waits inside the tx; zero keeps the store default.
	LockTimeout time.Duration
}

type Store interface {
	Reader

	InTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error

	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID string) ([]model.Appointment, error)
	ListStatusHistory(ctx context.Context, appointmentID string) ([]model.StatusHistory, error)

	ListAllWeeklyRules(ctx context.Context, doctorID string) ([]model.WeeklyRule, error)
	ListOverridesBetween(ctx context.Context, doctorID string, from, to time.Time) ([]model.ScheduleOverride, error)

	// ExpireOverrides flips is_available to false on every override dated before today
	// that is still available, stamping updated_at with now. It returns the row count.
	ExpireOverrides(ctx context.Context, today, now time.Time) (int64, error)

	// ListRefundsToIssue returns pending refunds with a positive amount, a payment
	// reference and no refund reference yet.
	ListRefundsToIssue(ctx context.Context, limit int) ([]model.Appointment, error)
}

func notFound(entity, id string) error {
	return &model.NotFoundError{Entity: entity, ID: id}
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
	_ Tx    = (*pgTx)(nil)
	_ Tx    = (*memTx)(nil)
)
